package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names for an authenticated exchange request.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

// Signer produces RSA-PSS-SHA256 request signatures over
// timestamp + method + path.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner creates a Signer for the API key keyID.
func NewSigner(keyID string, key *rsa.PrivateKey) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("crypto: api key id must not be empty")
	}
	if key == nil {
		return nil, errors.New("crypto: RSA private key not configured")
	}
	return &Signer{keyID: keyID, key: key, now: time.Now}, nil
}

// Sign returns the base64 signature and the millisecond timestamp it covers.
// The query string is not part of the signed path.
func (s *Signer) Sign(method, path string) (signature, timestamp string, err error) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	timestamp = strconv.FormatInt(s.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(timestamp + method + path))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(sig), timestamp, nil
}

// SignRequest sets the authentication headers on req. path is the path the
// exchange sees, including any API prefix.
func (s *Signer) SignRequest(req *http.Request, path string) error {
	sig, ts, err := s.Sign(req.Method, path)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAccessKey, s.keyID)
	req.Header.Set(HeaderAccessSignature, sig)
	req.Header.Set(HeaderAccessTimestamp, ts)
	return nil
}

// Verify checks a signature produced by Sign against the public half of the
// key.
func Verify(pub *rsa.PublicKey, method, path, timestamp, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}
	hash := sha256.Sum256([]byte(timestamp + method + path))
	return rsa.VerifyPSS(pub, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}
