package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
	ErrDuplicateOrder = errors.New("duplicate client order id")
)

// ValidationError is a pre-flight rejection of an order request. No exchange
// call has been made when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// DataIntegrityError reports an exchange payload that failed strict parsing.
type DataIntegrityError struct {
	Field   string
	Message string
	Value   any
}

func (e *DataIntegrityError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("data integrity: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("data integrity: %s: %s (got %v)", e.Field, e.Message, e.Value)
}

// OrderPollingError is a fatal failure while resolving fills or cancelling.
type OrderPollingError struct {
	OrderID string
	Stage   string
	Message string
	Err     error
}

func (e *OrderPollingError) Error() string {
	msg := fmt.Sprintf("order polling: order %s: %s: %s", e.OrderID, e.Stage, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderPollingError) Unwrap() error { return e.Err }

// TradePersistenceError means a trade record was not durably stored.
type TradePersistenceError struct {
	OrderID string
	Ticker  string
	Message string
	Err     error
}

func (e *TradePersistenceError) Error() string {
	msg := fmt.Sprintf("trade persistence: order %s (%s): %s", e.OrderID, e.Ticker, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TradePersistenceError) Unwrap() error { return e.Err }

// TradeNotificationError means a trade was persisted but listeners were not
// told about it.
type TradeNotificationError struct {
	OrderID string
	Message string
	Err     error
}

func (e *TradeNotificationError) Error() string {
	msg := fmt.Sprintf("trade notification: order %s: %s", e.OrderID, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TradeNotificationError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or malformed configuration section.
type ConfigurationError struct {
	Section string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Section, e.Message)
}

// OrderRejectedError is returned when the exchange rejects an order outright.
type OrderRejectedError struct {
	OrderID string
	Reason  string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order %s rejected by exchange: %s", e.OrderID, e.Reason)
}

// Stable error codes reported per item by batch submission.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeDataIntegrity     = "DATA_INTEGRITY_ERROR"
	CodeOrderPolling      = "ORDER_POLLING_ERROR"
	CodeTradePersistence  = "TRADE_PERSISTENCE_ERROR"
	CodeTradeNotification = "TRADE_NOTIFICATION_ERROR"
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeRejected          = "ORDER_REJECTED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeDuplicate         = "DUPLICATE_ORDER"
	CodeUnknown           = "EXECUTION_ERROR"
)

// ErrorCode maps err to its stable code.
func ErrorCode(err error) string {
	var (
		validation   *ValidationError
		integrity    *DataIntegrityError
		polling      *OrderPollingError
		persistence  *TradePersistenceError
		notification *TradeNotificationError
		configErr    *ConfigurationError
		rejected     *OrderRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &integrity):
		return CodeDataIntegrity
	case errors.As(err, &polling):
		return CodeOrderPolling
	case errors.As(err, &persistence):
		return CodeTradePersistence
	case errors.As(err, &notification):
		return CodeTradeNotification
	case errors.As(err, &configErr):
		return CodeConfiguration
	case errors.As(err, &rejected):
		return CodeRejected
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrLockHeld), errors.Is(err, ErrDuplicateOrder):
		return CodeDuplicate
	default:
		return CodeUnknown
	}
}
