package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// FeeQuoter prices a prospective trade against a fair value.
type FeeQuoter interface {
	Fee(contracts, priceCents int64, ticker string) (int64, error)
	MakerFee(contracts, priceCents int64, ticker string) (int64, error)
	Category(ticker string) string
	IsProfitableAfterFees(contracts, tradeCents, theoreticalCents int64, ticker string, action domain.OrderAction, maker bool) (bool, error)
}

// FeeHandler serves fee quotes.
type FeeHandler struct {
	fees   FeeQuoter
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(fees FeeQuoter, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, logger: logHandler(logger, "fees")}
}

// Profitability reports whether a trade clears its fee.
// GET /api/fees/profitability?contracts=10&price=40&theoretical=50&ticker=X&action=buy&maker=false
func (h *FeeHandler) Profitability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ints := make(map[string]int64, 3)
	for _, name := range []string{"contracts", "price", "theoretical"} {
		v, err := strconv.ParseInt(q.Get(name), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an integer")
			return
		}
		ints[name] = v
	}
	maker := false
	if v := q.Get("maker"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "maker must be a boolean")
			return
		}
		maker = b
	}
	ticker := q.Get("ticker")
	action := domain.OrderAction(q.Get("action"))

	profitable, err := h.fees.IsProfitableAfterFees(ints["contracts"], ints["price"], ints["theoretical"], ticker, action, maker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := h.fees.Fee(ints["contracts"], ints["price"], ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	makerFee, err := h.fees.MakerFee(ints["contracts"], ints["price"], ticker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":          ticker,
		"category":        h.fees.Category(ticker),
		"taker_fee_cents": fee,
		"maker_fee_cents": makerFee,
		"profitable":      profitable,
	})
}
