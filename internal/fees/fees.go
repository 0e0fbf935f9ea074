// Package fees computes exchange trading fees in whole cents.
//
// The exchange charges coeff × contracts × p × (1 − p) dollars, where p is the
// contract price in dollars. The cent amount is rounded to ten decimal places
// to discard binary floating point noise and then always rounded up.
package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mahrens917/common-sub001/internal/domain"
)

// noisePlaces is the number of decimal places kept before rounding up.
const noisePlaces = 10

// Rates holds the taker and maker coefficients of one fee category. Both are
// required.
type Rates struct {
	Taker *float64
	Maker *float64
}

// Category applies its rates to tickers starting with any of Prefixes.
type Category struct {
	Name     string
	Prefixes []string
	Rates    Rates
}

// Schedule is the fee table. General applies to tickers matching no category.
type Schedule struct {
	General    *Rates
	Categories []Category
}

type rates struct{ taker, maker float64 }

type category struct {
	name     string
	prefixes []string
	rates    rates
}

// Calculator is immutable and safe for concurrent use.
type Calculator struct {
	general    rates
	categories []category
}

func checkRates(section string, r Rates) (rates, error) {
	if r.Taker == nil {
		return rates{}, &domain.ConfigurationError{Section: section, Message: "taker coefficient is required"}
	}
	if r.Maker == nil {
		return rates{}, &domain.ConfigurationError{Section: section, Message: "maker coefficient is required"}
	}
	if *r.Taker < 0 || *r.Maker < 0 {
		return rates{}, &domain.ConfigurationError{Section: section, Message: "coefficients must not be negative"}
	}
	return rates{taker: *r.Taker, maker: *r.Maker}, nil
}

// NewCalculator validates s. Missing sections or coefficients are reported as
// *domain.ConfigurationError.
func NewCalculator(s Schedule) (*Calculator, error) {
	if s.General == nil {
		return nil, &domain.ConfigurationError{Section: "fees.general", Message: "section is required"}
	}
	general, err := checkRates("fees.general", *s.General)
	if err != nil {
		return nil, err
	}

	cats := make([]category, 0, len(s.Categories))
	for i, c := range s.Categories {
		section := fmt.Sprintf("fees.categories[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			return nil, &domain.ConfigurationError{Section: section, Message: "name is required"}
		}
		if len(c.Prefixes) == 0 {
			return nil, &domain.ConfigurationError{Section: section, Message: "at least one prefix is required for " + c.Name}
		}
		r, err := checkRates(section, c.Rates)
		if err != nil {
			return nil, err
		}
		prefixes := make([]string, 0, len(c.Prefixes))
		for _, p := range c.Prefixes {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p == "" {
				return nil, &domain.ConfigurationError{Section: section, Message: "empty prefix for " + c.Name}
			}
			prefixes = append(prefixes, p)
		}
		cats = append(cats, category{name: c.Name, prefixes: prefixes, rates: r})
	}
	return &Calculator{general: general, categories: cats}, nil
}

// Category returns the name of the fee category ticker falls into.
// Categories are matched case-insensitively in declaration order.
func (c *Calculator) Category(ticker string) string {
	_, name := c.lookup(ticker)
	return name
}

func (c *Calculator) lookup(ticker string) (rates, string) {
	upper := strings.ToUpper(ticker)
	for _, cat := range c.categories {
		for _, p := range cat.prefixes {
			if strings.HasPrefix(upper, p) {
				return cat.rates, cat.name
			}
		}
	}
	return c.general, "general"
}

// Fee returns the fee in cents for taking liquidity.
func (c *Calculator) Fee(contracts, priceCents int64, ticker string) (int64, error) {
	r, _ := c.lookup(ticker)
	return compute(r.taker, contracts, priceCents)
}

// MakerFee returns the fee in cents for an order that rested on the book.
func (c *Calculator) MakerFee(contracts, priceCents int64, ticker string) (int64, error) {
	r, _ := c.lookup(ticker)
	return compute(r.maker, contracts, priceCents)
}

func compute(coeff float64, contracts, priceCents int64) (int64, error) {
	if contracts < 0 {
		return 0, fmt.Errorf("fees: contracts must not be negative, got %d", contracts)
	}
	if priceCents < 0 {
		return 0, fmt.Errorf("fees: price must not be negative, got %d", priceCents)
	}
	if priceCents > domain.MaxPriceCents {
		return 0, fmt.Errorf("fees: price must not exceed %d cents, got %d", domain.MaxPriceCents, priceCents)
	}
	if contracts == 0 || priceCents == 0 {
		return 0, nil
	}

	p := float64(priceCents) / 100
	feeDollars := coeff * float64(contracts) * p * (1 - p)
	return ceilCents(decimal.NewFromFloat(feeDollars * 100)), nil
}

// ceilCents rounds away float noise half-to-even at noisePlaces, then rounds
// up to a whole cent.
func ceilCents(cents decimal.Decimal) int64 {
	return cents.RoundBank(noisePlaces).Ceil().IntPart()
}

// IsProfitableAfterFees reports whether trading contracts at tradeCents
// clears the fee against a fair value of theoreticalCents. Fees from earlier
// legs are sunk and ignored.
func (c *Calculator) IsProfitableAfterFees(contracts, tradeCents, theoreticalCents int64, ticker string, action domain.OrderAction, maker bool) (bool, error) {
	if theoreticalCents < 0 {
		return false, fmt.Errorf("fees: theoretical price must not be negative, got %d", theoreticalCents)
	}
	var (
		fee int64
		err error
	)
	if maker {
		fee, err = c.MakerFee(contracts, tradeCents, ticker)
	} else {
		fee, err = c.Fee(contracts, tradeCents, ticker)
	}
	if err != nil {
		return false, err
	}

	var gross int64
	switch action {
	case domain.OrderActionBuy:
		gross = (theoreticalCents - tradeCents) * contracts
	case domain.OrderActionSell:
		gross = (tradeCents - theoreticalCents) * contracts
	default:
		return false, fmt.Errorf("fees: action must be buy or sell, got %q", action)
	}
	return gross-fee > 0, nil
}
