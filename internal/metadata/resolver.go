// Package metadata classifies tickers into market categories and resolves
// domain tags such as the weather station a market settles on.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category assigns a name to every ticker starting with one of Prefixes.
type Category struct {
	Name     string
	Prefixes []string
}

// Rules configure a Resolver.
type Rules struct {
	DefaultCategory string
	WeatherCategory string
	Categories      []Category
	Stations        map[string]string // city code -> ICAO station
}

// Resolver maps tickers to a category and tag. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	defaultCategory string
	weatherCategory string
	prefixes        []prefixRule
	stations        map[string]string
}

type prefixRule struct {
	prefix   string
	category string
}

// NewResolver validates rules and builds a Resolver.
func NewResolver(rules Rules) (*Resolver, error) {
	if strings.TrimSpace(rules.DefaultCategory) == "" {
		return nil, errors.New("metadata: default category must not be empty")
	}
	r := &Resolver{
		defaultCategory: rules.DefaultCategory,
		weatherCategory: rules.WeatherCategory,
		stations:        make(map[string]string, len(rules.Stations)),
	}
	for _, c := range rules.Categories {
		if c.Name == "" {
			return nil, errors.New("metadata: category name must not be empty")
		}
		if len(c.Prefixes) == 0 {
			return nil, fmt.Errorf("metadata: category %s has no prefixes", c.Name)
		}
		for _, p := range c.Prefixes {
			r.prefixes = append(r.prefixes, prefixRule{prefix: strings.ToUpper(p), category: c.Name})
		}
	}
	for city, station := range rules.Stations {
		r.stations[strings.ToUpper(city)] = station
	}
	return r, nil
}

// match returns the longest configured prefix of ticker.
func (r *Resolver) match(ticker string) (prefixRule, bool) {
	var best prefixRule
	found := false
	for _, p := range r.prefixes {
		if strings.HasPrefix(ticker, p.prefix) && len(p.prefix) > len(best.prefix) {
			best = p
			found = true
		}
	}
	return best, found
}

// Category returns the market category for ticker.
func (r *Resolver) Category(ticker string) string {
	if p, ok := r.match(strings.ToUpper(ticker)); ok {
		return p.category
	}
	return r.defaultCategory
}

// Station returns the ICAO station for a weather ticker such as
// KXHIGHNY-25MAR14-B60. The city code sits between the category prefix and
// the first dash.
func (r *Resolver) Station(ticker string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(ticker))
	p, ok := r.match(upper)
	if !ok || p.category != r.weatherCategory {
		return "", fmt.Errorf("metadata: %s is not a weather ticker", ticker)
	}
	city, _, _ := strings.Cut(strings.TrimPrefix(upper, p.prefix), "-")
	if city == "" {
		return "", fmt.Errorf("metadata: no city code in ticker %s", ticker)
	}
	station, ok := r.stations[city]
	if !ok {
		return "", fmt.Errorf("metadata: no station configured for city %s (ticker %s)", city, ticker)
	}
	return station, nil
}

// ResolveTradeContext returns the category and, for weather markets, the
// station tag.
func (r *Resolver) ResolveTradeContext(_ context.Context, ticker string) (category, tag string, err error) {
	if strings.TrimSpace(ticker) == "" {
		return "", "", errors.New("metadata: ticker must not be empty")
	}
	category = r.Category(ticker)
	if r.weatherCategory == "" || category != r.weatherCategory {
		return category, "", nil
	}
	tag, err = r.Station(ticker)
	if err != nil {
		return "", "", err
	}
	return category, tag, nil
}
