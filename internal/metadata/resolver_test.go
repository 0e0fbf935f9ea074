package metadata

import (
	"context"
	"testing"
)

func testRules() Rules {
	return Rules{
		DefaultCategory: "general",
		WeatherCategory: "weather",
		Categories: []Category{
			{Name: "weather", Prefixes: []string{"KXHIGH", "KXLOW"}},
			{Name: "index", Prefixes: []string{"INX"}},
		},
		Stations: map[string]string{"NY": "KNYC", "chi": "KMDW"},
	}
}

func TestResolveTradeContext(t *testing.T) {
	r, err := NewResolver(testRules())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	cases := []struct {
		ticker, category, tag string
	}{
		{"KXHIGHNY-25MAR14-B60", "weather", "KNYC"},
		{"kxlowchi-25MAR14-T20", "weather", "KMDW"},
		{"INXD-25MAR14-B5800", "index", ""},
		{"PRES-2028-DEM", "general", ""},
	}
	for _, tc := range cases {
		category, tag, err := r.ResolveTradeContext(context.Background(), tc.ticker)
		if err != nil {
			t.Fatalf("%s: %v", tc.ticker, err)
		}
		if category != tc.category || tag != tc.tag {
			t.Fatalf("%s: got %s/%s want %s/%s", tc.ticker, category, tag, tc.category, tc.tag)
		}
	}
}

func TestResolveUnknownStation(t *testing.T) {
	r, err := NewResolver(testRules())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if _, _, err := r.ResolveTradeContext(context.Background(), "KXHIGHSEA-25MAR14-B60"); err == nil {
		t.Fatal("expected error for a city without a station")
	}
	if _, _, err := r.ResolveTradeContext(context.Background(), "KXHIGH-25MAR14"); err == nil {
		t.Fatal("expected error for a missing city code")
	}
	if _, _, err := r.ResolveTradeContext(context.Background(), " "); err == nil {
		t.Fatal("expected error for an empty ticker")
	}
}

func TestNewResolverRejectsBadRules(t *testing.T) {
	rules := testRules()
	rules.DefaultCategory = ""
	if _, err := NewResolver(rules); err == nil {
		t.Fatal("expected error without default category")
	}
	rules = testRules()
	rules.Categories = append(rules.Categories, Category{Name: "empty"})
	if _, err := NewResolver(rules); err == nil {
		t.Fatal("expected error for a category without prefixes")
	}
}
