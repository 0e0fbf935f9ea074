package config

import "github.com/mahrens917/common-sub001/internal/metadata"

// MetadataRules converts the metadata section into resolver rules.
func (c *Config) MetadataRules() metadata.Rules {
	rules := metadata.Rules{
		DefaultCategory: c.Metadata.DefaultCategory,
		WeatherCategory: c.Metadata.WeatherCategory,
		Stations:        c.Metadata.Stations,
	}
	for _, mc := range c.Metadata.Categories {
		rules.Categories = append(rules.Categories, metadata.Category{Name: mc.Name, Prefixes: mc.Prefixes})
	}
	return rules
}
