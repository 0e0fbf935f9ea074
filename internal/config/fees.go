package config

import "github.com/mahrens917/common-sub001/internal/fees"

// FeeSchedule converts the fee section into a fees.Schedule.
func (c *Config) FeeSchedule() fees.Schedule {
	var s fees.Schedule
	if c.Fees.General != nil {
		s.General = &fees.Rates{
			Taker: c.Fees.General.TakerFeeCoefficient,
			Maker: c.Fees.General.MakerFeeCoefficient,
		}
	}
	for _, cat := range c.Fees.Categories {
		s.Categories = append(s.Categories, fees.Category{
			Name:     cat.Name,
			Prefixes: cat.Prefixes,
			Rates: fees.Rates{
				Taker: cat.TakerFeeCoefficient,
				Maker: cat.MakerFeeCoefficient,
			},
		})
	}
	return s
}

// ValidateFees returns a *domain.ConfigurationError when the fee section is
// incomplete.
func (c *Config) ValidateFees() error {
	_, err := fees.NewCalculator(c.FeeSchedule())
	return err
}
