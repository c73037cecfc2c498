package config

import "github.com/richxcame/storefront/pkg/validation"

// Validate checks the loaded configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c.Server); err != nil {
		return err
	}
	if c.Redis.Enabled {
		if err := validation.ValidateStruct(c.Redis); err != nil {
			return err
		}
	}
	if err := validation.ValidateStruct(c.ExchangeRates); err != nil {
		return err
	}
	return validation.ValidateStruct(c.Cache)
}
