// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, the tunable parameters for the
// synthetic interaction engine. Page controls on the target site react to the
// full pointer/mouse lifecycle, so clicks are pressed and held for a short,
// randomized interval before release.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig controls the timing of synthetic pointer input.
type HumanoidConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	ClickHoldMinMs int  `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int  `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 40)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 110)
}

// Validate checks that the hold range is well formed.
func (h *HumanoidConfig) Validate() error {
	if h.ClickHoldMinMs < 0 || h.ClickHoldMaxMs < 0 {
		return fmt.Errorf("click hold durations must not be negative")
	}
	if h.ClickHoldMaxMs < h.ClickHoldMinMs {
		return fmt.Errorf("click_hold_max_ms must be >= click_hold_min_ms")
	}
	return nil
}
