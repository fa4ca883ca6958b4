package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.Symbols, 30)
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, 3, cfg.Leverage)
	assert.Equal(t, SizingRisk, cfg.SizingMode)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, []string{"P1", "P2", "P3", "P4", "P5", "P6"}, cfg.LadderNames())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "Empty symbols",
			mutate: func(c *Config) { c.Symbols = nil },
			errMsg: "symbols",
		},
		{
			name:   "Missing timeframe",
			mutate: func(c *Config) { c.Timeframe = "" },
			errMsg: "timeframe",
		},
		{
			name:   "Zero leverage",
			mutate: func(c *Config) { c.Leverage = 0 },
			errMsg: "leverage",
		},
		{
			name:   "Unknown sizing mode",
			mutate: func(c *Config) { c.SizingMode = "martingale" },
			errMsg: "sizing mode",
		},
		{
			name: "Ladder triggers out of order",
			mutate: func(c *Config) {
				c.Ladder = []LadderLevel{
					{Name: "P1", TriggerPct: 0.005, CloseFrac: 0.05},
					{Name: "P2", TriggerPct: 0.004, CloseFrac: 0.05},
				}
			},
			errMsg: "strictly increasing",
		},
		{
			name: "Close fraction out of range",
			mutate: func(c *Config) {
				c.Ladder = []LadderLevel{{Name: "P1", TriggerPct: 0.003, CloseFrac: 1.5}}
			},
			errMsg: "close fraction",
		},
		{
			name:   "Resume threshold above pause threshold",
			mutate: func(c *Config) { c.LatencyResumeMs = 900 },
			errMsg: "latency_resume_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestYAMLOverride(t *testing.T) {
	raw := `
symbols: ["BTCUSDT", "ETHUSDT"]
leverage: 5
sizing_mode: "fixed"
fixed_exposure_usd: 200
ladder:
  - { name: "P1", trigger_pct: 0.004, close_frac: 0.1 }
  - { name: "P2", trigger_pct: 0.008, close_frac: 0.1 }
breakeven_trigger_roi: 0.01
`
	cfg := Defaults()
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 5, cfg.Leverage)
	assert.Equal(t, SizingFixed, cfg.SizingMode)
	assert.Equal(t, 200.0, cfg.FixedExposureUSD)
	assert.Equal(t, []string{"P1", "P2"}, cfg.LadderNames())
	assert.Equal(t, 0.01, cfg.BreakevenTriggerROI)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.0005, cfg.CommissionRate)
	assert.Equal(t, "bot_state.json", cfg.StateFile)
}
