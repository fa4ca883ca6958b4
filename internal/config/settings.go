package config

import "sync"

// Settings holds the runtime-mutable knobs. The adaptive tuner adjusts
// them while the engine reads them concurrently, so access goes through a
// RWMutex instead of the immutable Config.
type Settings struct {
	mu sync.RWMutex

	riskPerTradePct float64
	atrMinPct       float64
}

// NewSettings seeds the mutable knobs from the loaded config.
func NewSettings(cfg *Config) *Settings {
	return &Settings{
		riskPerTradePct: cfg.RiskPerTradePct,
		atrMinPct:       cfg.ATRMinPct,
	}
}

// RiskPerTradePct returns the current balance fraction risked per trade.
func (s *Settings) RiskPerTradePct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.riskPerTradePct
}

// SetRiskPerTradePct replaces the risk fraction.
func (s *Settings) SetRiskPerTradePct(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskPerTradePct = v
}

// ATRMinPct returns the current volatility filter floor in percent.
func (s *Settings) ATRMinPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atrMinPct
}

// SetATRMinPct replaces the volatility floor.
func (s *Settings) SetATRMinPct(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atrMinPct = v
}
