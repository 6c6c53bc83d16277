// Package config loads engine configuration from the environment. All
// variables carry the LINGOBAND_ prefix so deployments can scope them
// cleanly; every value has a working default for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/abhisek/lingoband/internal/judge"
	"github.com/abhisek/lingoband/internal/session"
)

// Config is the full runtime configuration.
type Config struct {
	// DBPath locates the SQLite database file. Empty selects the
	// platform default data directory.
	DBPath string `env:"LINGOBAND_DB"`

	// Store selects the persistence adapter: "sqlite" or "memory".
	Store string `env:"LINGOBAND_STORE" envDefault:"sqlite"`

	// LogLevel sets the zap level: debug, info, warn, error.
	LogLevel string `env:"LINGOBAND_LOG_LEVEL" envDefault:"info"`

	// ReceiptVerifierURL is the base endpoint of the receipt verification
	// service. Empty selects the mock verifier.
	ReceiptVerifierURL string `env:"LINGOBAND_RECEIPT_VERIFIER_URL"`

	// Session phase bounds.
	Phase1Limit    time.Duration `env:"LINGOBAND_PHASE1_LIMIT" envDefault:"5m"`
	Phase2PrepTime time.Duration `env:"LINGOBAND_PHASE2_PREP" envDefault:"1m"`
	Phase2Limit    time.Duration `env:"LINGOBAND_PHASE2_LIMIT" envDefault:"3m"`
	Phase3Limit    time.Duration `env:"LINGOBAND_PHASE3_LIMIT" envDefault:"6m"`
	DraftLimit     time.Duration `env:"LINGOBAND_DRAFT_LIMIT" envDefault:"40m"`

	// Candidate turns that exhaust each spoken phase.
	Phase1Turns int `env:"LINGOBAND_PHASE1_TURNS" envDefault:"4"`
	Phase2Turns int `env:"LINGOBAND_PHASE2_TURNS" envDefault:"1"`
	Phase3Turns int `env:"LINGOBAND_PHASE3_TURNS" envDefault:"4"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints. Judge credentials are validated
// separately by the judge config, since the mock provider needs none.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store %q (want sqlite or memory)", c.Store)
	}
	if c.Phase1Turns < 1 || c.Phase2Turns < 1 || c.Phase3Turns < 1 {
		return fmt.Errorf("turn budgets must be at least 1")
	}
	for _, d := range []time.Duration{c.Phase1Limit, c.Phase2PrepTime, c.Phase2Limit, c.Phase3Limit, c.DraftLimit} {
		if d <= 0 {
			return fmt.Errorf("phase limits must be positive")
		}
	}
	return nil
}

// SessionConfig maps the flat environment values onto the session
// manager's config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Timings: session.Timings{
			Phase1:     c.Phase1Limit,
			Phase2Prep: c.Phase2PrepTime,
			Phase2:     c.Phase2Limit,
			Phase3:     c.Phase3Limit,
			Draft:      c.DraftLimit,
		},
		Turns: session.TurnBudgets{
			Phase1: c.Phase1Turns,
			Phase2: c.Phase2Turns,
			Phase3: c.Phase3Turns,
		},
	}
}

// JudgeConfig reads the judge provider configuration from the environment.
func (c Config) JudgeConfig() judge.Config {
	return judge.ConfigFromEnv()
}
