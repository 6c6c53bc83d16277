package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/config"
	"github.com/abhisek/lingoband/internal/engine"
	"github.com/abhisek/lingoband/internal/entitlement"
	"github.com/abhisek/lingoband/internal/judge"
	"github.com/abhisek/lingoband/internal/questionbank"
	"github.com/abhisek/lingoband/internal/receipt"
	"github.com/abhisek/lingoband/internal/scoring"
	"github.com/abhisek/lingoband/internal/session"
	"github.com/abhisek/lingoband/internal/store"
)

// app bundles the wired components a command needs, plus their teardown.
type app struct {
	cfg      config.Config
	engine   *engine.Engine
	bank     *questionbank.Bank
	events   store.JudgeEventRepo
	verifier receipt.Verifier
	logger   *zap.Logger

	close func()
}

// buildApp opens the store and wires the full engine from configuration.
func buildApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	adapter, err := openAdapter(cmd, cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		adapter.Close()
		return nil, err
	}

	events := store.NewJudgeEventRepo(adapter)

	judgeCfg := cfg.JudgeConfig()
	if err := judgeCfg.Validate(); err != nil {
		logger.Warn("judge provider not configured, falling back to mock", zap.Error(err))
		judgeCfg.Provider = "mock"
	}
	provider, err := judge.NewProvider(cmd.Context(), judgeCfg, events, logger)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("initialize judge provider: %w", err)
	}

	bank := questionbank.NewBank(adapter)
	ledger := entitlement.NewLedger(adapter, verifier, entitlement.DefaultCatalog(), logger)
	allocator := questionbank.NewAllocator(bank, adapter, logger)
	sessions := session.NewManager(adapter, cfg.SessionConfig(), logger)
	pipeline := scoring.NewPipeline(provider, adapter, logger)

	// A real judge can also confirm phase goals early; the mock cannot, so
	// phase advancement stays turn-budget driven when unconfigured.
	if judgeCfg.Provider != "mock" {
		sessions.SetAdvisor(engine.NewPhaseAdvisor(provider))
	}

	return &app{
		cfg:      cfg,
		engine:   engine.New(ledger, allocator, sessions, pipeline, logger),
		bank:     bank,
		events:   events,
		verifier: verifier,
		logger:   logger,
		close: func() {
			adapter.Close()
			_ = logger.Sync()
		},
	}, nil
}

func openAdapter(cmd *cobra.Command, cfg config.Config) (store.Adapter, error) {
	if cfg.Store == "memory" {
		return store.NewMemory(), nil
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		p, err := resolveDBPath(cmd)
		if err != nil {
			return nil, fmt.Errorf("resolve DB path: %w", err)
		}
		dbPath = p
	} else if err := store.EnsureDir(dbPath); err != nil {
		return nil, err
	}

	adapter, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return adapter, nil
}

func buildVerifier(cfg config.Config) (receipt.Verifier, error) {
	if cfg.ReceiptVerifierURL == "" {
		return receipt.NewMockVerifier(), nil
	}
	return receipt.NewHTTPVerifier(receipt.HTTPVerifierConfig{
		Endpoints: map[receipt.Platform]string{
			receipt.PlatformAppStore:  cfg.ReceiptVerifierURL + "/app_store",
			receipt.PlatformPlayStore: cfg.ReceiptVerifierURL + "/play_store",
		},
	})
}
