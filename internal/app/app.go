// Package app wires the configured collaborators into a validation runner,
// shared by the CLI and the API server.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"etlverify/internal/config"
	"etlverify/internal/core"
	"etlverify/internal/ledger"
	"etlverify/internal/metrics"
	"etlverify/internal/objectstore"
	"etlverify/internal/report"
	"etlverify/internal/security"
	"etlverify/internal/snapshot"
	"etlverify/internal/source"
	"etlverify/internal/storage"
	"etlverify/internal/tracker"
)

type App struct {
	Config  *config.Config
	Runner  *core.Runner
	Ledger  *ledger.Ledger
	Metrics *metrics.Metrics
	Keys    security.KeyPair
	Logger  *zap.Logger
}

// Build opens the ledger, loads or creates the signing keys and assembles the
// runner. The object store, snapshots and tracker are only wired when
// configured.
func Build(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	creds, err := cfg.Credentials.Provider()
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}

	var objects objectstore.Store
	if cfg.ObjectStore.Endpoint != "" {
		client, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		objects = client
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	kp, created, err := security.EnsureKeyPair(cfg.Ledger.KeyDir)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	if created {
		logger.Info("generated signing keys", zap.String("dir", cfg.Ledger.KeyDir), zap.String("public_key", kp.PublicHex()))
	}

	fetcher := &source.Fetcher{
		Credentials:    creds,
		Objects:        objects,
		ConnectTimeout: cfg.Source.ConnectTimeout,
		Logger:         logger.Named("source"),
	}
	dialers := core.NewDialers(cfg.Remote.KnownHosts, cfg.Remote.KeyFile, cfg.Remote.ConnectTimeout, logger)

	m := metrics.New()
	runner := core.NewRunner(dialers, fetcher, logger)
	runner.Metrics = m
	runner.ReadTimeout = cfg.Remote.ReadTimeout
	runner.DefaultTransport = cfg.Remote.Transport

	evidence := storage.NewEvidenceStorage(cfg.Ledger.EvidenceDir)
	evidenceLog := logger.Named("evidence")
	runner.NewSink = func(runID string) report.Sink {
		return report.Fanout{
			report.LogSink{Logger: evidenceLog.With(zap.String("run_id", runID))},
			&report.EvidenceSink{
				RunID:   runID,
				AgentID: cfg.Ledger.AgentID,
				Storage: evidence,
				Ledger:  l,
				Keys:    kp,
				OnSeal:  func(*ledger.Block) { m.BlockSealed() },
			},
		}
	}

	if cfg.Snapshot.Bucket != "" {
		if objects == nil {
			logger.Warn("snapshot bucket set without an object store endpoint; snapshots disabled")
		} else {
			runner.Snapshots = &snapshot.Exporter{Store: objects, Bucket: cfg.Snapshot.Bucket, Prefix: cfg.Snapshot.Prefix}
		}
	}
	if cfg.Tracker.Enabled() {
		runner.Tracker = tracker.NewClient(cfg.Tracker, logger.Named("tracker"))
	}

	return &App{
		Config:  cfg,
		Runner:  runner,
		Ledger:  l,
		Metrics: m,
		Keys:    kp,
		Logger:  logger,
	}, nil
}
