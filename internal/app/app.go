// Package app assembles the ledger, its backends and the game service from
// configuration. Both binaries share it so they always agree on the store.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cashforge/internal/catalog"
	"cashforge/internal/config"
	"cashforge/internal/db"
	"cashforge/internal/events"
	"cashforge/internal/game"
	"cashforge/internal/ledger"
	"cashforge/internal/lock"
	"cashforge/internal/proof"
	"cashforge/internal/store/postgres"
	"cashforge/internal/store/sqlite"
)

type Runtime struct {
	Ledger *ledger.Ledger
	Game   *game.Service

	closers []func() error
	log     *slog.Logger
}

// Close releases backends in reverse order of opening.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Build opens every backend cfg selects. On error whatever was already opened
// is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{log: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	store, err := rt.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := ledger.Options{Logger: logger}
	if cfg.RedisAddr != "" {
		client, err := lock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		rt.onClose(client.Close)
		opts.Locker = lock.NewRedisLocker(client, lock.Options{Logger: logger})
		logger.Info("account locks in redis", "addr", cfg.RedisAddr)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		rt.onClose(pub.Close)
		opts.Publisher = pub
		logger.Info("publishing transactions to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	proofs, err := rt.openProofs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt.Ledger = ledger.New(store, opts)
	rt.Game = game.NewService(rt.Ledger, game.Options{
		Catalog: cat,
		Proofs:  proofs,
		FeeRate: &cfg.WithdrawFee,
		PKRRate: cfg.PKRRate,
		Logger:  logger,
	})
	return rt, nil
}

func (r *Runtime) openStore(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		r.onClose(func() error { pool.Close(); return nil })
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		r.log.Info("using postgres store")
		return s, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		r.onClose(s.Close)
		r.log.Info("using sqlite store", "path", cfg.SQLitePath)
		return s, nil
	case config.StoreMemory, "":
		r.log.Warn("using in-memory store, balances are lost on restart")
		return ledger.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func (r *Runtime) openProofs(ctx context.Context, cfg config.Config) (proof.Store, error) {
	switch cfg.ProofBackend {
	case config.ProofS3:
		return proof.NewS3Store(ctx, proof.S3Config{
			Bucket:    cfg.ProofBucket,
			Region:    cfg.ProofRegion,
			Endpoint:  cfg.ProofEndpoint,
			PublicURL: cfg.ProofPublicURL,
		})
	case config.ProofGCS:
		s, err := proof.NewGCSStore(ctx, cfg.ProofBucket)
		if err != nil {
			return nil, err
		}
		r.onClose(s.Close)
		return s, nil
	default:
		return proof.NewLocalStore(cfg.ProofDir, cfg.ProofPublicURL)
	}
}
