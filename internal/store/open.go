package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
)

// Open builds the Store selected by cfg.Driver and creates its tables.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case "postgres":
		return openPg(ctx, cfg, logger)
	case "pq", "sqlite", "mysql":
		return openSQL(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

func openPg(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := NewPgStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("using postgres store")
	return s, nil
}

func openSQL(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
	}
	s, err := OpenSQL(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	db := s.DB()
	if cfg.MaxOpenConns > 0 && s.dialect.Name() != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	logger.Info("using sql store", zap.String("dialect", s.dialect.Name()))
	return s, nil
}

// OpenSQL connects to dsn with the named dialect and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect.Name() == "mysql" {
		if dsn, err = ConfigureMySQLDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect.Name(), err)
	}
	if dialect.Name() == "sqlite" {
		// A single writer avoids SQLITE_BUSY and keeps :memory: databases
		// on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect.Name(), err)
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
