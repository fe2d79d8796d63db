package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/creditledger/internal/config"
	"github.com/MarkoPoloResearchLab/creditledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/creditledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/creditledger/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/creditledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	sqlitePragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

type openedStore struct {
	store   ledger.Store
	driver  string
	cleanup func()
}

// openStore picks the backend from the DSN scheme: memory://, sqlite:// (or a bare path) and postgres://.
// Postgres goes through gorm or pgx depending on cfg.PostgresDriver.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger, autoMigrate bool) (openedStore, error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return openedStore{}, err
	}
	switch driver {
	case driverMemory:
		log.Warn("using in-memory store; balances are lost on exit")
		return openedStore{store: memstore.New(), driver: driver, cleanup: func() {}}, nil
	case driverSQLite:
		db, err := gorm.Open(sqlite.Open(sqlitePath+sqlitePragmas), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return openedStore{}, fmt.Errorf("open sqlite: %w", err)
		}
		if err := gormstore.AutoMigrate(ctx, db); err != nil {
			closeGorm(db)
			return openedStore{}, err
		}
		return openedStore{store: gormstore.New(db), driver: driver, cleanup: func() { closeGorm(db) }}, nil
	case driverPostgres:
		if autoMigrate {
			if err := migrateUp(cfg.DatabaseURL, log); err != nil {
				return openedStore{}, err
			}
		}
		if cfg.PostgresDriver == config.DriverPGX {
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return openedStore{}, fmt.Errorf("open pgx pool: %w", err)
			}
			return openedStore{store: pgstore.New(pool), driver: driver, cleanup: pool.Close}, nil
		}
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return openedStore{}, fmt.Errorf("open postgres: %w", err)
		}
		return openedStore{store: gormstore.New(db), driver: driver, cleanup: func() { closeGorm(db) }}, nil
	default:
		return openedStore{}, fmt.Errorf("unsupported database scheme %q", driver)
	}
}

func migrateUp(databaseURL string, log *zap.Logger) error {
	runner, err := migrations.NewRunner(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = runner.Close() }()
	changed, err := runner.Up()
	if err != nil {
		return err
	}
	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	log.Info("schema migrated", zap.Bool("changed", changed), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func closeGorm(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "memory://") {
		return driverMemory, "", nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "creditd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
