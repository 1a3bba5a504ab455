package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	migrations "github.com/DRSN-tech/product-identity/db"
	"github.com/DRSN-tech/product-identity/internal/cfg"
	"github.com/DRSN-tech/product-identity/pkg/e"
	"github.com/DRSN-tech/product-identity/pkg/jitter"
	"github.com/DRSN-tech/product-identity/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout  = 5 * time.Second
	connAttempts = 5
	baseBackoff  = 200 * time.Millisecond
	maxBackoff   = 3 * time.Second
)

// PgDatabase - пул соединений к PostgreSQL, на котором живёт kv_items.
type PgDatabase struct {
	Pool *pgxpool.Pool
	cfg  *cfg.PGDBCfg
}

// DSN собирает строку подключения в формате key=value.
func DSN(cfg *cfg.PGDBCfg) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}

// Connect создаёт пул и ждёт, пока база начнёт отвечать. Контейнер с базой часто
// поднимается позже сервиса, поэтому ping повторяется с экспоненциальной задержкой.
func Connect(cfg *cfg.PGDBCfg) (*PgDatabase, error) {
	const op = "PgDatabase.Connect"

	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	db := &PgDatabase{Pool: pool, cfg: cfg}
	ctx := context.Background()
	for attempt := range connAttempts {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		if attempt == connAttempts-1 {
			break
		}
		if sleepErr := jitter.Sleep(ctx, jitter.ExponentialBackoff(baseBackoff, maxBackoff, attempt, jitter.DefaultJitter)); sleepErr != nil {
			break
		}
	}

	pool.Close()
	return nil, e.Storage(op, err)
}

func (db *PgDatabase) Ping() error {
	const op = "PgDatabase.Ping"
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// Close корректно закрывает пул соединений к базе данных.
func (db *PgDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations применяет ожидающие миграции. Если задан cfg.MigrationsDir, миграции
// читаются с диска, иначе используются встроенные в бинарь.
func (db *PgDatabase) RunMigrations(logger logger.Logger) error {
	const (
		op                 = "PgDatabase.RunMigrations"
		databaseDriverName = "postgres"
	)

	sqlDb := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDb.Close()

	driver, err := postgres.WithInstance(sqlDb, &postgres.Config{})
	if err != nil {
		return e.Wrap(op, err)
	}

	var (
		m      *migrate.Migrate
		source string
	)
	if dir := db.cfg.MigrationsDir; dir != "" {
		source = "file://" + dir
		m, err = migrate.NewWithDatabaseInstance(source, databaseDriverName, driver)
	} else {
		source = "embedded"
		src, srcErr := iofs.New(migrations.Migrations, migrations.MigrationsPath)
		if srcErr != nil {
			return e.Wrap(op, srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, databaseDriverName, driver)
	}
	if err != nil {
		return e.Wrap(op, err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debugf("schema is up to date (%s migrations)", source)
			return nil
		}
		return e.Wrap(op, err)
	}

	logger.Infof("%s migrations applied successfully", source)
	return nil
}
