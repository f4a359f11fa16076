package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stashbox/stashbox/internal/broker/records/migrations"
	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/logging"
)

const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:   config.DriverPostgres,
	dollar: true,
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
	},
}

var sqliteDialect = dialect{
	name: config.DriverSQLite,
	isUnique: func(err error) bool {
		var sqlErr *sqlite.Error
		if !errors.As(err, &sqlErr) {
			return false
		}
		code := sqlErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return postgresDialect, nil
	case config.DriverSQLite:
		return sqliteDialect, nil
	}
	return dialect{}, fmt.Errorf("%w: %q", config.ErrUnknownDriver, driver)
}

// OpenDB opens the database without touching the schema.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case config.DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	case config.DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if driver == config.DriverSQLite {
		// One connection keeps an in-memory database alive and serializes
		// writers.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// goose keeps its filesystem and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies pending migrations and returns the schema version.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *logging.Logger) (int64, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	gooseDialect := "postgres"
	if driver == config.DriverSQLite {
		gooseDialect = "sqlite3"
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, driver); err != nil {
		return 0, fmt.Errorf("migration error: %w", err)
	}
	return goose.GetDBVersionContext(ctx, db)
}

// New wraps an open, migrated database.
func New(db *sql.DB, driver string) (Repository, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return newSQLRepository(db, d), nil
}

// Open opens the database, brings the schema up to date and returns the
// repository.
func Open(ctx context.Context, driver, dsn string, logger *logging.Logger) (Repository, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	db, err := OpenDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}

	version, err := Migrate(ctx, db, driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("driver", driver).Int64("schema_version", version).Msg("Record store ready")

	repo, err := New(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// gooseLogger routes goose output through the broker logger.
type gooseLogger struct {
	logger *logging.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}
