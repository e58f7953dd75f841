package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionFactory hands out database sessions bound to one connection pool.
// Nothing is dialled until a session is used.
type SessionFactory struct {
	db     *gorm.DB
	driver string
}

// NewSessionFactory picks a dialector from the URL scheme without connecting.
func NewSessionFactory(databaseURL string, log *zap.Logger) (*SessionFactory, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialector, driver, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return &SessionFactory{db: database, driver: driver}, nil
}

// Session returns a fresh session. Writes are not wrapped in implicit
// transactions; callers commit explicitly via Transaction.
func (f *SessionFactory) Session(ctx context.Context) *gorm.DB {
	return f.db.Session(&gorm.Session{
		Context:                ctx,
		NewDB:                  true,
		SkipDefaultTransaction: true,
	})
}

// Driver reports the database/sql driver name in use.
func (f *SessionFactory) Driver() string {
	return f.driver
}

// Ping dials the database. It is the only call that forces a connection.
func (f *SessionFactory) Ping(ctx context.Context) error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (f *SessionFactory) Close() error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(databaseURL string) (gorm.Dialector, string, error) {
	scheme, rest, ok := strings.Cut(databaseURL, ":")
	if !ok {
		return nil, "", fmt.Errorf("database url %q has no scheme", databaseURL)
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		return sqliteDialector(sqlitePath(rest))
	case "file":
		return sqliteDialector(databaseURL)
	default:
		return nil, "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// sqlitePath follows the SQLAlchemy convention: sqlite:///relative.db,
// sqlite:////absolute.db, and sqlite:// for an in-memory database.
func sqlitePath(rest string) string {
	path := strings.TrimPrefix(rest, "//")
	if path == "" {
		return ":memory:"
	}
	return strings.TrimPrefix(path, "/")
}

func sqliteDialector(dsn string) (gorm.Dialector, string, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return &sqlite.Dialector{DriverName: "sqlite3", DSN: dsn, Conn: conn}, "sqlite3", nil
}
