// Package sql opens gorm connections for the task state backend.
//
// Supported drivers are sqlite (pure Go, github.com/glebarez/sqlite), mysql
// and postgres:
//
//	client, err := sql.New(ctx, opts)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	db := client.DB()
package sql

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	sqlopts "github.com/kart-io/sentinel-rag/pkg/options/sql"
)

// Client wraps a gorm.DB.
type Client struct {
	db     *gorm.DB
	driver string
}

// New opens a connection with the configured driver and verifies it.
func New(ctx context.Context, opts *sqlopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("sql options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid sql options: %v", errs)
	}

	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(parseLogLevel(opts.LogLevel), 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}

	return &Client{db: db, driver: opts.Driver}, nil
}

func dialectorFor(opts *sqlopts.Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case "sqlite":
		if opts.DSN != ":memory:" && !isURI(opts.DSN) {
			if dir := filepath.Dir(opts.DSN); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create sqlite directory: %w", err)
				}
			}
		}
		return sqlite.Open(opts.DSN), nil
	case "mysql":
		return mysql.Open(opts.DSN), nil
	case "postgres":
		return postgres.Open(opts.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", opts.Driver)
	}
}

func isURI(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}

// Name returns the driver name.
func (c *Client) Name() string { return c.driver }

// DB returns the gorm handle.
func (c *Client) DB() *gorm.DB { return c.db }

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
