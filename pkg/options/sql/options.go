// Package sql provides relational database options for gorm backed stores.
package sql

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains database connection configuration.
type Options struct {
	// Driver is one of sqlite, mysql, postgres.
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is the driver specific data source name.
	DSN string `json:"-" mapstructure:"dsn"`

	// MaxOpenConns limits open connections.
	MaxOpenConns int `json:"max-open-conns" mapstructure:"max-open-conns"`

	// MaxIdleConns limits idle connections.
	MaxIdleConns int `json:"max-idle-conns" mapstructure:"max-idle-conns"`

	// ConnMaxLifetime is the maximum connection reuse time.
	ConnMaxLifetime time.Duration `json:"conn-max-lifetime" mapstructure:"conn-max-lifetime"`

	// LogLevel is the gorm log level (silent, error, warn, info).
	LogLevel string `json:"log-level" mapstructure:"log-level"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Driver:          "sqlite",
		DSN:             "data/tasks.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		LogLevel:        "warn",
	}
}

// AddFlags adds flags for SQL options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "sql."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Database driver (sqlite, mysql, postgres).")
	fs.StringVar(&o.DSN, p+"dsn", o.DSN, "Database DSN.")
	fs.IntVar(&o.MaxOpenConns, p+"max-open-conns", o.MaxOpenConns, "Maximum open connections.")
	fs.IntVar(&o.MaxIdleConns, p+"max-idle-conns", o.MaxIdleConns, "Maximum idle connections.")
	fs.DurationVar(&o.ConnMaxLifetime, p+"conn-max-lifetime", o.ConnMaxLifetime, "Maximum connection lifetime.")
	fs.StringVar(&o.LogLevel, p+"log-level", o.LogLevel, "gorm log level (silent, error, warn, info).")
}

// Validate validates the SQL options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !options.OneOf(o.Driver, "sqlite", "mysql", "postgres") {
		errs = append(errs, fmt.Errorf("sql.driver must be sqlite, mysql or postgres, got %q", o.Driver))
	}
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("sql.dsn is required"))
	}
	if !options.OneOf(o.LogLevel, "silent", "error", "warn", "info") {
		errs = append(errs, fmt.Errorf("sql.log-level must be silent, error, warn or info"))
	}
	return errs
}

// Complete completes the SQL options with defaults.
func (o *Options) Complete() error {
	if o.LogLevel == "" {
		o.LogLevel = "warn"
	}
	return nil
}
