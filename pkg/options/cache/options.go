// Package cache provides answer cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 答案缓存配置。
type Options struct {
	// Enabled 是否启用缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Backend 持久化后端（memory, redis）。
	Backend string `json:"backend" mapstructure:"backend"`

	// TTL 缓存过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// MaxSizeBytes 缓存总字节上限。
	MaxSizeBytes int64 `json:"max-size-bytes" mapstructure:"max-size-bytes"`

	// MaxItems 条目数上限，0 表示不限制。
	MaxItems int `json:"max-items" mapstructure:"max-items"`

	// MaxItemBytes 单条上限，0 表示只受 MaxSizeBytes 约束。
	MaxItemBytes int64 `json:"max-item-bytes" mapstructure:"max-item-bytes"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions 创建默认缓存配置。
func NewOptions() *Options {
	return &Options{
		Enabled:      true,
		Backend:      "memory",
		TTL:          24 * time.Hour,
		MaxSizeBytes: 100 << 20,
		KeyPrefix:    "rag:cache:",
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "cache."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the answer cache.")
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Cache persistence backend (memory, redis).")
	fs.DurationVar(&o.TTL, p+"ttl", o.TTL, "Cache entry time-to-live.")
	fs.Int64Var(&o.MaxSizeBytes, p+"max-size-bytes", o.MaxSizeBytes, "Total cache size budget in bytes.")
	fs.IntVar(&o.MaxItems, p+"max-items", o.MaxItems, "Maximum number of entries (0 = unlimited).")
	fs.Int64Var(&o.MaxItemBytes, p+"max-item-bytes", o.MaxItemBytes, "Maximum size of a single entry (0 = no per-item limit).")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Cache key prefix.")
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if !options.OneOf(o.Backend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", o.Backend))
	}
	if o.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
	}
	if o.MaxSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache.max-size-bytes must be positive"))
	}
	if o.MaxItems < 0 || o.MaxItemBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max-items and cache.max-item-bytes must not be negative"))
	}
	return errs
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "rag:cache:"
	}
	return nil
}
