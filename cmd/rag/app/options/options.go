// Package options contains flags and options for initializing the RAG server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/options"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	sqlopts "github.com/kart-io/sentinel-rag/pkg/options/sql"
	taskopts "github.com/kart-io/sentinel-rag/pkg/options/task"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// Mode selects which parts run in this process (all, api, worker).
	Mode string `json:"mode" mapstructure:"mode"`

	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// RedisOptions is shared by the answer cache and the task queue.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// MilvusOptions contains Milvus database configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// SQLOptions configures the SQL task state backend.
	SQLOptions *sqlopts.Options `json:"sql" mapstructure:"sql"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains chunking, index and document configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// CacheOptions contains answer cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// TaskOptions contains task queue and worker configuration.
	TaskOptions *taskopts.Options `json:"task" mapstructure:"task"`
}

var _ app.CliOptions = (*ServerOptions)(nil)

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Mode:             ragsvc.ModeAll,
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		SQLOptions:       sqlopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		TaskOptions:      taskopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"), "redis")
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"), "milvus")
	o.SQLOptions.AddFlags(fss.FlagSet("sql"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.TaskOptions.AddFlags(fss.FlagSet("task"))

	// misc flags
	fs := fss.FlagSet("misc")
	fs.StringVar(&o.Mode, "mode", o.Mode, "Process mode: all (HTTP API and worker), api (HTTP API only), worker (task worker only).")

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if o.Mode == "" {
		o.Mode = ragsvc.ModeAll
	}
	if err := o.HTTPOptions.Complete(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := o.LogOptions.Complete(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := o.TracingOptions.Complete(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.MilvusOptions.Complete(); err != nil {
		return fmt.Errorf("milvus: %w", err)
	}
	if err := o.SQLOptions.Complete(); err != nil {
		return fmt.Errorf("sql: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := o.CacheOptions.Complete(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := o.TaskOptions.Complete(); err != nil {
		return fmt.Errorf("task: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
// Sections for backends that are not selected are not validated.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	if !options.OneOf(o.Mode, ragsvc.ModeAll, ragsvc.ModeAPI, ragsvc.ModeWorker) {
		errs = append(errs, fmt.Errorf("mode must be all, api or worker, got %q", o.Mode))
	}
	if o.Mode == ragsvc.ModeAPI || o.Mode == ragsvc.ModeWorker {
		if o.TaskOptions.Broker == "memory" {
			errs = append(errs, fmt.Errorf("task.broker must be shared (redis) when mode is %s", o.Mode))
		}
		if o.TaskOptions.Backend == "memory" {
			errs = append(errs, fmt.Errorf("task.backend must be shared (redis or sql) when mode is %s", o.Mode))
		}
		if o.RAGOptions.IndexBackend != "milvus" {
			errs = append(errs, fmt.Errorf("rag.index-backend must be shared (milvus) when mode is %s", o.Mode))
		}
	}

	if o.EmbeddingOptions.Provider == "local" && o.EmbeddingOptions.Dimension != o.RAGOptions.EmbeddingDim {
		errs = append(errs, fmt.Errorf("embedding.dimension (%d) must equal rag.embedding-dim (%d) for the local provider",
			o.EmbeddingOptions.Dimension, o.RAGOptions.EmbeddingDim))
	}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.TaskOptions.Validate()...)

	if o.usesRedis() {
		errs = append(errs, o.RedisOptions.Validate()...)
	}
	if o.RAGOptions.IndexBackend == "milvus" {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	if o.TaskOptions.Backend == "sql" {
		errs = append(errs, o.SQLOptions.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) usesRedis() bool {
	return (o.CacheOptions.Enabled && o.CacheOptions.Backend == "redis") ||
		o.TaskOptions.Broker == "redis" ||
		o.TaskOptions.Backend == "redis"
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		Mode:             o.Mode,
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		TracingOptions:   o.TracingOptions,
		RedisOptions:     o.RedisOptions,
		MilvusOptions:    o.MilvusOptions,
		SQLOptions:       o.SQLOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		CacheOptions:     o.CacheOptions,
		TaskOptions:      o.TaskOptions,
	}, nil
}
