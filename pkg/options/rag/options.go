// Package rag provides retrieval and indexing configuration options.
package rag

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// DefaultSystemPrompt is passed to the generation model with every query.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.
If you cannot find the answer in the context, say so.`

// Options contains chunking, index and document source configuration.
type Options struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the number of trailing characters carried into the next chunk.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the default number of chunks returned from similarity search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// EmbeddingDim is the dimension of embedding vectors.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// Metric is the distance metric (l2, cosine).
	Metric string `json:"metric" mapstructure:"metric"`

	// IndexBackend selects the vector index storage (memory, milvus).
	IndexBackend string `json:"index-backend" mapstructure:"index-backend"`

	// Collection is the Milvus collection name.
	Collection string `json:"collection" mapstructure:"collection"`

	// SystemPrompt is passed to the generation model.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// DocumentsDir is the directory documents are loaded from.
	DocumentsDir string `json:"documents-dir" mapstructure:"documents-dir"`

	// Extensions lists the file extensions treated as documents.
	Extensions []string `json:"extensions" mapstructure:"extensions"`

	// Watch submits an index build when the documents directory changes.
	Watch bool `json:"watch" mapstructure:"watch"`

	// WatchDebounce is how long changes must settle before a rebuild.
	WatchDebounce time.Duration `json:"watch-debounce" mapstructure:"watch-debounce"`

	// MaxBatchQuestions caps the number of questions in one batch query.
	MaxBatchQuestions int `json:"max-batch-questions" mapstructure:"max-batch-questions"`

	// QueryTimeout bounds synchronous queries served over HTTP.
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:         500,
		ChunkOverlap:      50,
		TopK:              3,
		EmbeddingDim:      256,
		Metric:            "l2",
		IndexBackend:      "memory",
		Collection:        "rag_documents",
		SystemPrompt:      DefaultSystemPrompt,
		DocumentsDir:      "data/documents",
		Extensions:        []string{".txt"},
		WatchDebounce:     2 * time.Second,
		MaxBatchQuestions: 10,
		QueryTimeout:      60 * time.Second,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "rag."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Maximum chunk length in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Characters carried over between consecutive chunks.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Number of chunks retrieved per question.")
	fs.IntVar(&o.EmbeddingDim, p+"embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.StringVar(&o.Metric, p+"metric", o.Metric, "Distance metric (l2, cosine).")
	fs.StringVar(&o.IndexBackend, p+"index-backend", o.IndexBackend, "Vector index backend (memory, milvus).")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Milvus collection name.")
	fs.StringVar(&o.SystemPrompt, p+"system-prompt", o.SystemPrompt, "System prompt for generation.")
	fs.StringVar(&o.DocumentsDir, p+"documents-dir", o.DocumentsDir, "Directory to load documents from.")
	fs.StringSliceVar(&o.Extensions, p+"extensions", o.Extensions, "Document file extensions.")
	fs.BoolVar(&o.Watch, p+"watch", o.Watch, "Rebuild the index when the documents directory changes.")
	fs.DurationVar(&o.WatchDebounce, p+"watch-debounce", o.WatchDebounce, "Quiet period before a watch-triggered rebuild.")
	fs.IntVar(&o.MaxBatchQuestions, p+"max-batch-questions", o.MaxBatchQuestions, "Maximum questions per batch query.")
	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Timeout for synchronous queries.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding-dim must be positive"))
	}
	if !options.OneOf(o.Metric, "l2", "cosine") {
		errs = append(errs, fmt.Errorf("rag.metric must be l2 or cosine, got %q", o.Metric))
	}
	if !options.OneOf(o.IndexBackend, "memory", "milvus") {
		errs = append(errs, fmt.Errorf("rag.index-backend must be memory or milvus, got %q", o.IndexBackend))
	}
	if o.IndexBackend == "milvus" && o.Collection == "" {
		errs = append(errs, fmt.Errorf("rag.collection is required for the milvus backend"))
	}
	if o.MaxBatchQuestions <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-batch-questions must be positive"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".txt"}
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 60 * time.Second
	}
	return nil
}
