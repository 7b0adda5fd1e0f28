package biz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/local"
)

const testDim = 64

// fixedEmbedder 返回固定维度的向量，用于制造维度错误。
type fixedEmbedder struct {
	dim int
}

var _ llm.EmbeddingProvider = (*fixedEmbedder)(nil)

func (f *fixedEmbedder) Name() string { return "fixed" }

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

// countingGenerator 记录调用次数和最后一次提示。
type countingGenerator struct {
	mu         sync.Mutex
	calls      int
	lastPrompt string
	lastSystem string
	answer     string
	err        error
}

var _ llm.ChatProvider = (*countingGenerator)(nil)

func (g *countingGenerator) Name() string { return "counting" }

func (g *countingGenerator) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastPrompt = prompt
	g.lastSystem = systemPrompt
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingReporter 记录进度，可在指定百分比或检查点返回错误。
type recordingReporter struct {
	mu          sync.Mutex
	percents    []int
	messages    []string
	failAt      int
	checkpoints int
	failAtCheck int
}

var errStop = errors.New("stop requested")

func (r *recordingReporter) Report(_ context.Context, percent int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	r.messages = append(r.messages, message)
	if r.failAt > 0 && percent >= r.failAt {
		return errStop
	}
	return nil
}

func (r *recordingReporter) Checkpoint(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints++
	if r.failAtCheck > 0 && r.checkpoints >= r.failAtCheck {
		return errStop
	}
	return nil
}

// gatedEmbedder 在 gate 关闭前阻塞批量嵌入，首次进入时通知 entered。
type gatedEmbedder struct {
	*local.Provider
	gate    chan struct{}
	entered chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{Provider: localEmbedder(), entered: make(chan struct{}, 1)}
}

// arm 使后续的 Embed 调用阻塞，直到返回的函数被调用。
func (g *gatedEmbedder) arm() (release func()) {
	gate := make(chan struct{})
	g.gate = gate
	return func() { close(gate) }
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if gate := g.gate; gate != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Provider.Embed(ctx, texts)
}

func newTestIndex(t *testing.T, embedder llm.EmbeddingProvider, cfg IndexConfig) *VectorIndex {
	t.Helper()
	backend, err := store.NewMemoryBackend(cfg.Metric)
	require.NoError(t, err)
	if cfg.Dimension == 0 {
		cfg.Dimension = testDim
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 500
	}
	idx, err := NewVectorIndex(backend, embedder, cfg, nil)
	require.NoError(t, err)
	return idx
}

func localEmbedder() *local.Provider {
	return local.New(testDim)
}

func staticSource(docs ...Document) DocumentSource {
	return DocumentSourceFunc(func(context.Context) ([]Document, error) { return docs, nil })
}
