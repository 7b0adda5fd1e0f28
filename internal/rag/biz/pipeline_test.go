package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "Question: What?\nAnswer:", BuildPrompt("What?", nil))
	assert.Equal(t,
		"Context: first\nsecond\n\nQuestion: What?\nAnswer:",
		BuildPrompt("What?", []string{"first", "second"}),
	)
}

func newTestPipeline(t *testing.T, gen *countingGenerator, docs ...Document) (*QueryPipeline, *ResultCache) {
	t.Helper()
	idx := newTestIndex(t, localEmbedder(), IndexConfig{TopK: 2})
	_, err := idx.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
	cache := newTestCache(CacheConfig{}, newFakeClock(), nil)
	return NewQueryPipeline(cache, idx, gen, "be brief", nil), cache
}

func TestQueryPipeline_EmptyQuestion(t *testing.T) {
	p, _ := newTestPipeline(t, &countingGenerator{answer: "x"})
	_, err := p.Query(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestQueryPipeline_NoContext(t *testing.T) {
	gen := &countingGenerator{answer: "no idea"}
	p, _ := newTestPipeline(t, gen)

	res, err := p.Query(context.Background(), "What is Go?", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, res.Source)
	assert.Equal(t, 0, res.RetrievedChunks)
	assert.False(t, res.ContextUsed)
	assert.Equal(t, "Question: What is Go?\nAnswer:", gen.lastPrompt)
	assert.Equal(t, "be brief", gen.lastSystem)
}

func TestQueryPipeline_GeneratedThenCached(t *testing.T) {
	ctx := context.Background()
	gen := &countingGenerator{answer: "Cats are mammals."}
	p, _ := newTestPipeline(t, gen,
		Document{ID: "cats", Filename: "cats.txt", Content: "Cats are mammals."},
		Document{ID: "dogs", Filename: "dogs.txt", Content: "Dogs bark."},
	)

	rep := &recordingReporter{}
	res, err := p.Query(ctx, "What are cats?", rep)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, res.Source)
	assert.Equal(t, "Cats are mammals.", res.Answer)
	assert.Equal(t, 2, res.RetrievedChunks)
	assert.True(t, res.ContextUsed)
	require.Len(t, res.Sources, 2)
	assert.Contains(t, gen.lastPrompt, "Context: ")
	assert.Contains(t, gen.lastPrompt, "\n\nQuestion: What are cats?\nAnswer:")
	assert.Equal(t, []int{30, 60}, rep.percents)

	rep = &recordingReporter{}
	res, err = p.Query(ctx, "  what are CATS?", rep)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "Cats are mammals.", res.Answer)
	assert.Equal(t, 0, res.RetrievedChunks)
	assert.Empty(t, rep.percents)
	assert.Equal(t, 1, gen.Calls())
}

func TestQueryPipeline_StopBeforeGeneration(t *testing.T) {
	gen := &countingGenerator{answer: "x"}
	p, cache := newTestPipeline(t, gen, Document{ID: "d", Content: "Some content."})

	_, err := p.Query(context.Background(), "question", &recordingReporter{failAt: 60})
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 0, gen.Calls())
	assert.Equal(t, 0, cache.Stats(context.Background()).TotalItems)
}

func TestQueryPipeline_GeneratorErrorNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model offline")
	gen := &countingGenerator{err: boom}
	p, cache := newTestPipeline(t, gen, Document{ID: "d", Content: "Some content."})

	_, err := p.Query(ctx, "question", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Stats(ctx).TotalItems)
}

func TestQueryPipeline_CancelledContext(t *testing.T) {
	gen := &countingGenerator{answer: "x"}
	p, _ := newTestPipeline(t, gen, Document{ID: "d", Content: "Some content."})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Query(ctx, "question", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gen.Calls())
}

func TestQueryPipeline_CancelledAfterGenerationNotCached(t *testing.T) {
	ctx := context.Background()
	gen := &countingGenerator{answer: "x"}
	p, cache := newTestPipeline(t, gen, Document{ID: "d", Content: "Some content."})

	rep := &recordingReporter{failAtCheck: 1}
	_, err := p.Query(ctx, "question", rep)
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 1, rep.checkpoints)
	assert.Equal(t, 0, cache.Stats(ctx).TotalItems)
}
