package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/llm/local"
)

func newTestEngine(t *testing.T, src DocumentSource, gen *countingGenerator) *Engine {
	t.Helper()
	idx := newTestIndex(t, localEmbedder(), IndexConfig{ChunkSize: 50, TopK: 2})
	cache := newTestCache(CacheConfig{}, newFakeClock(), nil)
	e, err := NewEngine(EngineConfig{
		Source:    src,
		Index:     idx,
		Cache:     cache,
		Generator: gen,
	})
	require.NoError(t, err)
	return e
}

var engineDocs = []Document{
	{ID: "a", Filename: "a.txt", Content: "Go is a programming language. It was designed at Google."},
	{ID: "b", Filename: "b.txt", Content: "Redis is an in-memory data store."},
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	assert.Error(t, err)
}

func TestEngine_ProcessDocuments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})

	rep := &recordingReporter{}
	res, err := e.ProcessDocuments(ctx, false, rep)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DocumentsProcessed)
	assert.Equal(t, 3, res.ChunksIndexed)
	assert.False(t, res.IndexCleared)
	assert.Equal(t, "Successfully processed 2 documents", res.Message)

	assert.Equal(t, []int{10, 30, 30, 55, 90}, rep.percents)
	assert.Equal(t, "Processing document 2 of 2...", rep.messages[3])

	// 不清空时重复索引会累加
	_, err = e.ProcessDocuments(ctx, false, nil)
	require.NoError(t, err)
	stats, err := e.Index().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalVectors)

	res, err = e.ProcessDocuments(ctx, true, nil)
	require.NoError(t, err)
	assert.True(t, res.IndexCleared)
	stats, err = e.Index().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalVectors)
	assert.True(t, stats.Consistent)
}

func TestEngine_ProcessDocuments_NoDocuments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(), &countingGenerator{answer: "x"})
	_, err := e.Index().AddDocuments(ctx, engineDocs[:1])
	require.NoError(t, err)

	res, err := e.ProcessDocuments(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "No documents found in the documents directory", res.Message)
	assert.Equal(t, 0, res.DocumentsProcessed)

	stats, err := e.Index().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors, "index must not be cleared when there is nothing to load")
}

func TestEngine_ProcessDocuments_StoppedMidway(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})

	_, err := e.ProcessDocuments(ctx, false, &recordingReporter{failAt: 55})
	assert.ErrorIs(t, err, errStop)

	stats, err := e.Index().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors, "first document stays indexed")
	assert.False(t, stats.Consistent)
}

func TestEngine_ProcessDocuments_SourceError(t *testing.T) {
	boom := errors.New("disk gone")
	src := DocumentSourceFunc(func(context.Context) ([]Document, error) { return nil, boom })
	e := newTestEngine(t, src, &countingGenerator{answer: "x"})

	_, err := e.ProcessDocuments(context.Background(), false, nil)
	assert.ErrorIs(t, err, boom)
}

func TestEngine_ClearIndex(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})
	_, err := e.ProcessDocuments(ctx, false, nil)
	require.NoError(t, err)

	rep := &recordingReporter{}
	res, err := e.ClearIndex(ctx, rep)
	require.NoError(t, err)
	assert.Equal(t, 3, res.VectorsRemoved)
	assert.Equal(t, []int{50}, rep.percents)

	res, err = e.ClearIndex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.VectorsRemoved)
}

func TestEngine_Query(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "Go is a language."})
	_, err := e.ProcessDocuments(ctx, false, nil)
	require.NoError(t, err)

	rep := &recordingReporter{}
	res, err := e.Query(ctx, "What is Go?", rep)
	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", res.Answer)
	assert.Equal(t, []int{10, 30, 60, 90}, rep.percents)
	assert.Equal(t, "Finalizing response...", rep.messages[3])
}

func TestEngine_QueryWithLocalGenerator(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, localEmbedder(), IndexConfig{TopK: 1})
	e, err := NewEngine(EngineConfig{
		Source:    staticSource(Document{ID: "cats", Content: "Cats are mammals."}),
		Index:     idx,
		Cache:     newTestCache(CacheConfig{}, newFakeClock(), nil),
		Generator: local.New(testDim),
	})
	require.NoError(t, err)

	_, err = e.ProcessDocuments(ctx, false, nil)
	require.NoError(t, err)

	res, err := e.Query(ctx, "What are cats?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", res.Answer)
}

func TestEngine_BatchQuery(t *testing.T) {
	ctx := context.Background()
	gen := &countingGenerator{answer: "answer"}
	e := newTestEngine(t, staticSource(engineDocs...), gen)

	rep := &recordingReporter{}
	res, err := e.BatchQuery(ctx, []string{"one?", "two?", "one?"}, rep)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalQuestions)
	require.Len(t, res.Results, 3)
	assert.Equal(t, SourceGenerated, res.Results[0].Source)
	assert.Equal(t, SourceCache, res.Results[2].Source)
	assert.Equal(t, 2, gen.Calls())

	assert.Equal(t, []int{0, 30, 60, 95}, rep.percents)
	assert.Equal(t, "Processing question 1 of 3...", rep.messages[0])
	assert.Equal(t, "Finalizing batch results...", rep.messages[3])
}

func TestEngine_BatchQueryFailsOnItemError(t *testing.T) {
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})

	_, err := e.BatchQuery(context.Background(), []string{"ok?", " "}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Contains(t, err.Error(), "question 2")
}

func TestEngine_Stats(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})

	docs, err := e.DocumentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, docs.TotalDocuments)
	assert.Equal(t, 3, docs.EstimatedChunks)
	assert.Equal(t, 50, docs.ChunkSize)
	assert.Equal(t, len([]rune(engineDocs[0].Content))+len([]rune(engineDocs[1].Content)), docs.TotalCharacters)

	_, err = e.Query(ctx, "anything?", nil)
	require.NoError(t, err)

	sys, err := e.SystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", sys.SystemStatus)
	assert.Equal(t, 1, sys.Cache.TotalItems)
	assert.Equal(t, 0, sys.Index.TotalVectors)

	assert.Equal(t, 1, e.ClearCache(ctx))
}

func TestEngine_ProcessDocuments_CheckpointBeforeEachAppend(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, staticSource(engineDocs...), &countingGenerator{answer: "x"})

	rep := &recordingReporter{failAtCheck: 2}
	_, err := e.ProcessDocuments(ctx, false, rep)
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 2, rep.checkpoints)

	stats, err := e.Index().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalVectors, "only the first document is appended")
	assert.False(t, stats.Consistent)
}
