package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

func TestEmbedDeterministic(t *testing.T) {
	p := New(64)
	ctx := context.Background()

	a, err := p.EmbedSingle(ctx, "Cats are mammals")
	require.NoError(t, err)
	b, err := p.EmbedSingle(ctx, "Cats are mammals")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestEmbedSimilarity(t *testing.T) {
	p := New(DefaultDimension)
	vecs, err := p.Embed(context.Background(), []string{
		"What are mammals?",
		"Cats are mammals",
		"The stock market closed higher",
	})
	require.NoError(t, err)

	related := textutil.CosineSimilarity(vecs[0], vecs[1])
	unrelated := textutil.CosineSimilarity(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.Less(t, related, 1.0)
}

func TestGenerate(t *testing.T) {
	p := New(8)
	ctx := context.Background()

	out, err := p.Generate(ctx, "Context: Cats are mammals\nDogs are mammals too\n\nQuestion: What are mammals?\nAnswer:", "")
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", out)

	out, err = p.Generate(ctx, "Question: What are mammals?\nAnswer:", "")
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, out)
}

func TestRegistered(t *testing.T) {
	emb, err := llm.NewEmbeddingProvider(ProviderName, map[string]any{"dimension": 32})
	require.NoError(t, err)

	v, err := emb.EmbedSingle(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 32)
}

func TestEmbedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
