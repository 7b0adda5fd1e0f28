package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider 模拟供应商实现，用于测试。
type mockProvider struct {
	name string
}

var _ Provider = (*mockProvider)(nil)

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ string) (string, error) {
	return "mock generated text", nil
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test-provider", func(config map[string]any) (Provider, error) {
		name := "test-provider"
		if n, ok := config["name"].(string); ok {
			name = n
		}
		return &mockProvider{name: name}, nil
	})

	emb, err := NewEmbeddingProvider("test-provider", map[string]any{"name": "custom-name"})
	require.NoError(t, err)
	assert.Equal(t, "custom-name", emb.Name())

	chat, err := NewChatProvider("test-provider", nil)
	require.NoError(t, err)
	out, err := chat.Generate(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "mock generated text", out)

	assert.Contains(t, ListProviders(), "test-provider")
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewEmbeddingProvider("non-existent", nil)
	assert.Error(t, err)

	_, err = NewChatProvider("non-existent", nil)
	assert.Error(t, err)
}
