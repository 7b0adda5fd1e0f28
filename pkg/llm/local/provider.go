// Package local 提供无需外部服务的本地供应商：
// 基于特征哈希的 Embedding，以及从提示上下文中抽取答案的生成器。
// 适用于离线运行与测试。
package local

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

const (
	ProviderName     = "local"
	DefaultDimension = 256

	// NoContextAnswer 在提示中没有可用上下文时返回。
	NoContextAnswer = "I don't have enough information in the indexed documents to answer that question."
)

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Provider 本地供应商实现。
type Provider struct {
	dimension int
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider 从配置 map 创建本地供应商，支持 "dimension"。
func NewProvider(config map[string]any) (llm.Provider, error) {
	dim := DefaultDimension
	if v, ok := config["dimension"].(int); ok && v > 0 {
		dim = v
	}
	return New(dim), nil
}

// New 创建指定维度的本地供应商。
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Provider{dimension: dimension}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Dimension 返回向量维度。
func (p *Provider) Dimension() int {
	return p.dimension
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embed(text)
	}
	return out, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text), nil
}

// embed 将词元哈希到固定维度，带符号累加后归一化。
func (p *Provider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, tok := range textutil.Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimension))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	textutil.Normalize(vec)
	return vec
}

// Generate 返回提示上下文中的第一段作为答案；没有上下文时返回固定回复。
func (p *Provider) Generate(ctx context.Context, prompt string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	const marker = "Context: "
	start := strings.Index(prompt, marker)
	if start < 0 {
		return NoContextAnswer, nil
	}
	rest := prompt[start+len(marker):]
	if end := strings.Index(rest, "\n\nQuestion:"); end >= 0 {
		rest = rest[:end]
	}
	first, _, _ := strings.Cut(rest, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return NoContextAnswer, nil
	}
	return first + ".", nil
}
