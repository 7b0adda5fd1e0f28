// Package llm provides model provider configuration options.
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义模型供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（ollama, local）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Dimension 本地 Embedding 的向量维度。
	Dimension int `json:"dimension" mapstructure:"dimension"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// name 作为 flag 前缀（embedding 或 chat）。
	name string
}

func newProviderOptions(name, model string) *ProviderOptions {
	return &ProviderOptions{
		Provider:   "local",
		BaseURL:    "http://localhost:11434",
		Model:      model,
		Dimension:  256,
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		name:       name,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	return newProviderOptions("embedding", "nomic-embed-text")
}

// NewChatOptions 创建默认生成供应商配置。
func NewChatOptions() *ProviderOptions {
	return newProviderOptions("chat", "llama3.2")
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":    o.BaseURL,
		"embed_model": o.Model,
		"chat_model":  o.Model,
		"dimension":   o.Dimension,
		"timeout":     o.Timeout,
		"max_retries": o.MaxRetries,
	}
}

// AddFlags adds flags for provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + o.name + "."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Model provider (ollama, local).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Vector dimension of the local embedding provider.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Provider request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of retries.")
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !options.OneOf(o.Provider, "ollama", "local") {
		errs = append(errs, fmt.Errorf("%s.provider must be ollama or local, got %q", o.name, o.Provider))
	}
	if o.Provider == "ollama" {
		if o.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base-url is required", o.name))
		}
		if o.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", o.name))
		}
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.name))
	}
	return errs
}

// Complete completes the provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Dimension <= 0 {
		o.Dimension = 256
	}
	return nil
}
