package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	options "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), options.NewOptions())
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = "zipkin"

	_, err := NewProvider(context.Background(), opts)
	assert.Error(t, err)
}

func TestNewProvider_NoopExporter(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = options.ExporterNoop
	opts.SamplerType = options.SamplerAlwaysOn

	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "query", attribute.String("question", "q"))
	assert.True(t, span.IsRecording())
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}
