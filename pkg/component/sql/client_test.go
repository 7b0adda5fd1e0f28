package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlopts "github.com/kart-io/sentinel-rag/pkg/options/sql"
)

func TestNew_SQLite(t *testing.T) {
	opts := sqlopts.NewOptions()
	opts.DSN = filepath.Join(t.TempDir(), "nested", "tasks.db")

	client, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, "sqlite", client.Name())
	assert.NoError(t, client.Ping(context.Background()))
	assert.NotNil(t, client.DB())
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	opts := sqlopts.NewOptions()
	opts.Driver = "oracle"
	_, err = New(context.Background(), opts)
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, parseLogLevel("warn"), parseLogLevel("unknown"))
	assert.NotEqual(t, parseLogLevel("silent"), parseLogLevel("info"))
}
