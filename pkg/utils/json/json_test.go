package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Key      string  `json:"key"`
	Answer   string  `json:"answer"`
	Progress int     `json:"progress"`
	Score    float64 `json:"score,omitempty"`
}

func TestMarshalString(t *testing.T) {
	s, err := MarshalString(record{Key: "k", Answer: "猫是哺乳动物", Progress: 30})
	require.NoError(t, err)

	var out record
	require.NoError(t, UnmarshalString(s, &out))
	assert.Equal(t, "k", out.Key)
	assert.Equal(t, "猫是哺乳动物", out.Answer)
	assert.Equal(t, 30, out.Progress)
}

func TestEncodedSize(t *testing.T) {
	n, err := EncodedSize(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, len(`{"a":"b"}`), n)
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(record{Key: "x", Progress: 95}))

	var out record
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, 95, out.Progress)
}
