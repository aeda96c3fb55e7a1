package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Service: "fairvalue", Out: &buf})

	log.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fairvalue", line["app"])
	assert.Equal(t, "hello", line["message"])
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Out: &buf})

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}
