package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-swap-engine/internal/config"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.log")

	logger, err := New(config.LoggingConfig{
		Level:       "debug",
		Encoding:    "json",
		OutputPaths: []string{path},
	}, "swap-test")
	require.NoError(t, err)

	logger.Debug("trade.started", zap.String("trade_id", "t-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "trade.started", line["msg"])
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "swap-test", line["service"])
	assert.Equal(t, "t-1", line["trade_id"])
	assert.Contains(t, line, "ts")
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.log")

	logger, err := New(config.LoggingConfig{Level: "WARN", Encoding: "json", OutputPaths: []string{path}}, "swap")
	require.NoError(t, err)

	logger.Info("dropped")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, "swap")
	assert.Error(t, err)
}
