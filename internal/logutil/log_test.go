package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stm.log")
	lg, err := InitLogger(&Config{Level: "debug", Format: "json", File: FileLogConfig{Filename: path}})
	require.NoError(t, err)

	lg.Debug("transaction aborted", zap.String("reason", "validation"))
	lg.Info("engine summary", zap.Uint64("commits", 3))
	_ = lg.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"transaction aborted"`)
	assert.Contains(t, string(data), `"reason":"validation"`)
	assert.Contains(t, string(data), `"commits":3`)
}

func TestInitLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stm.log")
	lg, err := InitLogger(&Config{Level: "warn", File: FileLogConfig{Filename: path}})
	require.NoError(t, err)

	lg.Info("hidden")
	lg.Warn("shown")
	_ = lg.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
	assert.Contains(t, string(data), "WARN")
}

func TestInitLoggerErrors(t *testing.T) {
	_, err := InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)
	_, err = InitLogger(&Config{Format: "xml"})
	assert.Error(t, err)

	lg, err := InitLogger(&Config{})
	require.NoError(t, err)
	assert.NotNil(t, lg)
}
