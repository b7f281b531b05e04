package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picotelemetry.log")
	done, err := Setup(Options{File: path, Level: "debug", MaxSizeMB: 1})
	require.NoError(t, err)

	zap.S().Debugw("processor discovered", "logical", 8)
	done()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "processor discovered")
	assert.Contains(t, string(b), "logical")
}

func TestSetupLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picotelemetry.log")
	done, err := Setup(Options{File: path, Level: "warn", JSON: true})
	require.NoError(t, err)

	zap.S().Info("hidden")
	zap.S().Warn("shown")
	done()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, string(b), `"msg":"shown"`)
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}
