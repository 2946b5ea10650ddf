package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/config"
)

func TestSetupLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain", "rudp.log")
	rotated := filepath.Join(dir, "rotated.log")

	for _, tc := range []struct {
		path   string
		rotate bool
	}{{plain, false}, {rotated, true}} {
		c := config.Default().Log
		c.Format = "json"
		c.Level = "debug"
		c.Outputs = []string{tc.path}
		c.Rotation.Enable = tc.rotate

		log, err := SetupLogger(c)
		require.NoError(t, err)
		log.Debug("hello")
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(tc.path)
		require.NoError(t, err)
		require.Contains(t, string(data), `"msg":"hello"`)
	}
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	c := config.Default().Log
	c.Level = "loud"
	_, err := SetupLogger(c)
	require.Error(t, err)
}

func TestSetupLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	c := config.Default().Log
	c.Level = "warn"
	c.Format = "json"
	c.Outputs = []string{path}
	log, err := SetupLogger(c)
	require.NoError(t, err)
	log.Info("quiet")
	log.Warn("loud")
	require.NoError(t, log.Sync())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "quiet")
	require.Contains(t, string(data), "loud")
}
