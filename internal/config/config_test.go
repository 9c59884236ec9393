package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "routine.json5"))
	require.NoError(t, err)
	require.Equal(t, DriverChrome, cfg.Driver)
	require.Equal(t, uint(3), cfg.Cortex.Attempts)
	require.Equal(t, uint(5), cfg.Roster.Attempts)
	require.Equal(t, 4, cfg.Batch.WorkerCount())
	require.Equal(t, 30*time.Second, Duration(cfg.Session.Wait))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routine.json5")
	err := os.WriteFile(path, []byte(`{
		driver: "http",
		logistics: { base_url: "https://logistics.test/internal" },
		cortex: { attempts: 7, flex_only: true },
		batch: { workers: 64, stagger: "1s" },
	}`), 0600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DriverHttp, cfg.Driver)
	require.Equal(t, uint(7), cfg.Cortex.Attempts)
	require.Equal(t, "2s", cfg.Cortex.Backoff)
	require.True(t, cfg.Cortex.FlexOnly)
	require.Equal(t, MaxWorkers, cfg.Batch.WorkerCount())
	require.Equal(t, time.Second, Duration(cfg.Batch.Stagger))
	require.NoError(t, cfg.RequireLogistics())
	require.Error(t, cfg.RequireLogin())
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Driver = "firefox"
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Cortex.Wait = "soon"
	require.ErrorContains(t, cfg.Validate(), "cortex.wait")
}

func TestClampWorkers(t *testing.T) {
	require.Equal(t, 1, ClampWorkers(0))
	require.Equal(t, 1, ClampWorkers(-3))
	require.Equal(t, 10, ClampWorkers(10))
	require.Equal(t, 16, ClampWorkers(17))
}
