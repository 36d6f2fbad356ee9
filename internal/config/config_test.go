package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	t.Setenv("KEYLEDGER_SECRET", "s3cret")

	c, err := LoadServer()
	require.NoError(t, err)
	require.Equal(t, ":7861", c.Addr)
	require.Equal(t, StoreBadger, c.Store)
	require.Equal(t, "./data/ledger", c.DataDir)
	require.Equal(t, "cflow-server", c.DeploymentID)
	require.Equal(t, 5, c.MaxFailures)
	require.Equal(t, 15*time.Minute, c.FailureWindow)
	require.Equal(t, "s3cret", c.Secret)
	require.NoError(t, c.Validate())
}

func TestLoadServer_Overrides(t *testing.T) {
	t.Setenv("KEYLEDGER_SECRET", "x")
	t.Setenv("KEYLEDGER_ADDR", "127.0.0.1:9000")
	t.Setenv("KEYLEDGER_STORE", "postgres")
	t.Setenv("KEYLEDGER_DSN", "postgres://u:p@db/ledger")
	t.Setenv("KEYLEDGER_BLOCK_FOR", "1h")
	t.Setenv("KEYLEDGER_DEV", "true")

	c, err := LoadServer()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", c.Addr)
	require.Equal(t, StorePostgres, c.Store)
	require.Equal(t, time.Hour, c.BlockFor)
	require.True(t, c.Dev)
	require.NoError(t, c.Validate())
}

func TestLoadServer_BadValue(t *testing.T) {
	t.Setenv("KEYLEDGER_MAX_FAILURES", "many")
	_, err := LoadServer()
	require.Error(t, err)
}

func TestServer_Validate(t *testing.T) {
	t.Parallel()

	ok := Server{Secret: "s", Store: StoreBadger, DataDir: "d", DeploymentID: "id", MaxFailures: 1, FailureWindow: time.Second, BlockFor: time.Second}
	require.NoError(t, ok.Validate())

	c := ok
	c.Secret = ""
	require.ErrorIs(t, c.Validate(), ErrMissingSecret)

	c = ok
	c.Store = "redis"
	require.Error(t, c.Validate())

	c = ok
	c.Store = StorePostgres
	require.Error(t, c.Validate())

	c = ok
	c.MaxFailures = 0
	require.Error(t, c.Validate())

	c = ok
	c.DeploymentID = ""
	require.Error(t, c.Validate())
}

func TestLoadClient(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("KEYLEDGER_SECRET", "s")

	c, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:7861", c.ServerURL)
	require.Equal(t, 10*time.Second, c.Timeout)
	require.Equal(t, filepath.Join(dir, "keyledger"), c.StateDir)
	require.NoError(t, c.Validate())

	c.Secret = ""
	require.ErrorIs(t, c.Validate(), ErrMissingSecret)
	c.Secret = "s"
	c.Timeout = 0
	require.Error(t, c.Validate())
}
