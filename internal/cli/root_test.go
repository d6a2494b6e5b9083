package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/arbiter/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := NewRootCommand()

	want := []string{"status", "nodes", "events", "failover", "maintenance", "login", "version", "init"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestVersion_ReportsClientAndServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/version", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"1.2.3","go":"go1.25.0"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--server", srv.URL, "--json"})
	require.NoError(t, root.Execute())
}

func TestVersion_ToleratesUnreachableServer(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"version", "--server", "http://127.0.0.1:1", "--json"})
	assert.NoError(t, root.Execute(), "client version still prints when the daemon is down")
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")

	root := NewRootCommand()
	root.SetArgs([]string{"init", "--output", path})
	require.NoError(t, root.Execute())

	// The starter file must come back through the real loader.
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zabbix-ha", cfg.Cluster.Name)
	assert.Equal(t, "server", cfg.Cluster.Role)
	assert.Equal(t, 15*time.Second, cfg.Lease.TTL)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInit_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o600))

	root := NewRootCommand()
	root.SetArgs([]string{"init", "--output", path})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// --force replaces it.
	root = NewRootCommand()
	root.SetArgs([]string{"init", "--output", path, "--force"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "existing", string(data))
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ARBITER_SERVER", "http://node-2:8080")
	assert.Equal(t, "http://node-2:8080", envOr("ARBITER_SERVER", "fallback"))
	assert.Equal(t, "fallback", envOr("ARBITER_SERVER_MISSING", "fallback"))
}
