package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandTilde("~/models/db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "models/db"), got)

	got, err = ExpandTilde("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandTilde("/etc/kaitiaki.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/kaitiaki.toml", got)

	got, err = ExpandTilde("~other/x")
	require.NoError(t, err)
	assert.Equal(t, "~other/x", got)
}

func TestStatePath(t *testing.T) {
	got, err := StatePath("/srv/kaitiaki/kaitiaki.toml")
	require.NoError(t, err)
	assert.Equal(t, "/srv/kaitiaki/state.json", got)

	t.Setenv(HomeEnv, "")
	got, err = StatePath("")
	require.NoError(t, err)
	assert.Equal(t, "state.json", filepath.Base(got))
	assert.Equal(t, ".kaitiaki", filepath.Base(filepath.Dir(got)))
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "metrics.db")

	require.NoError(t, EnsureParentDir(target))

	info, err := os.Stat(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestHomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	got, err := StatePath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state.json"), got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "kaitiaki.yaml"), []byte("log:\n  level: debug\n"), 0600))
	t.Chdir(t.TempDir())

	found, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "kaitiaki.yaml"), found)
}

func TestConfigPathNone(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Chdir(t.TempDir())

	found, err := ConfigPath()
	require.NoError(t, err)
	assert.Empty(t, found)
}
