package cmd

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCommand_ListsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"x", "y"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	addr := startServer(t)
	res := runClientCmd(t, "--config", noConfig(t), "--color", "never", addr, dir)

	require.Equal(t, 0, res.code, res.stderr)
	lines := strings.Split(strings.TrimSuffix(res.stdout, "\n"), "\n")
	sort.Strings(lines)
	assert.Equal(t, []string{"sub", "x", "y"}, lines)
	assert.Empty(t, res.stderr)
}

func TestClientCommand_Usage(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"--color", "never"},
		{"--color", "never", "localhost:1"},
		{"--color", "never", "localhost:1", "/tmp", "extra"},
	} {
		res := runClientCmd(t, args...)
		assert.Equal(t, 1, res.code)
		assert.Equal(t, "Usage: client HOST:PORT PATH\n", res.stderr)
	}
}

func TestClientCommand_ServerError(t *testing.T) {
	t.Parallel()

	addr := startServer(t)

	tests := []struct {
		path string
		want string
	}{
		{"relative/dir", "Error: Path must be absolute\n"},
		{"/definitely/not/here", "Error: Directory doesn't exists\n"},
		{"", "Path is empty\n"},
	}
	for _, tt := range tests {
		res := runClientCmd(t, "--config", noConfig(t), "--color", "never", addr, tt.path)
		assert.Equal(t, 1, res.code)
		assert.Equal(t, tt.want, res.stderr)
		assert.Empty(t, res.stdout)
	}
}

func TestClientCommand_BadAddress(t *testing.T) {
	t.Parallel()

	res := runClientCmd(t, "--config", noConfig(t), "--color", "never", "localhost", "/tmp")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "missing port")
	assert.Equal(t, 1, strings.Count(res.stderr, "\n"))
}

func TestClientCommand_SanitizesNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a\tb"), nil, 0o600))
	addr := startServer(t)

	res := runClientCmd(t, "--config", noConfig(t), "--color", "never", addr, dir)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "a\\x09b\n", res.stdout)

	res = runClientCmd(t, "--config", noConfig(t), "--color", "never", "--raw", addr, dir)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "a\tb\n", res.stdout)
}

func TestClientCommand_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  color: plaid\n"), 0o600))

	res := runClientCmd(t, "--config", path, "--color", "never", "localhost:1", "/tmp")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "invalid config")
}

func TestClientCommand_ColoredError(t *testing.T) {
	t.Parallel()

	addr := startServer(t)
	res := runClientCmd(t, "--config", noConfig(t), "--color", "always", addr, "relative")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "\x1b[")
	assert.Contains(t, res.stderr, "Error: Path must be absolute")
}
