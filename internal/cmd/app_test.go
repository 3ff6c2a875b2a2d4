package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/nodestate"
	"github.com/fclairamb/treemount/internal/store"
)

const testConfig = `
global:
  dir: global
mounts:
  - name: libs
    paths: [/libs]
    dir: libs
  - name: apps
    paths: [/apps]
    readOnly: true
    dir: apps
`

// runApp runs the CLI with args and returns its standard output.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	// Logs go through the process-wide default logger.
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"treemount"}, args...))
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treemount.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var coder cli.ExitCoder
	require.True(t, errors.As(err, &coder), "expected an exit coder, got %v", err)
	return coder.ExitCode()
}

func TestMountsCommand(t *testing.T) {
	t.Parallel()
	out, err := runApp(t, "--config", writeTestConfig(t), "mounts")
	require.NoError(t, err)
	assert.Contains(t, out, "global")
	assert.Contains(t, out, "(default)")
	assert.Regexp(t, `apps\s+ro\s+/apps`, out)
	assert.Regexp(t, `libs\s+rw\s+/libs`, out)
}

func TestResolveCommand(t *testing.T) {
	t.Parallel()
	cfg := writeTestConfig(t)

	out, err := runApp(t, "--config", cfg, "resolve", "/libs/foo", "/content", "/apps")
	require.NoError(t, err)
	assert.Equal(t, "/libs/foo\tlibs\n/content\tglobal\n/apps\tapps\n", out)

	_, err = runApp(t, "--config", cfg, "resolve", "libs")
	require.ErrorIs(t, err, apperrors.ErrInvalidMountPath)
}

func TestOperatorCommandsRequireConfig(t *testing.T) {
	t.Parallel()
	_, err := runApp(t, "mounts")
	require.ErrorIs(t, err, apperrors.ErrConfigRequired)
}

func TestSetTreeRemove(t *testing.T) {
	t.Parallel()
	cfg := writeTestConfig(t)

	_, err := runApp(t, "--config", cfg, "set", "/libs/foo", "title", "hello")
	require.NoError(t, err)
	_, err = runApp(t, "--config", cfg, "set", "--type", "long", "/content", "count", "3")
	require.NoError(t, err)

	out, err := runApp(t, "--config", cfg, "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "content")
	assert.Contains(t, out, "@count = 3")
	assert.Contains(t, out, `@title = "hello"`)

	// The mount's content lives in the mount's own store.
	libs, err := store.OpenGitStore(filepath.Join(filepath.Dir(cfg), "libs"))
	require.NoError(t, err)
	root, err := libs.Root(context.Background())
	require.NoError(t, err)
	assert.True(t, nodestate.Navigate(root, "libs", "foo").HasProperty("title"))

	_, err = runApp(t, "--config", cfg, "remove", "/libs/foo")
	require.NoError(t, err)
	_, err = runApp(t, "--config", cfg, "tree", "/libs/foo")
	require.ErrorIs(t, err, apperrors.ErrNodeNotFound)

	_, err = runApp(t, "--config", cfg, "remove", "/libs/foo")
	require.ErrorIs(t, err, apperrors.ErrNodeNotFound)
}

func TestSetRejectsReadOnlyMount(t *testing.T) {
	t.Parallel()
	cfg := writeTestConfig(t)

	_, err := runApp(t, "--config", cfg, "set", "/apps/app", "version", "2")
	require.ErrorIs(t, err, apperrors.ErrReadOnlyMount)

	_, err = runApp(t, "--config", cfg, "set", "/libs/foo")
	assert.Equal(t, exitMissingArgs, exitCode(t, err))

	_, err = runApp(t, "--config", cfg, "set", "--type", "long", "/libs/foo", "n", "many")
	require.ErrorIs(t, err, apperrors.ErrInvalidPropertyValue)
}

func TestParseProperty(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ      string
		raw      string
		expected nodestate.Type
		value    any
	}{
		{typ: "string", raw: "x", expected: nodestate.TypeString, value: "x"},
		{typ: "LONG", raw: "42", expected: nodestate.TypeLong, value: int64(42)},
		{typ: "double", raw: "1.5", expected: nodestate.TypeDouble, value: 1.5},
		{typ: "boolean", raw: "true", expected: nodestate.TypeBoolean, value: true},
		{typ: "path", raw: "/a/b", expected: nodestate.TypePath, value: "/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			t.Parallel()
			p, err := parseProperty(tt.typ, "p", tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.Type())
			assert.Equal(t, tt.value, p.Value())
		})
	}

	_, err := parseProperty("decimal", "p", "1")
	require.ErrorIs(t, err, apperrors.ErrInvalidConfig)
	_, err = parseProperty("date", "p", "yesterday")
	require.ErrorIs(t, err, apperrors.ErrInvalidPropertyValue)
}

func TestCompactCommand(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := store.OpenGitStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	root, err := s.Root(ctx)
	require.NoError(t, err)
	b := root.Builder()
	child, err := b.AddChildNode("content")
	require.NoError(t, err)
	require.NoError(t, child.SetProperty(nodestate.StringProperty("title", "hello")))
	_, err = s.Merge(ctx, b, nil, nil)
	require.NoError(t, err)

	out, err := runApp(t, "compact", dir)
	require.NoError(t, err)
	if runtime.GOOS == "windows" {
		assert.Contains(t, out, "with enforced regular access mode\n")
	} else {
		assert.Contains(t, out, "Compacting "+dir+" with default access mode\n")
	}
	assert.Contains(t, out, "    before \n")
	assert.Regexp(t, `    size .+ \(\d+ bytes\)\n`, out)
	assert.Contains(t, out, "    -> compacting\n")
	assert.Contains(t, out, "    after \n")
	assert.Contains(t, out, "    removed files [")
	assert.Contains(t, out, "    added files [")
	assert.Contains(t, out, "Compaction succeeded in ")

	out, err = runApp(t, "compact", "--mmap=false", dir)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Contains(t, out, "with regular access mode\n")
	}
}

func TestCompactCommandErrors(t *testing.T) {
	t.Parallel()
	_, err := runApp(t, "compact")
	assert.Equal(t, exitMissingArgs, exitCode(t, err))

	out, err := runApp(t, "compact", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, exitFailure, exitCode(t, err))
	assert.Contains(t, out, "Compaction failed in ")
}

func TestFileChanges(t *testing.T) {
	t.Parallel()
	before := []store.FileEntry{{Name: "a"}, {Name: "b"}}
	after := []store.FileEntry{{Name: "b"}, {Name: "c"}}
	removed, added := fileChanges(before, after)
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"c"}, added)

	removed, added = fileChanges(nil, nil)
	assert.Empty(t, removed)
	assert.Empty(t, added)
}

func TestPushCommand(t *testing.T) {
	t.Parallel()
	cfg := writeTestConfig(t)

	out, err := runApp(t, "--config", cfg, "push")
	require.NoError(t, err)
	assert.Equal(t, "global: no remote\nlibs: no remote\napps: no remote\n", out)

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is required for local push")
	}
	dir := t.TempDir()
	mirror := filepath.Join(dir, "mirror.git")
	_, err = git.PlainInit(mirror, true)
	require.NoError(t, err)
	withRemote := filepath.Join(dir, "treemount.yaml")
	require.NoError(t, os.WriteFile(withRemote, []byte("global:\n  dir: global\n  remote: "+mirror+"\n"), 0o600))

	_, err = runApp(t, "--config", withRemote, "set", "/content", "title", "hello")
	require.NoError(t, err)
	out, err = runApp(t, "--config", withRemote, "push")
	require.NoError(t, err)
	assert.Equal(t, "global: ok\n", out)

	out, err = runApp(t, "--config", withRemote, "push", "--check")
	require.NoError(t, err)
	assert.Equal(t, "global: ok\n", out)
}
