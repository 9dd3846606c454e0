package scan

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kgingest/internal/graph"
)

func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "a@b.c")
	run("config", "user.name", "tester")
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	run("add", "-A")
	run("commit", "-q", "-m", "init")
	return root
}

func TestScanClassifiesFiles(t *testing.T) {
	root := initRepo(t, map[string]string{
		"main.go":       "package main\n",
		"docs/readme.md": "# Title\n",
		"config.yaml":   "key: value\n",
	})
	inv, err := New(root).Scan(Options{})
	require.NoError(t, err)
	require.Len(t, inv.Files, 3)

	byPath := map[string]FileRecord{}
	for _, f := range inv.Files {
		byPath[f.Path] = f
	}
	require.Equal(t, graph.FileKindCode, byPath["main.go"].Kind)
	require.Equal(t, graph.FileKindDoc, byPath["docs/readme.md"].Kind)
	require.Equal(t, graph.FileKindConfig, byPath["config.yaml"].Kind)
}

func TestScanExcludesUntrackedByDefault(t *testing.T) {
	root := initRepo(t, map[string]string{"a.go": "package main\n"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package main\n"), 0644))

	inv, err := New(root).Scan(Options{})
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)

	inv, err = New(root).Scan(Options{IncludeUntracked: true})
	require.NoError(t, err)
	require.Len(t, inv.Files, 2)
}

func TestScanSubpathScoping(t *testing.T) {
	root := initRepo(t, map[string]string{
		"src/a.go":  "package src\n",
		"other/b.go": "package other\n",
	})
	inv, err := New(root).Scan(Options{Subpath: "src"})
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)
	require.Equal(t, "src/a.go", inv.Files[0].Path)
}

func TestReadTextValidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	res, err := ReadText(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", res.Text)
	require.Equal(t, "utf-8", res.Decoding.Encoding)
	require.False(t, res.Decoding.FallbackUsed)
}

func TestReadTextInvalidUTF8FallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x68, 0x65, 0xff, 0xfe, 0x6f}, 0644))

	res, err := ReadText(path)
	require.NoError(t, err)
	require.True(t, res.Decoding.FallbackUsed)
	require.Equal(t, "latin-1", res.Decoding.Encoding)
}

func TestIsBinaryDetectsNulByte(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02}, 0644))

	bin, err := IsBinary(path)
	require.NoError(t, err)
	require.True(t, bin)
}

func TestToRepoPOSIXNormalizes(t *testing.T) {
	require.Equal(t, "a/b/c", ToRepoPOSIX(filepath.FromSlash("a/b/c")))
}

func TestContentHashIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable content"), 0644))

	h1, err := ContentHash(path)
	require.NoError(t, err)
	h2, err := ContentHash(path)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
