package toolkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxResolve(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	require.NoError(t, err)

	got, err := sb.Resolve("notes/today.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "notes", "today.txt"), got)

	_, err = sb.Resolve("../outside.txt")
	assert.Error(t, err)

	_, err = sb.Resolve("notes/../../outside.txt")
	assert.Error(t, err)

	_, err = sb.Resolve("")
	assert.Error(t, err)
}

func TestSandboxResolveAbsolutePassthrough(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	other := t.TempDir()
	got, err := sb.Resolve(filepath.Join(other, "x.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(other, "x.log"), got)
}

func TestSandboxSearch(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	for _, name := range []string{"a.log", "b.txt", "sub/c.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	// A bare pattern matches at any depth.
	matches, err := sb.Search("*.log", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.log", filepath.Join("sub", "c.log")}, matches)

	// A pattern with a separator is anchored at the root.
	matches, err = sb.Search("sub/*.log", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("sub", "c.log")}, matches)

	matches, err = sb.Search("*.log", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = sb.Search("/etc/*", 50)
	assert.Error(t, err)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "report.txt", safeName("report.txt"))
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "a_b_c.txt", safeName("a b:c.txt"))
	assert.Equal(t, "artifact.txt", safeName(""))
	assert.Equal(t, "artifact.txt", safeName("   "))
}

func TestArtifactsSaveAndRead(t *testing.T) {
	arts, err := NewArtifacts(t.TempDir())
	require.NoError(t, err)

	path, err := arts.SaveText("report.txt", "first", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(arts.Dir(), "report.txt"), path)

	// Without overwrite a suffix keeps the original intact.
	path2, err := arts.SaveText("report.txt", "second", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(arts.Dir(), "report_1.txt"), path2)

	text, err := arts.ReadText("report.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	// Overwrite replaces in place.
	path3, err := arts.SaveText("report.txt", "third", true)
	require.NoError(t, err)
	assert.Equal(t, path, path3)
	text, err = arts.ReadText("report.txt")
	require.NoError(t, err)
	assert.Equal(t, "third", text)
}

func TestArtifactsList(t *testing.T) {
	arts, err := NewArtifacts(t.TempDir())
	require.NoError(t, err)

	_, err = arts.SaveText("one.txt", "1", false)
	require.NoError(t, err)
	_, err = arts.SaveText("two.txt", "2", false)
	require.NoError(t, err)

	names, err := arts.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.txt", "two.txt"}, names)
}

func TestPreviewTruncates(t *testing.T) {
	long := make([]byte, PreviewLen*2)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, Preview(string(long)), PreviewLen)
	assert.Equal(t, "short", Preview("short"))
}
