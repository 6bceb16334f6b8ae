package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_DirOnlyPattern(t *testing.T) {
	m := New([]string{"node_modules/"})

	assert.True(t, m.Match("node_modules", true))
	assert.True(t, m.Match("node_modules/left-pad/index.js", false))
	assert.False(t, m.Match("src/node_modules_backup", false))
}

func TestMatcher_Negation(t *testing.T) {
	m := New([]string{"*.log", "!important.log"})

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))
}

func TestMatcher_Anchored(t *testing.T) {
	m := New([]string{"/build"})

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("src/build", true))
}

func TestMatcher_Admit_WithAllowlist(t *testing.T) {
	m := New(DefaultPatterns()).WithAdmission([]string{".go", ".md"}, []string{"Dockerfile"})

	assert.True(t, m.Admit("main.go"))
	assert.True(t, m.Admit("README.md"))
	assert.True(t, m.Admit("Dockerfile"))
	assert.False(t, m.Admit("image.png"))
	assert.False(t, m.Admit("vendor/lib.go"))
}

func TestMatcher_Admit_NoAllowlistAcceptsAnythingNotIgnored(t *testing.T) {
	m := New(DefaultPatterns())
	assert.True(t, m.Admit("main.go"))
	assert.False(t, m.Admit(".git/HEAD"))
}

func TestLoadDatasetPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.tmp\n# comment\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dockerignore"), []byte("*.cache\n"), 0o644))

	patterns, err := LoadDatasetPatterns(dir)
	require.NoError(t, err)
	assert.Contains(t, patterns, "*.tmp")
	assert.Contains(t, patterns, "*.cache")
	assert.Contains(t, patterns, "node_modules/")
}

func TestLoadFile_MissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	patterns, err := LoadFile(filepath.Join(dir, ".gitignore"), dir)
	require.NoError(t, err)
	assert.Nil(t, patterns)
}

func TestLoadFile_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.tmp"), 0o644))

	_, err := LoadFile(path, dir)
	assert.Error(t, err)
}
