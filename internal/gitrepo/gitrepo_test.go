package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalOriginRepo creates a local git repository with one commit and
// returns its path, usable as a file:// clone source so the test suite
// never dials the network.
func newLocalOriginRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)

	return dir
}

func TestClone_ShallowClonesDefaultBranch(t *testing.T) {
	origin := newLocalOriginRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	repo, err := Clone(context.Background(), CloneOptions{URL: origin, Dir: dest})
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, dest, repo.Path())
	_, err = os.Stat(filepath.Join(dest, "README.md"))
	assert.NoError(t, err)

	sha, err := repo.HeadSHA()
	require.NoError(t, err)
	assert.Len(t, sha, 40)
}

func TestClone_InvalidURLReturnsUpstreamError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "clone")
	_, err := Clone(context.Background(), CloneOptions{URL: "/nonexistent/path/to/repo", Dir: dest})
	assert.Error(t, err)
}

func TestRepo_CloseRemovesWorkingDirectory(t *testing.T) {
	origin := newLocalOriginRepo(t)
	dest := filepath.Join(t.TempDir(), "clone")

	repo, err := Clone(context.Background(), CloneOptions{URL: origin, Dir: dest})
	require.NoError(t, err)

	require.NoError(t, repo.Close())
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}
