// Package gitrepo clones GitHub repositories for ingestion, wrapping
// go-git for the clone/checkout mechanics (grounded on the teacher's
// git_helper.go plumbing idiom) and go-github for resolving a repo's
// default branch and HEAD sha before cloning.
package gitrepo

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gogithub "github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"

	"github.com/indexforge/indexforge/internal/observability"
)

// CloneOptions configures a shallow, single-branch clone into a
// caller-owned directory (typically an os.MkdirTemp result, removed by
// the caller once ingestion completes).
type CloneOptions struct {
	URL    string
	Branch string
	SHA    string
	Dir    string
	Depth  int
}

// Repo is a cloned repository ready for walking.
type Repo struct {
	repo *git.Repository
	path string
}

// Clone performs a shallow clone of opts.URL's opts.Branch into
// opts.Dir. A zero Depth defaults to 1 (no history needed for content
// sync). Depth is dropped automatically when SHA is set, since go-git
// cannot check out an arbitrary commit from a depth-limited clone
// unless that commit is the branch tip.
func Clone(ctx context.Context, opts CloneOptions) (*Repo, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}

	cloneOpts := &git.CloneOptions{
		URL:          opts.URL,
		SingleBranch: true,
		Depth:        depth,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}
	if opts.SHA != "" {
		cloneOpts.Depth = 0
	}

	repo, err := git.PlainCloneContext(ctx, opts.Dir, false, cloneOpts)
	if err != nil {
		return nil, observability.Upstream("gitrepo", fmt.Errorf("clone %s: %w", opts.URL, err))
	}

	r := &Repo{repo: repo, path: opts.Dir}

	if opts.SHA != "" {
		if err := r.checkout(opts.SHA); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Repo) checkout(sha string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
		return observability.Upstream("gitrepo", fmt.Errorf("checkout %s: %w", sha, err))
	}
	return nil
}

// Path returns the local filesystem path the repository was cloned to.
func (r *Repo) Path() string {
	return r.path
}

// HeadSHA returns the hex sha of the checked-out commit.
func (r *Repo) HeadSHA() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitrepo: head: %w", err)
	}
	return head.Hash().String(), nil
}

// Close removes the repository's working directory.
func (r *Repo) Close() error {
	return os.RemoveAll(r.path)
}

// ResolveDefaultBranchAndSHA looks up owner/name's default branch and
// its current HEAD sha via the GitHub API, used when a caller does not
// pin a branch/sha explicitly.
func ResolveDefaultBranchAndSHA(ctx context.Context, owner, name, token string) (branch, sha string, err error) {
	client := gogithub.NewClient(httpClient(ctx, token))

	repo, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", "", observability.Upstream("github", fmt.Errorf("get repo %s/%s: %w", owner, name, err))
	}
	branch = repo.GetDefaultBranch()

	ref, _, err := client.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
	if err != nil {
		return "", "", observability.Upstream("github", fmt.Errorf("get ref %s/%s@%s: %w", owner, name, branch, err))
	}
	return branch, ref.GetObject().GetSHA(), nil
}

func httpClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return http.DefaultClient
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return oauth2.NewClient(ctx, ts)
}
