// Package hashutil computes content-addressable SHA-256 digests of files,
// the primitive the sync pipeline uses to decide whether a file's content
// actually changed since the last indexed run.
package hashutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/indexforge/indexforge/internal/security"
)

// Calculator hashes files rooted under basePath, rejecting any path that
// would escape it.
type Calculator struct {
	basePath string
}

// New creates a Calculator scoped to basePath.
func New(basePath string) *Calculator {
	return &Calculator{basePath: basePath}
}

// HashFile returns the hex-encoded SHA-256 digest of the file at path.
// path is validated to stay within the calculator's base path before it
// is opened.
func (c *Calculator) HashFile(path string) (string, error) {
	if _, err := security.ValidatePathWithinBase(path, c.basePath); err != nil {
		if errors.Is(err, security.ErrPathTraversal) {
			return "", fmt.Errorf("hashutil: path traversal detected for %s: %w", path, err)
		}
		return "", fmt.Errorf("hashutil: invalid path %s: %w", path, err)
	}

	// #nosec G304 - path validated above with ValidatePathWithinBase
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashutil: open %s: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashutil: read %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashString returns the hex-encoded SHA-256 digest of s. Used to derive
// deterministic collection names (scope.CollectionNameFor).
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashAll hashes paths concurrently, bounded by maxConcurrency, and
// returns a map of path to digest plus any per-file errors encountered.
// A failure on one file does not stop hashing of the others.
func (c *Calculator) HashAll(ctx context.Context, paths []string, maxConcurrency int) (map[string]string, []error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(paths))
		errs    []error
		wg      sync.WaitGroup
		sem     = make(chan struct{}, maxConcurrency)
	)

	for _, p := range paths {
		select {
		case <-ctx.Done():
			mu.Lock()
			errs = append(errs, fmt.Errorf("hashutil: %s: %w", p, ctx.Err()))
			mu.Unlock()
			continue
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			digest, err := c.HashFile(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results[path] = digest
		}(p)
	}

	wg.Wait()
	return results, errs
}
