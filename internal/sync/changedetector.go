// Package sync implements incremental content synchronization: detecting
// which files under a dataset's root changed since the last run, and
// applying that plan against the metadata store and vector store.
package sync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/indexforge/indexforge/internal/filemeta"
	"github.com/indexforge/indexforge/internal/hashutil"
	"github.com/indexforge/indexforge/internal/ignore"
)

// FileState is a file observed on disk during a scan.
type FileState struct {
	RelativePath string
	AbsolutePath string
	Hash         string
	Size         int64
}

// RenamePair is a deleted/created pair paired up by identical content
// hash, so the rename can patch metadata instead of re-embedding.
type RenamePair struct {
	OldPath string
	NewPath string
	Hash    string
}

// Plan is the classification of every file under a dataset root
// relative to the last recorded sync state.
type Plan struct {
	Created   []FileState
	Modified  []FileState
	Deleted   []string
	Renamed   []RenamePair
	Unchanged []FileState
}

// Total returns the number of files the plan will actually touch
// (everything except the unchanged set).
func (p *Plan) Total() int {
	return len(p.Created) + len(p.Modified) + len(p.Deleted) + len(p.Renamed)
}

// ChangeDetector walks a dataset root, hashes every admitted file, and
// diffs the result against the stored indexed_files rows for that
// dataset.
type ChangeDetector struct {
	hasher *hashutil.Calculator
}

// NewChangeDetector creates a ChangeDetector scoped to root.
func NewChangeDetector(root string) *ChangeDetector {
	return &ChangeDetector{hasher: hashutil.New(root)}
}

// Detect walks root, admits files through matcher, and classifies each
// one against stored (the dataset's current indexed_files rows).
// detectRenames gates the hash-pairing pass that turns a matching
// delete+create into a Renamed entry; when false every created/deleted
// candidate is left as a plain Created/Deleted classification.
func (d *ChangeDetector) Detect(ctx context.Context, root string, matcher *ignore.Matcher, stored []filemeta.File, detectRenames bool) (*Plan, error) {
	var paths []string
	relByAbs := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !matcher.Admit(rel) {
			return nil
		}

		paths = append(paths, path)
		relByAbs[path] = rel
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sync: walk %s: %w", root, err)
	}

	hashes, errs := d.hasher.HashAll(ctx, paths, runtime.NumCPU())
	if len(errs) > 0 {
		return nil, fmt.Errorf("sync: hash files: %w", errs[0])
	}

	storedByRel := make(map[string]filemeta.File, len(stored))
	for _, f := range stored {
		storedByRel[f.RelativePath] = f
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(paths))
	var createdCandidates []FileState

	for _, p := range paths {
		rel := relByAbs[p]
		seen[rel] = true

		var size int64
		if info, statErr := os.Stat(p); statErr == nil {
			size = info.Size()
		}
		state := FileState{RelativePath: rel, AbsolutePath: p, Hash: hashes[p], Size: size}

		existing, ok := storedByRel[rel]
		switch {
		case !ok:
			createdCandidates = append(createdCandidates, state)
		case existing.SHA256Hash != state.Hash:
			plan.Modified = append(plan.Modified, state)
		default:
			plan.Unchanged = append(plan.Unchanged, state)
		}
	}

	deletedByHash := make(map[string][]string)
	var deletedCandidates []string
	for _, f := range stored {
		if seen[f.RelativePath] {
			continue
		}
		deletedCandidates = append(deletedCandidates, f.RelativePath)
		deletedByHash[f.SHA256Hash] = append(deletedByHash[f.SHA256Hash], f.RelativePath)
	}

	if !detectRenames {
		plan.Created = append(plan.Created, createdCandidates...)
		plan.Deleted = append(plan.Deleted, deletedCandidates...)
		return plan, nil
	}

	// Pair created candidates against deleted candidates with matching
	// content hash: the file moved rather than changed, so its vector
	// points are relocated instead of deleted and re-embedded.
	deletedUsed := make(map[string]bool, len(deletedCandidates))
	for _, c := range createdCandidates {
		candidates := deletedByHash[c.Hash]
		var matched string
		for _, old := range candidates {
			if !deletedUsed[old] {
				matched = old
				break
			}
		}
		if matched == "" {
			plan.Created = append(plan.Created, c)
			continue
		}
		deletedUsed[matched] = true
		plan.Renamed = append(plan.Renamed, RenamePair{OldPath: matched, NewPath: c.RelativePath, Hash: c.Hash})
	}

	for _, old := range deletedCandidates {
		if !deletedUsed[old] {
			plan.Deleted = append(plan.Deleted, old)
		}
	}

	return plan, nil
}
