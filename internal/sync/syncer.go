package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/indexforge/indexforge/internal/chunker"
	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/filemeta"
	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

// Phase names a stage of a sync run, reported through the progress
// callback so a caller can drive a status bar or log line.
type Phase string

const (
	PhaseScanning Phase = "scanning"
	PhaseDeleting Phase = "deleting"
	PhaseUpdating Phase = "updating"
	PhaseRenaming Phase = "renaming"
	PhaseCreating Phase = "creating"
	PhaseComplete Phase = "complete"
)

// Progress is a snapshot of a sync run's state, delivered after every
// file the run touches.
type Progress struct {
	Phase          Phase
	FilesProcessed int
	TotalFiles     int
	ChunksCreated  int
	LastError      string
}

// Options configures a single sync run.
type Options struct {
	ProjectID string
	DatasetID string
	Root      string
	// Force clears the dataset's recorded file metadata first, so every
	// file on disk is treated as newly created.
	Force bool
	// DetectRenames pairs deleted/created files sharing a content hash
	// into a rename instead of a delete+create, so a moved file's
	// chunks are relocated rather than re-embedded. Off by default;
	// callers that want pairing must opt in.
	DetectRenames bool
}

// Syncer orchestrates one incremental sync: scan for changes, apply
// deletions, renames, then (re)chunk and embed modified and created
// files, upserting their points into the dataset's collection.
type Syncer struct {
	scope    *scope.Manager
	files    *filemeta.Store
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	chunks   *chunker.Chunker
}

// NewSyncer creates a Syncer wiring together the scope resolver, file
// metadata store, vector store, embedder, and chunker a sync run needs.
func NewSyncer(scopeMgr *scope.Manager, files *filemeta.Store, store vectorstore.VectorStore, embedder embedding.Embedder, chunks *chunker.Chunker) *Syncer {
	return &Syncer{scope: scopeMgr, files: files, store: store, embedder: embedder, chunks: chunks}
}

// Sync runs one incremental sync of opts.Root against the dataset's
// collection, invoking onProgress (if non-nil) after every phase
// transition and every file processed.
func (s *Syncer) Sync(ctx context.Context, opts Options, onProgress func(Progress)) error {
	emit := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	collection := scope.CollectionNameFor(opts.ProjectID, opts.DatasetID)
	has, err := s.store.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("sync: check collection: %w", err)
	}
	if !has {
		spec := vectorstore.CollectionSpec{Name: collection, Dimension: s.embedder.Dimensions()}
		if err := s.store.CreateCollection(ctx, spec); err != nil {
			return fmt.Errorf("sync: create collection %s: %w", collection, err)
		}
	}

	if opts.Force {
		if err := s.files.ClearDataset(ctx, opts.ProjectID, opts.DatasetID); err != nil {
			return fmt.Errorf("sync: clear dataset: %w", err)
		}
	}

	emit(Progress{Phase: PhaseScanning})

	patterns, err := ignore.LoadDatasetPatterns(opts.Root)
	if err != nil {
		return fmt.Errorf("sync: load ignore patterns: %w", err)
	}
	matcher := ignore.New(patterns)

	stored, err := s.files.GetAll(ctx, opts.ProjectID, opts.DatasetID)
	if err != nil {
		return fmt.Errorf("sync: load indexed files: %w", err)
	}

	plan, err := NewChangeDetector(opts.Root).Detect(ctx, opts.Root, matcher, stored, opts.DetectRenames)
	if err != nil {
		return fmt.Errorf("sync: detect changes: %w", err)
	}

	total := plan.Total()
	progress := Progress{Phase: PhaseScanning, TotalFiles: total}
	emit(progress)

	var failures []error

	progress.Phase = PhaseDeleting
	emit(progress)
	for _, relPath := range plan.Deleted {
		if err := s.removeFile(ctx, opts, collection, relPath); err != nil {
			failures = append(failures, fmt.Errorf("delete %s: %w", relPath, err))
			progress.LastError = err.Error()
			emit(progress)
			continue
		}
		progress.FilesProcessed++
		emit(progress)
	}

	progress.Phase = PhaseRenaming
	emit(progress)
	for _, r := range plan.Renamed {
		if err := s.renameFile(ctx, opts, collection, r); err != nil {
			failures = append(failures, fmt.Errorf("rename %s -> %s: %w", r.OldPath, r.NewPath, err))
			progress.LastError = err.Error()
			emit(progress)
			continue
		}
		progress.FilesProcessed++
		emit(progress)
	}

	progress.Phase = PhaseUpdating
	emit(progress)
	for _, fstate := range plan.Modified {
		chunkCount, err := s.ingestFile(ctx, opts, collection, fstate)
		if err != nil {
			failures = append(failures, fmt.Errorf("update %s: %w", fstate.RelativePath, err))
			progress.LastError = err.Error()
			emit(progress)
			continue
		}
		progress.FilesProcessed++
		progress.ChunksCreated += chunkCount
		emit(progress)
	}

	progress.Phase = PhaseCreating
	emit(progress)
	for _, fstate := range plan.Created {
		chunkCount, err := s.ingestFile(ctx, opts, collection, fstate)
		if err != nil {
			failures = append(failures, fmt.Errorf("create %s: %w", fstate.RelativePath, err))
			progress.LastError = err.Error()
			emit(progress)
			continue
		}
		progress.FilesProcessed++
		progress.ChunksCreated += chunkCount
		emit(progress)
	}

	progress.Phase = PhaseComplete
	emit(progress)

	if len(failures) > 0 {
		return observability.PartialSync(failures)
	}
	return nil
}

func (s *Syncer) removeFile(ctx context.Context, opts Options, collection, relPath string) error {
	filter := vectorstore.Filter{ProjectID: opts.ProjectID, DatasetIDs: []string{opts.DatasetID}, RelativePath: relPath}
	if err := s.store.DeleteByFilter(ctx, collection, filter); err != nil {
		return fmt.Errorf("vectorstore delete: %w", err)
	}
	if err := s.files.Remove(ctx, opts.ProjectID, opts.DatasetID, relPath); err != nil {
		return fmt.Errorf("filemeta remove: %w", err)
	}
	return nil
}

func (s *Syncer) renameFile(ctx context.Context, opts Options, collection string, r RenamePair) error {
	if _, err := s.store.UpdateRelativePath(ctx, collection, r.OldPath, r.NewPath); err != nil {
		return fmt.Errorf("vectorstore rename: %w", err)
	}
	if err := s.files.UpdatePath(ctx, opts.ProjectID, opts.DatasetID, r.OldPath, r.NewPath, r.NewPath); err != nil {
		return fmt.Errorf("filemeta rename: %w", err)
	}
	return nil
}

// ingestFile re-chunks, re-embeds, and re-upserts a single created or
// modified file, replacing any points already recorded under its path.
func (s *Syncer) ingestFile(ctx context.Context, opts Options, collection string, fstate FileState) (int, error) {
	// #nosec G304 - path produced by filepath.WalkDir under opts.Root
	content, err := os.ReadFile(fstate.AbsolutePath)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	chunks, err := s.chunks.ChunkFile(ctx, string(content), fstate.RelativePath)
	if err != nil {
		return 0, fmt.Errorf("chunk file: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, observability.Upstream("embedder", err)
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		var vec embedding.Vector
		if i < len(embeddings) && embeddings[i] != nil {
			vec = embeddings[i].Vector
		}
		docs[i] = vectorstore.Document{
			ID:     c.ID,
			Vector: vec,
			Payload: vectorstore.Payload{
				Content:      c.Content,
				RelativePath: c.FilePath,
				StartLine:    c.StartLine,
				EndLine:      c.EndLine,
				ProjectID:    opts.ProjectID,
				DatasetID:    opts.DatasetID,
				SourceType:   "code",
				Lang:         c.Language,
				Symbol:       c.Symbol,
			},
		}
	}

	filter := vectorstore.Filter{ProjectID: opts.ProjectID, DatasetIDs: []string{opts.DatasetID}, RelativePath: fstate.RelativePath}
	if err := s.store.DeleteByFilter(ctx, collection, filter); err != nil {
		return 0, fmt.Errorf("vectorstore delete stale points: %w", err)
	}
	if err := s.store.Upsert(ctx, collection, docs); err != nil {
		return 0, fmt.Errorf("vectorstore upsert: %w", err)
	}

	language := ""
	if len(chunks) > 0 {
		language = chunks[0].Language
	}
	meta := filemeta.File{
		ProjectID:      opts.ProjectID,
		DatasetID:      opts.DatasetID,
		FilePath:       fstate.AbsolutePath,
		RelativePath:   fstate.RelativePath,
		SHA256Hash:     fstate.Hash,
		FileSize:       fstate.Size,
		ChunkCount:     len(chunks),
		Language:       language,
		CollectionName: collection,
	}
	if err := s.files.Upsert(ctx, meta); err != nil {
		return 0, fmt.Errorf("filemeta upsert: %w", err)
	}

	return len(chunks), nil
}
