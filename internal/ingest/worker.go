// Package ingest drives repository and crawl content through the
// chunk/embed/upsert pipeline, grounded on the teacher's
// internal/indexer/controller.go worker-pool/progress-callback shape.
package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/indexforge/indexforge/internal/chunker"
	"github.com/indexforge/indexforge/internal/crawler"
	"github.com/indexforge/indexforge/internal/crawlsession"
	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/gitrepo"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/queue"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/sync"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

// Worker consumes dispatched GitHub ingestion jobs and drives ad hoc
// crawl ingestion requests through the same storage collaborators a
// filesystem sync uses.
type Worker struct {
	queue    *queue.Queue
	syncer   *sync.Syncer
	sessions *crawlsession.Store
	crawler  *crawler.Client
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	chunks   *chunker.Chunker
	tempDir  string
	logger   *observability.Logger

	// pollInterval bounds how often a crawl's progress is polled.
	pollInterval time.Duration
}

// New creates a Worker. tempDir is the parent directory GitHub clones
// are staged under (each clone gets its own os.MkdirTemp child,
// removed once the job finishes). Crawl progress is polled once per
// second.
func New(q *queue.Queue, syncer *sync.Syncer, sessions *crawlsession.Store, crawlerClient *crawler.Client, store vectorstore.VectorStore, embedder embedding.Embedder, chunks *chunker.Chunker, tempDir string, logger *observability.Logger) *Worker {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Worker{
		queue:        q,
		syncer:       syncer,
		sessions:     sessions,
		crawler:      crawlerClient,
		store:        store,
		embedder:     embedder,
		chunks:       chunks,
		tempDir:      tempDir,
		logger:       logger,
		pollInterval: time.Second,
	}
}

// Run dispatches and processes GitHub ingestion jobs in a loop until
// ctx is cancelled. Intended to be launched once per worker-pool slot
// (config.IngestConfig.WorkerConcurrency copies, typically
// runtime.NumCPU()).
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dispatch(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "dispatch failed", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		w.processGitHubJob(ctx, job)
	}
}

func (w *Worker) processGitHubJob(ctx context.Context, job *queue.Job) {
	dir, err := os.MkdirTemp(w.tempDir, "indexforge-clone-*")
	if err != nil {
		w.fail(ctx, job.ID, fmt.Errorf("ingest: create temp dir: %w", err))
		return
	}
	defer os.RemoveAll(dir)

	if err := w.queue.UpdateProgress(ctx, job.ID, 5, "clone", ""); err != nil {
		w.logger.WarnContext(ctx, "progress update failed", "job", job.ID, "error", err.Error())
	}

	repo, err := gitrepo.Clone(ctx, gitrepo.CloneOptions{URL: job.RepoURL, Branch: job.Branch, SHA: job.SHA, Dir: dir})
	if err != nil {
		w.fail(ctx, job.ID, err)
		return
	}
	defer repo.Close()

	var filesProcessed, chunksCreated int
	onProgress := func(p sync.Progress) {
		filesProcessed = p.FilesProcessed
		chunksCreated = p.ChunksCreated
		percent := 10
		if p.TotalFiles > 0 {
			percent = 10 + (p.FilesProcessed*85)/p.TotalFiles
		}
		_ = w.queue.UpdateProgress(ctx, job.ID, percent, string(p.Phase), "")
	}

	opts := sync.Options{ProjectID: job.ProjectID, DatasetID: job.DatasetID, Root: dir, Force: true, DetectRenames: true}
	if err := w.syncer.Sync(ctx, opts, onProgress); err != nil {
		w.fail(ctx, job.ID, err)
		return
	}

	if err := w.queue.Complete(ctx, job.ID, filesProcessed, chunksCreated); err != nil {
		w.logger.ErrorContext(ctx, "mark complete failed", "job", job.ID, "error", err.Error())
	}
}

func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	w.logger.ErrorContext(ctx, "ingestion job failed", "job", jobID, "error", cause.Error())
	if err := w.queue.Fail(ctx, jobID, cause); err != nil {
		w.logger.ErrorContext(ctx, "record failure failed", "job", jobID, "error", err.Error())
	}
}

// CrawlParams describes a crawl ingestion request.
type CrawlParams struct {
	ProjectID string
	DatasetID string
	StartURL  string
	CrawlType crawler.CrawlType
	MaxPages  int
	Depth     int
	Scope     string
}

// StartCrawl starts a crawl session against the configured crawler
// service and drives it to completion in a background goroutine,
// polling progress at w.pollInterval and patching the CrawlSession row
// on each tick. Returns the internal session id, immediately usable for
// status lookups, without waiting for the crawl to finish.
func (w *Worker) StartCrawl(ctx context.Context, p CrawlParams) (string, error) {
	resp, err := w.crawler.Start(ctx, crawler.StartRequest{
		StartURL:  p.StartURL,
		Project:   p.ProjectID,
		Dataset:   p.DatasetID,
		CrawlType: p.CrawlType,
		MaxPages:  p.MaxPages,
		Depth:     p.Depth,
		Scope:     p.Scope,
	})
	if err != nil {
		return "", err
	}

	sessionID, err := w.sessions.Create(ctx, crawlsession.CreateParams{
		DatasetID:  p.DatasetID,
		ExternalID: resp.SessionID,
		MaxPages:   p.MaxPages,
		Depth:      p.Depth,
		StartURL:   p.StartURL,
	})
	if err != nil {
		return "", err
	}

	go w.driveCrawl(context.Background(), p.ProjectID, p.DatasetID, sessionID, resp.SessionID)

	return sessionID, nil
}

func (w *Worker) driveCrawl(ctx context.Context, projectID, datasetID, sessionID, externalID string) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		progress, err := w.crawler.Progress(ctx, externalID)
		if err != nil {
			w.logger.ErrorContext(ctx, "crawl progress poll failed", "session", sessionID, "error", err.Error())
			continue
		}

		status := crawlsession.Status(progress.Status)
		if err := w.sessions.PatchProgress(ctx, sessionID, status, progress.Current, 0, crawlsession.Metadata{
			Phase:       progress.Phase,
			Progress:    int(progress.Percentage),
			PhaseDetail: progress.PhaseDetail,
		}); err != nil {
			w.logger.ErrorContext(ctx, "crawl session patch failed", "session", sessionID, "error", err.Error())
		}

		if !progress.Done() {
			continue
		}
		if status == crawlsession.StatusCompleted {
			if err := w.ingestCrawledPages(ctx, projectID, datasetID, externalID); err != nil {
				w.logger.ErrorContext(ctx, "crawl page ingestion failed", "session", sessionID, "error", err.Error())
			}
		}
		return
	}
}

func (w *Worker) ingestCrawledPages(ctx context.Context, projectID, datasetID, externalID string) error {
	pages, err := w.crawler.Pages(ctx, externalID)
	if err != nil {
		return err
	}

	collection := scope.CollectionNameFor(projectID, datasetID)
	has, err := w.store.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("ingest: check collection: %w", err)
	}
	if !has {
		spec := vectorstore.CollectionSpec{Name: collection, Dimension: w.embedder.Dimensions()}
		if err := w.store.CreateCollection(ctx, spec); err != nil {
			return fmt.Errorf("ingest: create collection %s: %w", collection, err)
		}
	}

	for _, page := range pages {
		if err := w.ingestPage(ctx, projectID, datasetID, collection, page); err != nil {
			return fmt.Errorf("ingest page %s: %w", page.URL, err)
		}
	}
	return nil
}

func (w *Worker) ingestPage(ctx context.Context, projectID, datasetID, collection string, page crawler.Page) error {
	chunks := w.chunks.ChunkDocument(ctx, page.Content, page.URL)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return observability.Upstream("embedder", err)
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
				RelativePath: page.URL,
				StartLine:    c.StartLine,
				EndLine:      c.EndLine,
				ProjectID:    projectID,
				DatasetID:    datasetID,
				SourceType:   "web",
				Metadata:     map[string]interface{}{"title": page.Title},
			},
		}
	}

	return w.store.Upsert(ctx, collection, docs)
}
