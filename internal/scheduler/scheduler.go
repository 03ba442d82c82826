// Package scheduler runs the download stage: a bounded worker pool over
// the descriptors of one feed batch. Workers only fetch and save; all
// bookkeeping (fingerprint records, per-post accounting, events) happens
// on the single consumer goroutine, so no completion state needs locks.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"creatorsync/pkg/errors"
	"creatorsync/pkg/feed"
	"creatorsync/pkg/fingerprint"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/media"
	"creatorsync/pkg/progress"
	"creatorsync/pkg/retry"
)

// Task is one descriptor to acquire.
type Task struct {
	Creator    string
	Category   feed.Category
	PostID     int64
	Descriptor media.Descriptor
}

// Status is the terminal state of a task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one task.
type Result struct {
	Task   Task
	Status Status
	Path   string // relative to the archive root
	Bytes  int64
	// Fingerprint is set on success: the identifier digest, or the
	// content hash when the platform sent no media id.
	Fingerprint fingerprint.Fingerprint
	Err         error
	Duration    time.Duration
}

// FailedItem describes one permanently failed artifact for the summary.
type FailedItem struct {
	PostID  int64
	MediaID int64
	URL     string
	Kind    errors.Kind
	Reason  string
}

// BatchSummary aggregates one processed batch.
type BatchSummary struct {
	Downloaded int
	Skipped    int
	Failed     int
	// Cancelled counts tasks aborted by run cancellation. They are
	// neither acquired nor permanently failed.
	Cancelled   int
	FailedItems []FailedItem
	// Delta holds the fingerprint records added by this batch, keyed by
	// fingerprint with the artifact path as value.
	Delta map[string]string
	// FailedPosts marks posts with at least one failed artifact. Posts
	// absent from this set are fully resolved.
	FailedPosts map[int64]bool
	// Fatal is set when the batch hit an error that must abort the run.
	Fatal error
}

// Clean reports whether every post in the batch resolved without failures.
func (b *BatchSummary) Clean() bool {
	return b.Fatal == nil && len(b.FailedPosts) == 0
}

// MediaFetcher is the session client surface for direct downloads.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*http.Response, error)
}

// StreamAssembler assembles a manifest URL into a local file.
type StreamAssembler interface {
	Assemble(ctx context.Context, manifestURL, dest string) (int64, error)
}

// ArtifactStore is the archive layout surface the scheduler writes through.
type ArtifactStore interface {
	Save(r io.Reader, creator string, category feed.Category, d media.Descriptor) (string, int64, error)
	ArtifactPath(creator string, category feed.Category, d media.Descriptor) string
	RelativePath(creator string, category feed.Category, d media.Descriptor) string
}

// Options configures a Scheduler.
type Options struct {
	Workers int
	Retry   *retry.Policy
	Emitter *progress.Emitter
	Logger  logger.Logger
}

// Scheduler processes batches of tasks against one archive.
type Scheduler struct {
	fetcher   MediaFetcher
	assembler StreamAssembler
	store     ArtifactStore
	index     *fingerprint.Index

	workers int
	retry   *retry.Policy
	emitter *progress.Emitter
	logger  logger.Logger
}

// New builds a scheduler.
func New(fetcher MediaFetcher, assembler StreamAssembler, store ArtifactStore, index *fingerprint.Index, opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	policy := opts.Retry
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		fetcher:   fetcher,
		assembler: assembler,
		store:     store,
		index:     index,
		workers:   workers,
		retry:     policy,
		emitter:   opts.Emitter,
		logger:    log,
	}
}

// Process runs one batch to completion and returns its summary. A fatal
// task error cancels the remaining tasks of the batch.
func (s *Scheduler) Process(ctx context.Context, tasks []Task) *BatchSummary {
	summary := &BatchSummary{
		Delta:       make(map[string]string),
		FailedPosts: make(map[int64]bool),
	}
	if len(tasks) == 0 {
		return summary
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Task)
	results := make(chan Result, s.workers)

	workers := s.workers
	if len(tasks) < workers {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				select {
				case results <- s.process(ctx, task):
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case jobs <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single-writer completion loop. Everything below runs on this
	// goroutine only.
	for res := range results {
		s.record(summary, res)
		if summary.Fatal != nil {
			cancel()
		}
	}
	return summary
}

func (s *Scheduler) record(summary *BatchSummary, res Result) {
	task := res.Task
	switch res.Status {
	case StatusSkipped:
		summary.Skipped++
		s.emit(progress.Event{
			Type:     progress.EventDownloadSkipped,
			Creator:  task.Creator,
			Category: string(task.Category),
			PostID:   task.PostID,
			MediaID:  task.Descriptor.MediaID,
			Path:     res.Path,
		})

	case StatusSucceeded:
		summary.Downloaded++
		s.index.Record(res.Fingerprint, res.Path)
		summary.Delta[string(res.Fingerprint)] = res.Path
		s.emit(progress.Event{
			Type:     progress.EventDownloadCompleted,
			Creator:  task.Creator,
			Category: string(task.Category),
			PostID:   task.PostID,
			MediaID:  task.Descriptor.MediaID,
			Path:     res.Path,
			Bytes:    res.Bytes,
		})

	case StatusFailed:
		// a cancelled task is unresolved, not permanently failed: the
		// post stays unresolved so the cursor cannot pass it, but the
		// summary's failed list stays clean
		if stderrors.Is(res.Err, context.Canceled) || stderrors.Is(res.Err, context.DeadlineExceeded) {
			summary.Cancelled++
			summary.FailedPosts[task.PostID] = true
			s.logger.DebugWithFields("artifact cancelled", map[string]interface{}{
				"creator":  task.Creator,
				"post_id":  task.PostID,
				"media_id": task.Descriptor.MediaID,
			})
			return
		}
		summary.Failed++
		summary.FailedPosts[task.PostID] = true
		kind := errors.KindOf(res.Err)
		summary.FailedItems = append(summary.FailedItems, FailedItem{
			PostID:  task.PostID,
			MediaID: task.Descriptor.MediaID,
			URL:     task.Descriptor.URL,
			Kind:    kind,
			Reason:  res.Err.Error(),
		})
		if errors.IsFatal(res.Err) {
			summary.Fatal = res.Err
		}
		s.logger.WarnWithFields("artifact failed", map[string]interface{}{
			"creator":  task.Creator,
			"post_id":  task.PostID,
			"media_id": task.Descriptor.MediaID,
			"class":    string(kind),
			"error":    res.Err.Error(),
		})
		s.emit(progress.Event{
			Type:     progress.EventDownloadFailed,
			Creator:  task.Creator,
			Category: string(task.Category),
			PostID:   task.PostID,
			MediaID:  task.Descriptor.MediaID,
			Reason:   res.Err.Error(),
		})
	}
}

// process runs one task through the Pending -> InFlight -> terminal state
// machine. Retries happen inside; the returned result is terminal.
func (s *Scheduler) process(ctx context.Context, task Task) Result {
	start := time.Now()
	d := task.Descriptor

	// identifier fast path: with a platform media id the fingerprint is
	// known before any bytes move, so duplicates skip without a fetch
	hasID := d.MediaID != 0
	var fp fingerprint.Fingerprint
	if hasID {
		fp = fingerprint.Of(d)
		if s.index.Contains(fp) {
			path, _ := s.index.PathOf(fp)
			return Result{Task: task, Status: StatusSkipped, Path: path, Duration: time.Since(start)}
		}
	}

	s.emit(progress.Event{
		Type:     progress.EventDownloadStarted,
		Creator:  task.Creator,
		Category: string(task.Category),
		PostID:   task.PostID,
		MediaID:  d.MediaID,
	})

	var bytes int64
	var err error
	switch d.Kind {
	case media.KindStream:
		bytes, err = s.downloadStream(ctx, task)
		if err == nil && !hasID {
			fp, err = s.hashArtifact(task)
		}
	default:
		var contentFP fingerprint.Fingerprint
		bytes, contentFP, err = s.downloadDirect(ctx, task, !hasID)
		if !hasID {
			fp = contentFP
		}
	}

	if err != nil {
		return Result{
			Task:     task,
			Status:   StatusFailed,
			Err:      err,
			Duration: time.Since(start),
		}
	}

	// content fallback: without a media id the fingerprint is only known
	// after the download, so duplicates are dropped here instead
	if !hasID && s.index.Contains(fp) {
		os.Remove(s.store.ArtifactPath(task.Creator, task.Category, d))
		path, _ := s.index.PathOf(fp)
		return Result{Task: task, Status: StatusSkipped, Path: path, Duration: time.Since(start)}
	}

	return Result{
		Task:        task,
		Status:      StatusSucceeded,
		Path:        s.store.RelativePath(task.Creator, task.Category, d),
		Bytes:       bytes,
		Fingerprint: fp,
		Duration:    time.Since(start),
	}
}

// downloadDirect fetches a single file. The whole fetch+save is the retry
// unit, so a half-written temp file is simply redone. With hashContent
// set the bytes are fingerprinted while they stream to disk.
func (s *Scheduler) downloadDirect(ctx context.Context, task Task, hashContent bool) (int64, fingerprint.Fingerprint, error) {
	var written int64
	var fp fingerprint.Fingerprint
	err := s.retry.Do(ctx, s.logger, func() error {
		resp, err := s.fetcher.Fetch(ctx, task.Descriptor.URL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var body io.Reader = resp.Body
		var hasher *fingerprint.Hasher
		if hashContent {
			hasher = fingerprint.NewHasher()
			body = io.TeeReader(resp.Body, hasher)
		}

		_, n, err := s.store.Save(body, task.Creator, task.Category, task.Descriptor)
		if err != nil {
			return errors.Transient(fmt.Sprintf("failed to store artifact: %v", err), 0, err)
		}
		written = n
		if hasher != nil {
			fp = hasher.Fingerprint()
		}
		return nil
	})
	return written, fp, err
}

// hashArtifact content-fingerprints an already assembled artifact.
func (s *Scheduler) hashArtifact(task Task) (fingerprint.Fingerprint, error) {
	f, err := os.Open(s.store.ArtifactPath(task.Creator, task.Category, task.Descriptor))
	if err != nil {
		return "", errors.Transient(fmt.Sprintf("failed to open artifact for hashing: %v", err), 0, err)
	}
	defer f.Close()
	return fingerprint.OfContent(f)
}

// downloadStream hands the manifest to the assembler, which owns its own
// per-segment retries and atomic promotion.
func (s *Scheduler) downloadStream(ctx context.Context, task Task) (int64, error) {
	dest := s.store.ArtifactPath(task.Creator, task.Category, task.Descriptor)
	return s.assembler.Assemble(ctx, task.Descriptor.URL, dest)
}

func (s *Scheduler) emit(event progress.Event) {
	if s.emitter != nil {
		s.emitter.Emit(event)
	}
}
