// Package engine orchestrates a sync run: resolve the creator, walk each
// configured feed, hand batches to the scheduler, and checkpoint progress
// after every batch so an interrupted run resumes without gaps.
package engine

import (
	"context"
	"fmt"
	"time"

	"creatorsync/internal/scheduler"
	"creatorsync/pkg/config"
	"creatorsync/pkg/errors"
	"creatorsync/pkg/feed"
	"creatorsync/pkg/fingerprint"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/media"
	"creatorsync/pkg/progress"
	"creatorsync/pkg/retry"
	"creatorsync/pkg/state"
	"creatorsync/pkg/storage"
)

// Deps are the collaborators an Engine drives.
type Deps struct {
	API       feed.API
	Fetcher   scheduler.MediaFetcher
	Assembler scheduler.StreamAssembler
	Layout    *storage.Layout
	States    *state.Store
	Config    *config.Config
	Emitter   *progress.Emitter
	Logger    logger.Logger
}

// Engine runs sync operations for one authenticated session.
type Engine struct {
	api       feed.API
	fetcher   scheduler.MediaFetcher
	assembler scheduler.StreamAssembler
	layout    *storage.Layout
	states    *state.Store
	cfg       *config.Config
	emitter   *progress.Emitter
	retry     *retry.Policy
	logger    logger.Logger
}

// CategorySummary is the outcome of one creator+category walk.
type CategorySummary struct {
	Creator        string
	Category       feed.Category
	Posts          int
	Downloaded     int
	Skipped        int
	Failed         int
	FailedItems    []scheduler.FailedItem
	CursorAdvanced bool
	Duration       time.Duration
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	Categories []CategorySummary
	Downloaded int
	Skipped    int
	Failed     int
}

// FailedItems flattens the permanently failed artifacts of the run.
func (r *RunSummary) FailedItems() []scheduler.FailedItem {
	var items []scheduler.FailedItem
	for _, c := range r.Categories {
		items = append(items, c.FailedItems...)
	}
	return items
}

// New builds an engine from its collaborators.
func New(deps Deps) (*Engine, error) {
	if deps.API == nil || deps.Fetcher == nil || deps.Assembler == nil ||
		deps.Layout == nil || deps.States == nil || deps.Config == nil {
		return nil, fmt.Errorf("engine is missing a required collaborator")
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = deps.Config.Download.RetryAttempts
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if deps.Config.Download.MaxRateLimitWait > 0 {
		policy.MaxRateLimitWait = deps.Config.Download.MaxRateLimitWait
	}
	if deps.Emitter != nil {
		emitter := deps.Emitter
		policy.OnWait = func(kind errors.Kind, delay time.Duration) {
			if kind == errors.KindRateLimited {
				emitter.Emit(progress.Event{Type: progress.EventRateLimitWait, Wait: delay})
			}
		}
	}

	return &Engine{
		api:       deps.API,
		fetcher:   deps.Fetcher,
		assembler: deps.Assembler,
		layout:    deps.Layout,
		states:    deps.States,
		cfg:       deps.Config,
		emitter:   deps.Emitter,
		retry:     policy,
		logger:    log,
	}, nil
}

// CheckAuth verifies the session by fetching the authenticated account.
func (e *Engine) CheckAuth(ctx context.Context) (*feed.Account, error) {
	return feed.Me(ctx, e.api)
}

// SyncAll syncs every active subscription.
func (e *Engine) SyncAll(ctx context.Context) (*RunSummary, error) {
	subs, err := feed.Subscriptions(ctx, e.api)
	if err != nil {
		return nil, err
	}
	e.logger.InfoWithFields("syncing all subscriptions", map[string]interface{}{
		"creators": len(subs),
	})

	total := &RunSummary{}
	for _, sub := range subs {
		summary, err := e.SyncCreator(ctx, sub.Username)
		if summary != nil {
			total.merge(summary)
		}
		if err != nil {
			// a fatal auth error or cancellation stops the whole run
			if errors.IsFatal(err) || ctx.Err() != nil {
				return total, err
			}
			e.logger.ErrorWithFields("creator sync failed, continuing", map[string]interface{}{
				"creator": sub.Username,
				"error":   err.Error(),
			})
		}
	}
	return total, nil
}

// SyncCreator walks every configured category of one creator.
func (e *Engine) SyncCreator(ctx context.Context, username string) (*RunSummary, error) {
	account, err := feed.Lookup(ctx, e.api, username)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{}
	for _, name := range e.cfg.Sync.Categories {
		category := feed.Category(name)
		catSummary, err := e.syncCategory(ctx, account, category)
		if catSummary != nil {
			summary.Categories = append(summary.Categories, *catSummary)
			summary.Downloaded += catSummary.Downloaded
			summary.Skipped += catSummary.Skipped
			summary.Failed += catSummary.Failed
		}
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) syncCategory(ctx context.Context, account *feed.Account, category feed.Category) (*CategorySummary, error) {
	start := time.Now()
	log := e.logger.WithFields(map[string]interface{}{
		"creator":  account.Username,
		"category": string(category),
	})

	st, err := e.states.Load(account.Username, category)
	if err != nil {
		return nil, err
	}

	overwrite := e.cfg.Sync.Overwrite
	index := fingerprint.NewIndex(overwrite)
	if !overwrite {
		index.Load(st.Fingerprints)
	}

	since := ""
	if e.cfg.Sync.Incremental && !overwrite {
		since = st.Cursor
	}
	// the first-time post cap does not apply to incremental resumes
	maxPosts := 0
	if st.Cursor == "" {
		maxPosts = e.cfg.Sync.MaxPostsPerCreator
	}

	paginator := feed.NewPaginator(e.api, account.ID, category, feed.PaginatorOptions{
		Since:    since,
		MaxPosts: maxPosts,
		Retry:    e.retry,
		Logger:   log,
	})
	resolver := media.NewResolver(e.cfg.Sync.DownloadPreviews, log)
	sched := scheduler.New(e.fetcher, e.assembler, e.layout, index, scheduler.Options{
		Workers: e.cfg.Download.ConcurrentDownloads,
		Retry:   e.retry,
		Emitter: e.emitter,
		Logger:  log,
	})

	e.emit(progress.Event{
		Type:     progress.EventCreatorStarted,
		Creator:  account.Username,
		Category: string(category),
	})

	summary := &CategorySummary{Creator: account.Username, Category: category}
	overwriteDelta := make(map[string]string)
	newestCursor := ""
	failedPosts := false

	for {
		posts, err := paginator.Next(ctx)
		if err != nil {
			return summary, err
		}
		if posts == nil {
			break
		}
		if newestCursor == "" {
			newestCursor = posts[0].PostedAtPrecise
		}
		summary.Posts += len(posts)

		e.emit(progress.Event{
			Type:     progress.EventPageFetched,
			Creator:  account.Username,
			Category: string(category),
		})

		var tasks []scheduler.Task
		for _, post := range posts {
			for _, d := range resolver.Resolve(post) {
				tasks = append(tasks, scheduler.Task{
					Creator:    account.Username,
					Category:   category,
					PostID:     post.ID,
					Descriptor: d,
				})
			}
		}

		batch := sched.Process(ctx, tasks)
		summary.Downloaded += batch.Downloaded
		summary.Skipped += batch.Skipped
		summary.Failed += batch.Failed
		summary.FailedItems = append(summary.FailedItems, batch.FailedItems...)
		if !batch.Clean() {
			failedPosts = true
		}

		// persist what this batch acquired; the cursor waits for the
		// end of the walk so unresolved posts are never passed
		if overwrite {
			for fp, path := range batch.Delta {
				overwriteDelta[fp] = path
			}
		} else if err := e.states.Checkpoint(st, "", batch.Delta); err != nil {
			return summary, err
		}
		e.emit(progress.Event{
			Type:     progress.EventCheckpointed,
			Creator:  account.Username,
			Category: string(category),
		})

		if batch.Fatal != nil {
			return summary, batch.Fatal
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	finalCursor := e.finalCursor(st.Cursor, newestCursor, failedPosts)
	summary.CursorAdvanced = finalCursor != st.Cursor

	if overwrite {
		if err := e.states.Replace(st, finalCursor, overwriteDelta); err != nil {
			return summary, err
		}
	} else if err := e.states.Checkpoint(st, finalCursor, nil); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	log.InfoWithFields("category sync finished", map[string]interface{}{
		"posts":           summary.Posts,
		"downloaded":      summary.Downloaded,
		"skipped":         summary.Skipped,
		"failed":          summary.Failed,
		"cursor_advanced": summary.CursorAdvanced,
		"duration":        summary.Duration,
	})
	e.emit(progress.Event{
		Type:     progress.EventCreatorFinished,
		Creator:  account.Username,
		Category: string(category),
	})
	return summary, nil
}

// finalCursor decides how far the stored cursor may move after a full
// walk. Under all-or-nothing any failed post freezes the cursor; under
// best-effort it advances and the failures stay in the summary.
func (e *Engine) finalCursor(stored, newest string, failedPosts bool) string {
	if newest == "" {
		return stored
	}
	if failedPosts && e.cfg.Sync.CursorPolicy == config.CursorAllOrNothing {
		return stored
	}
	return newest
}

func (e *Engine) emit(event progress.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (r *RunSummary) merge(other *RunSummary) {
	r.Categories = append(r.Categories, other.Categories...)
	r.Downloaded += other.Downloaded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}
