package feed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"creatorsync/pkg/logger"
	"creatorsync/pkg/retry"
)

// DefaultPageSize is the batch size requested per feed page.
const DefaultPageSize = 50

// PaginatorOptions tunes one feed walk.
type PaginatorOptions struct {
	// PageSize is the batch size per request, DefaultPageSize when zero.
	PageSize int
	// Since is the stored sync cursor. Posts published at or before it are
	// excluded and end the walk. Empty walks the full history.
	Since string
	// MaxPosts caps the total posts yielded, 0 = unlimited.
	MaxPosts int
	// Retry is applied per page fetch. DefaultPolicy when nil.
	Retry  *retry.Policy
	Logger logger.Logger
}

// Paginator yields a creator's feed newest first, one platform page at a
// time. It is not safe for concurrent use.
type Paginator struct {
	api       API
	creatorID int64
	category  Category

	pageSize int
	since    float64
	hasSince bool
	maxPosts int
	retry    *retry.Policy
	logger   logger.Logger

	// beforeCursor is the platform-supplied position for the next request.
	beforeCursor string
	yielded      int
	done         bool
}

// NewPaginator builds a paginator over one creator's category feed.
func NewPaginator(api API, creatorID int64, category Category, opts PaginatorOptions) *Paginator {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	policy := opts.Retry
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	p := &Paginator{
		api:       api,
		creatorID: creatorID,
		category:  category,
		pageSize:  pageSize,
		maxPosts:  opts.MaxPosts,
		retry:     policy,
		logger:    log,
	}
	if opts.Since != "" {
		if v, err := strconv.ParseFloat(opts.Since, 64); err == nil {
			p.since = v
			p.hasSince = true
		} else {
			log.WarnWithFields("ignoring unparseable sync cursor", map[string]interface{}{
				"cursor": opts.Since,
			})
		}
	}
	return p
}

// Next fetches the next batch. Returns (nil, nil) once the feed is
// exhausted, the stored cursor is reached, or the post cap is hit.
func (p *Paginator) Next(ctx context.Context) ([]Post, error) {
	if p.done {
		return nil, nil
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(p.pageSize))
	params.Set("order", "publish_date_desc")
	params.Set("format", "infinite")
	params.Set("skip_users", "all")
	if p.beforeCursor != "" {
		params.Set("beforePublishTime", p.beforeCursor)
	}

	var page pageResponse
	err := p.retry.Do(ctx, p.logger, func() error {
		page = pageResponse{}
		return p.api.GetJSON(ctx, p.path(), params, &page)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s page for creator %d: %w", p.category, p.creatorID, err)
	}

	if len(page.List) == 0 {
		p.done = true
		return nil, nil
	}

	// The next position comes from the platform's own ordering, taken
	// before any local filtering.
	p.beforeCursor = page.List[len(page.List)-1].PostedAtPrecise
	if !page.HasMore {
		p.done = true
	}

	posts := page.List
	if p.hasSince {
		posts = p.trimAtCursor(posts)
	}
	if p.maxPosts > 0 && p.yielded+len(posts) >= p.maxPosts {
		posts = posts[:p.maxPosts-p.yielded]
		p.done = true
	}
	p.yielded += len(posts)

	p.logger.DebugWithFields("fetched feed page", map[string]interface{}{
		"creator_id": p.creatorID,
		"category":   string(p.category),
		"posts":      len(posts),
		"has_more":   page.HasMore,
	})

	if len(posts) == 0 {
		p.done = true
		return nil, nil
	}
	return posts, nil
}

// trimAtCursor drops posts already covered by the stored cursor and ends
// the walk once one is seen.
func (p *Paginator) trimAtCursor(posts []Post) []Post {
	for i, post := range posts {
		v, err := strconv.ParseFloat(post.PostedAtPrecise, 64)
		if err != nil {
			continue
		}
		if v <= p.since {
			p.done = true
			return posts[:i]
		}
	}
	return posts
}

func (p *Paginator) path() string {
	switch p.category {
	case CategoryArchived:
		return fmt.Sprintf("/users/%d/posts/archived", p.creatorID)
	case CategoryMessages:
		return fmt.Sprintf("/chats/%d/messages", p.creatorID)
	case CategoryStories:
		return fmt.Sprintf("/users/%d/stories", p.creatorID)
	case CategoryHighlights:
		return fmt.Sprintf("/users/%d/stories/highlights", p.creatorID)
	default:
		return fmt.Sprintf("/users/%d/posts", p.creatorID)
	}
}
