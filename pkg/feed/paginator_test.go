package feed

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/retry"
)

// fakeAPI replays canned JSON responses and records each request.
type fakeAPI struct {
	responses []fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	body string
	err  error
}

type fakeCall struct {
	path   string
	params url.Values
}

func (f *fakeAPI) GetJSON(_ context.Context, path string, params url.Values, target interface{}) error {
	f.calls = append(f.calls, fakeCall{path: path, params: params})
	if len(f.responses) == 0 {
		return errors.Transient("no response queued", 0, nil)
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if next.err != nil {
		return next.err
	}
	return json.Unmarshal([]byte(next.body), target)
}

func fastPolicy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:      3,
		Transient:        &retry.ConstantBackoff{Delay: time.Millisecond},
		RateLimited:      &retry.ConstantBackoff{Delay: time.Millisecond},
		MaxRateLimitWait: time.Second,
	}
}

func testPaginator(api API, opts PaginatorOptions) *Paginator {
	if opts.Retry == nil {
		opts.Retry = fastPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	return NewPaginator(api, 42, CategoryPosts, opts)
}

func TestPaginatorSinglePage(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"list":[{"id":3,"postedAtPrecise":"300.000000"},{"id":2,"postedAtPrecise":"200.000000"}],"hasMore":false}`},
	}}
	p := testPaginator(api, PaginatorOptions{})

	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, int64(3), posts[0].ID)

	posts, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, posts)
	// exhausted paginator issues no further requests
	assert.Len(t, api.calls, 1)
}

func TestPaginatorCursorComesFromResponse(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"list":[{"id":3,"postedAtPrecise":"300.000000"},{"id":2,"postedAtPrecise":"200.000000"}],"hasMore":true}`},
		{body: `{"list":[{"id":1,"postedAtPrecise":"100.000000"}],"hasMore":false}`},
	}}
	p := testPaginator(api, PaginatorOptions{})

	_, err := p.Next(context.Background())
	require.NoError(t, err)
	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)

	require.Len(t, api.calls, 2)
	assert.Empty(t, api.calls[0].params.Get("beforePublishTime"))
	assert.Equal(t, "200.000000", api.calls[1].params.Get("beforePublishTime"))
	assert.Equal(t, "/users/42/posts", api.calls[0].path)
}

func TestPaginatorEmptyPageTerminates(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"list":[],"hasMore":true}`},
	}}
	p := testPaginator(api, PaginatorOptions{})

	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, posts)
	assert.Len(t, api.calls, 1)
}

func TestPaginatorStopsAtStoredCursor(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"list":[{"id":3,"postedAtPrecise":"300.000000"},{"id":2,"postedAtPrecise":"200.000000"},{"id":1,"postedAtPrecise":"100.000000"}],"hasMore":true}`},
	}}
	p := testPaginator(api, PaginatorOptions{Since: "200.000000"})

	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(3), posts[0].ID)

	posts, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, posts)
	assert.Len(t, api.calls, 1)
}

func TestPaginatorMaxPostsCap(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"list":[{"id":3,"postedAtPrecise":"300.000000"},{"id":2,"postedAtPrecise":"200.000000"},{"id":1,"postedAtPrecise":"100.000000"}],"hasMore":true}`},
	}}
	p := testPaginator(api, PaginatorOptions{MaxPosts: 2})

	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	posts, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, posts)
}

func TestPaginatorRetriesTransientPageFailure(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{err: errors.Transient("connection reset", 0, nil)},
		{body: `{"list":[{"id":1,"postedAtPrecise":"100.000000"}],"hasMore":false}`},
	}}
	p := testPaginator(api, PaginatorOptions{})

	posts, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Len(t, api.calls, 2)
}

func TestPaginatorAuthFailureIsNotRetried(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{err: errors.AuthExpired("session rejected", 401)},
		{body: `{"list":[],"hasMore":false}`},
	}}
	p := testPaginator(api, PaginatorOptions{})

	_, err := p.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindAuthExpired, errors.KindOf(err))
	assert.Len(t, api.calls, 1)
}

func TestPaginatorCategoryPaths(t *testing.T) {
	tests := []struct {
		category Category
		path     string
	}{
		{CategoryPosts, "/users/42/posts"},
		{CategoryArchived, "/users/42/posts/archived"},
		{CategoryMessages, "/chats/42/messages"},
		{CategoryStories, "/users/42/stories"},
		{CategoryHighlights, "/users/42/stories/highlights"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			api := &fakeAPI{responses: []fakeResponse{{body: `{"list":[],"hasMore":false}`}}}
			p := NewPaginator(api, 42, tt.category, PaginatorOptions{
				Retry:  fastPolicy(),
				Logger: logger.NewTestLogger(),
			})
			_, err := p.Next(context.Background())
			require.NoError(t, err)
			require.Len(t, api.calls, 1)
			assert.Equal(t, tt.path, api.calls[0].path)
		})
	}
}

func TestLookup(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{
		{body: `{"id":77,"username":"artist","name":"The Artist"}`},
	}}

	account, err := Lookup(context.Background(), api, "artist")
	require.NoError(t, err)
	assert.Equal(t, int64(77), account.ID)
	assert.Equal(t, "artist", account.Username)
	assert.Equal(t, "/users/artist", api.calls[0].path)
}

func TestLookupUnknownCreator(t *testing.T) {
	api := &fakeAPI{responses: []fakeResponse{{body: `{}`}}}

	_, err := Lookup(context.Background(), api, "ghost")
	require.Error(t, err)
	assert.Equal(t, errors.KindPermanent, errors.KindOf(err))
}

func TestSubscriptionsPagesByOffset(t *testing.T) {
	// first page full (50 entries), second short
	first := `[`
	for i := 0; i < 50; i++ {
		if i > 0 {
			first += ","
		}
		first += `{"id":` + strconv.Itoa(i+1) + `,"username":"u"}`
	}
	first += `]`

	api := &fakeAPI{responses: []fakeResponse{
		{body: first},
		{body: `[{"id":51,"username":"last"}]`},
	}}

	subs, err := Subscriptions(context.Background(), api)
	require.NoError(t, err)
	assert.Len(t, subs, 51)
	require.Len(t, api.calls, 2)
	assert.Equal(t, "0", api.calls[0].params.Get("offset"))
	assert.Equal(t, "50", api.calls[1].params.Get("offset"))
}
