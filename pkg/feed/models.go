// Package feed walks a creator's content feeds page by page. The paginator
// never invents pagination state: every cursor it reports comes from a
// platform response.
package feed

import (
	"context"
	"net/url"
	"time"
)

// Category identifies one content feed of a creator.
type Category string

const (
	CategoryPosts      Category = "posts"
	CategoryArchived   Category = "archived"
	CategoryMessages   Category = "messages"
	CategoryStories    Category = "stories"
	CategoryHighlights Category = "highlights"
)

// API is the slice of the session client the feed layer needs.
type API interface {
	GetJSON(ctx context.Context, path string, params url.Values, target interface{}) error
}

// Account is a creator or subscriber identity.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// MediaSource is a direct file location inside a media entry.
type MediaSource struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// MediaFile is one quality tier inside a media entry's files map.
type MediaFile struct {
	URL string `json:"url"`
}

// Media is one media entry of a post as the platform returns it. URL
// selection across the variant fields belongs to the media resolver.
type Media struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"` // photo, video, gif, audio
	CanView bool   `json:"canView"`

	Source  *MediaSource         `json:"source"`
	Files   map[string]MediaFile `json:"files"`
	Preview string               `json:"preview"`
}

// Post is one feed entry. PostedAtPrecise is the platform's fractional
// publish timestamp and doubles as the pagination cursor value.
type Post struct {
	ID              int64     `json:"id"`
	PostedAt        time.Time `json:"postedAt"`
	PostedAtPrecise string    `json:"postedAtPrecise"`
	IsArchived      bool      `json:"isArchived"`
	Media           []Media   `json:"media"`
}

// pageResponse is the envelope every feed endpoint shares.
type pageResponse struct {
	List    []Post `json:"list"`
	HasMore bool   `json:"hasMore"`
}
