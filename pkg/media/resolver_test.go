package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorsync/pkg/feed"
	"creatorsync/pkg/logger"
)

func TestResolvePrefersSourceOverFiles(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:      1,
			Type:    "photo",
			CanView: true,
			Source:  &feed.MediaSource{Source: "https://cdn.example.com/full.jpg"},
			Files: map[string]feed.MediaFile{
				"full":    {URL: "https://cdn.example.com/lesser.jpg"},
				"preview": {URL: "https://cdn.example.com/preview.jpg"},
			},
		}},
	}

	r := NewResolver(false, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 1)
	d := descriptors[0]
	assert.Equal(t, int64(100), d.PostID)
	assert.Equal(t, int64(1), d.MediaID)
	assert.Equal(t, "https://cdn.example.com/full.jpg", d.URL)
	assert.Equal(t, KindDirect, d.Kind)
	assert.Equal(t, "jpg", d.Extension)
	assert.False(t, d.Preview)
}

func TestResolveFilesQualityOrder(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:   2,
			Type: "video",
			Files: map[string]feed.MediaFile{
				"full":    {URL: "https://cdn.example.com/full.mp4"},
				"preview": {URL: "https://cdn.example.com/preview.mp4"},
			},
		}},
	}

	r := NewResolver(false, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 1)
	assert.Equal(t, "https://cdn.example.com/full.mp4", descriptors[0].URL)
}

func TestResolveDetectsStreamManifest(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:     3,
			Type:   "video",
			Source: &feed.MediaSource{Source: "https://cdn.example.com/hls/master.m3u8?sig=abc"},
		}},
	}

	r := NewResolver(false, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 1)
	assert.Equal(t, KindStream, descriptors[0].Kind)
	assert.Equal(t, "mp4", descriptors[0].Extension)
}

func TestResolveLockedMediaSkippedWithoutPreviewFlag(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:      4,
			Type:    "photo",
			CanView: false,
			Preview: "https://cdn.example.com/locked_preview.jpg",
		}},
	}

	r := NewResolver(false, logger.NewTestLogger())
	assert.Empty(t, r.Resolve(post))
}

func TestResolveLockedMediaWithPreviewFlag(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:      4,
			Type:    "photo",
			CanView: false,
			Preview: "https://cdn.example.com/locked_preview.jpg",
		}},
	}

	r := NewResolver(true, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 1)
	assert.True(t, descriptors[0].Preview)
	assert.Equal(t, "https://cdn.example.com/locked_preview.jpg", descriptors[0].URL)
}

func TestResolvePreviewEmittedAlongsideFull(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{{
			ID:     5,
			Type:   "video",
			Source: &feed.MediaSource{Source: "https://cdn.example.com/full.mp4"},
			Files: map[string]feed.MediaFile{
				"preview": {URL: "https://cdn.example.com/preview.mp4"},
			},
		}},
	}

	r := NewResolver(true, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 2)
	assert.False(t, descriptors[0].Preview)
	assert.True(t, descriptors[1].Preview)
}

func TestResolveAssignsOrdinals(t *testing.T) {
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{
			{Type: "photo", CanView: true, Source: &feed.MediaSource{Source: "https://cdn.example.com/a.jpg"}},
			{Type: "photo", CanView: true, Source: &feed.MediaSource{Source: "https://cdn.example.com/b.jpg"}},
		},
	}

	r := NewResolver(false, logger.NewTestLogger())
	descriptors := r.Resolve(post)

	// entries without a platform id stay distinguishable by position
	require.Len(t, descriptors, 2)
	assert.Zero(t, descriptors[0].MediaID)
	assert.Equal(t, 0, descriptors[0].Ordinal)
	assert.Equal(t, 1, descriptors[1].Ordinal)
}

func TestResolveMalformedEntryWarnsAndSkips(t *testing.T) {
	log := logger.NewTestLogger()
	post := feed.Post{
		ID: 100,
		Media: []feed.Media{
			{ID: 6, Type: "photo"},
			{ID: 7, Type: "photo", Source: &feed.MediaSource{Source: "https://cdn.example.com/ok.jpg"}},
		},
	}

	r := NewResolver(false, log)
	descriptors := r.Resolve(post)

	require.Len(t, descriptors, 1)
	assert.Equal(t, int64(7), descriptors[0].MediaID)
	assert.NotEmpty(t, log.MessagesAt("warn"))
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mediaType string
		url       string
		kind      Kind
		want      string
	}{
		{"photo", "https://x/y.png", KindDirect, "jpg"},
		{"video", "https://x/y", KindDirect, "mp4"},
		{"gif", "https://x/y", KindDirect, "gif"},
		{"audio", "https://x/y", KindDirect, "mp3"},
		{"document", "https://x/y.PDF?sig=1", KindDirect, "pdf"},
		{"mystery", "https://x/y", KindDirect, "bin"},
		{"video", "https://x/master.m3u8", KindStream, "mp4"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtensionFor(tt.mediaType, tt.url, tt.kind), "%s %s", tt.mediaType, tt.url)
	}
}
