// Package media turns raw feed posts into download descriptors. The
// resolver picks the best variant per entry and tags each descriptor as a
// direct file or an adaptive stream.
package media

import (
	"net/url"
	"path"
	"strings"

	"creatorsync/pkg/feed"
	"creatorsync/pkg/logger"
)

// Kind distinguishes how a descriptor is downloaded.
type Kind string

const (
	// KindDirect is a single-file HTTP download.
	KindDirect Kind = "direct"
	// KindStream is a segmented stream assembled from a manifest.
	KindStream Kind = "stream"
)

// Descriptor is one downloadable artifact of a post.
type Descriptor struct {
	PostID  int64
	MediaID int64
	// Ordinal is the entry's position within the post. It stands in for
	// MediaID in artifact names when the platform sends no media id.
	Ordinal int
	Kind    Kind
	Type    string // photo, video, gif, audio
	URL     string
	// Extension is the target file extension without the dot.
	Extension string
	// Preview marks a locked-content preview variant.
	Preview bool
}

// Resolver selects variants according to the run's preview policy.
type Resolver struct {
	downloadPreviews bool
	logger           logger.Logger
}

// NewResolver builds a resolver. downloadPreviews also emits preview
// variants and accepts them when no full variant exists.
func NewResolver(downloadPreviews bool, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Resolver{downloadPreviews: downloadPreviews, logger: log}
}

// Resolve maps a post to its download descriptors. Entries with no usable
// URL are logged and skipped; they never fail the post.
func (r *Resolver) Resolve(post feed.Post) []Descriptor {
	var descriptors []Descriptor

	for i, m := range post.Media {
		full := fullVariant(m)
		preview := previewVariant(m)

		switch {
		case full != "":
			descriptors = append(descriptors, r.descriptor(post.ID, i, m, full, false))
			if r.downloadPreviews && preview != "" {
				descriptors = append(descriptors, r.descriptor(post.ID, i, m, preview, true))
			}
		case preview != "" && r.downloadPreviews:
			descriptors = append(descriptors, r.descriptor(post.ID, i, m, preview, true))
		case preview != "":
			r.logger.DebugWithFields("skipping locked media, previews disabled", map[string]interface{}{
				"post_id":  post.ID,
				"media_id": m.ID,
			})
		default:
			r.logger.WarnWithFields("media entry has no usable URL", map[string]interface{}{
				"post_id":  post.ID,
				"media_id": m.ID,
				"type":     m.Type,
				"can_view": m.CanView,
			})
		}
	}

	return descriptors
}

func (r *Resolver) descriptor(postID int64, ordinal int, m feed.Media, rawURL string, preview bool) Descriptor {
	kind := KindDirect
	if isManifestURL(rawURL) {
		kind = KindStream
	}
	return Descriptor{
		PostID:    postID,
		MediaID:   m.ID,
		Ordinal:   ordinal,
		Kind:      kind,
		Type:      m.Type,
		URL:       rawURL,
		Extension: ExtensionFor(m.Type, rawURL, kind),
		Preview:   preview,
	}
}

// fullVariant picks the best non-preview URL: the source block first, then
// the files map in quality order.
func fullVariant(m feed.Media) string {
	if m.Source != nil {
		if m.Source.Source != "" {
			return m.Source.Source
		}
		if m.Source.URL != "" {
			return m.Source.URL
		}
	}
	for _, quality := range []string{"source", "full"} {
		if f, ok := m.Files[quality]; ok && f.URL != "" {
			return f.URL
		}
	}
	return ""
}

func previewVariant(m feed.Media) string {
	if f, ok := m.Files["preview"]; ok && f.URL != "" {
		return f.URL
	}
	return m.Preview
}

func isManifestURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// ExtensionFor maps a media type to a file extension, falling back to the
// URL path and finally "bin". Streams always produce mp4 output.
func ExtensionFor(mediaType, rawURL string, kind Kind) string {
	if kind == KindStream {
		return "mp4"
	}

	switch mediaType {
	case "photo":
		return "jpg"
	case "video":
		return "mp4"
	case "gif":
		return "gif"
	case "audio":
		return "mp3"
	}

	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}
	return "bin"
}
