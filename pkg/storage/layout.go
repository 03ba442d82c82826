// Package storage owns the on-disk archive layout and atomic artifact
// writes. Artifacts land under root/{creator}/{Category}/ with
// deterministic {postID}_{mediaID}.{ext} names so reruns map to the same
// paths.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"creatorsync/pkg/feed"
	"creatorsync/pkg/media"
)

// Layout maps descriptors to archive paths under one root.
type Layout struct {
	root string
}

// NewLayout creates the archive root if needed.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &Layout{root: root}, nil
}

// Root returns the archive root path.
func (l *Layout) Root() string {
	return l.root
}

// RelativePath returns the artifact path relative to the archive root.
// This is the form recorded in the fingerprint index.
func (l *Layout) RelativePath(creator string, category feed.Category, d media.Descriptor) string {
	return filepath.Join(sanitizeName(creator), categoryDir(category), fileName(d))
}

// ArtifactPath returns the absolute artifact path.
func (l *Layout) ArtifactPath(creator string, category feed.Category, d media.Descriptor) string {
	return filepath.Join(l.root, l.RelativePath(creator, category, d))
}

// Save streams r into the artifact path through a temp file and an atomic
// rename, so a crash never leaves a partial artifact at the final path.
func (l *Layout) Save(r io.Reader, creator string, category feed.Category, d media.Descriptor) (string, int64, error) {
	final := l.ArtifactPath(creator, category, d)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tempFile := final + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", written, fmt.Errorf("failed to write artifact data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", written, fmt.Errorf("failed to close artifact file: %w", closeErr)
	}

	if err := os.Rename(tempFile, final); err != nil {
		os.Remove(tempFile)
		return "", written, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return final, written, nil
}

// Exists reports whether the artifact is already on disk.
func (l *Layout) Exists(creator string, category feed.Category, d media.Descriptor) bool {
	_, err := os.Stat(l.ArtifactPath(creator, category, d))
	return err == nil
}

func fileName(d media.Descriptor) string {
	ext := d.Extension
	if ext == "" {
		ext = "bin"
	}
	// no platform media id: fall back to the entry's position in the post
	id := fmt.Sprintf("%d", d.MediaID)
	if d.MediaID == 0 {
		id = fmt.Sprintf("m%d", d.Ordinal)
	}
	if d.Preview {
		return fmt.Sprintf("%d_%s_preview.%s", d.PostID, id, ext)
	}
	return fmt.Sprintf("%d_%s.%s", d.PostID, id, ext)
}

func categoryDir(category feed.Category) string {
	switch category {
	case feed.CategoryArchived:
		return "Archived"
	case feed.CategoryMessages:
		return "Messages"
	case feed.CategoryStories:
		return "Stories"
	case feed.CategoryHighlights:
		return "Highlights"
	default:
		return "Posts"
	}
}

// sanitizeName strips path separators and control characters from a
// creator name so it is always a single directory component.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "_"
	}
	return out
}
