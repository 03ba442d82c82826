// Package fingerprint implements the dedup index. A fingerprint is either
// a digest of the platform's stable media identifiers (fast path, no bytes
// needed) or a content hash when no trustworthy ID exists.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"

	"creatorsync/pkg/media"
)

// Fingerprint identifies one already-acquired artifact.
type Fingerprint string

// Of computes the identifier fast path for a descriptor. Preview variants
// fingerprint separately from their full counterpart.
func Of(d media.Descriptor) Fingerprint {
	variant := "full"
	if d.Preview {
		variant = "preview"
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("id:%d:%d:%s", d.PostID, d.MediaID, variant)))
	return Fingerprint("id:" + hex.EncodeToString(sum[:]))
}

// OfContent hashes raw bytes for media with no usable platform identifier.
func OfContent(r io.Reader) (Fingerprint, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return h.Fingerprint(), nil
}

// Hasher computes a content fingerprint incrementally, so bytes can be
// hashed while they stream to disk.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty content hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Fingerprint returns the fingerprint of everything written so far.
func (h *Hasher) Fingerprint() Fingerprint {
	return Fingerprint("sha256:" + hex.EncodeToString(h.h.Sum(nil)))
}

// Index is the in-memory dedup index for one creator+category sync. Safe
// for concurrent use, though completion recording happens on one goroutine.
type Index struct {
	mu        sync.RWMutex
	entries   map[Fingerprint]string
	overwrite bool
}

// NewIndex builds an index. In overwrite mode Contains always reports
// false so every item is re-acquired, and Record replaces the stored path
// instead of accumulating duplicates.
func NewIndex(overwrite bool) *Index {
	return &Index{
		entries:   make(map[Fingerprint]string),
		overwrite: overwrite,
	}
}

// Load seeds the index from a persisted snapshot.
func (i *Index) Load(entries map[string]string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for fp, path := range entries {
		i.entries[Fingerprint(fp)] = path
	}
}

// Contains reports whether the artifact is already acquired.
func (i *Index) Contains(fp Fingerprint) bool {
	if i.overwrite {
		return false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[fp]
	return ok
}

// Record stores the artifact path for a fingerprint.
func (i *Index) Record(fp Fingerprint, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries[fp] = path
}

// PathOf returns the recorded path for a fingerprint, if any.
func (i *Index) PathOf(fp Fingerprint) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	path, ok := i.entries[fp]
	return path, ok
}

// Snapshot copies the index for persistence.
func (i *Index) Snapshot() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]string, len(i.entries))
	for fp, path := range i.entries {
		out[string(fp)] = path
	}
	return out
}

// Len returns the number of recorded artifacts.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
