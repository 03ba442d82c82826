// Package stream assembles segmented HLS media into a single local file.
// Segments are fetched with bounded concurrency but written strictly in
// manifest order; the output appears atomically or not at all.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/grafov/m3u8"

	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/retry"
)

// Options tunes one assembler.
type Options struct {
	// Concurrency bounds parallel segment fetches, default 4.
	Concurrency int
	// Retry applies per segment and to the manifest fetch.
	Retry  *retry.Policy
	Logger logger.Logger
}

// Assembler downloads and concatenates HLS streams.
type Assembler struct {
	fetcher     SegmentFetcher
	concurrency int
	retry       *retry.Policy
	logger      logger.Logger
}

// NewAssembler builds an assembler over a segment fetcher.
func NewAssembler(fetcher SegmentFetcher, opts Options) *Assembler {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	policy := opts.Retry
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Assembler{
		fetcher:     fetcher,
		concurrency: concurrency,
		retry:       policy,
		logger:      log,
	}
}

// Assemble fetches the manifest at manifestURL, downloads every segment and
// writes the concatenated stream to dest. On any failure the partial
// output is removed and dest is untouched.
func (a *Assembler) Assemble(ctx context.Context, manifestURL, dest string) (int64, error) {
	segments, err := a.segmentPlan(ctx, manifestURL)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, errors.Permanent(fmt.Sprintf("manifest %s lists no segments", manifestURL), 0)
	}

	a.logger.DebugWithFields("assembling stream", map[string]interface{}{
		"manifest": manifestURL,
		"segments": len(segments),
	})

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tempPath := dest + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary stream file: %w", err)
	}

	written, err := a.writeSegments(ctx, out, segments)
	closeErr := out.Close()

	if err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close stream file: %w", closeErr)
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}

	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to promote stream file: %w", err)
	}
	return written, nil
}

// segmentPlan resolves the manifest, following a master playlist to its
// best variant, and returns the ordered absolute segment URLs.
func (a *Assembler) segmentPlan(ctx context.Context, manifestURL string) ([]string, error) {
	playlist, listType, err := a.fetchPlaylist(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	if listType == m3u8.MASTER {
		master := playlist.(*m3u8.MasterPlaylist)
		variantURL, err := bestVariant(master, manifestURL)
		if err != nil {
			return nil, err
		}
		a.logger.DebugWithFields("selected stream variant", map[string]interface{}{
			"manifest": manifestURL,
			"variant":  variantURL,
		})
		playlist, listType, err = a.fetchPlaylist(ctx, variantURL)
		if err != nil {
			return nil, err
		}
		if listType != m3u8.MEDIA {
			return nil, errors.Permanent(fmt.Sprintf("variant %s is not a media playlist", variantURL), 0)
		}
		manifestURL = variantURL
	}

	media := playlist.(*m3u8.MediaPlaylist)
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, errors.Permanent(fmt.Sprintf("invalid manifest URL: %v", err), 0)
	}

	var segments []string
	for _, seg := range media.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		if seg.Key != nil && seg.Key.URI != "" {
			return nil, errors.Permanent("encrypted stream segments are not supported", 0)
		}
		segments = append(segments, resolveURL(base, seg.URI))
	}
	return segments, nil
}

func (a *Assembler) fetchPlaylist(ctx context.Context, manifestURL string) (m3u8.Playlist, m3u8.ListType, error) {
	var playlist m3u8.Playlist
	var listType m3u8.ListType

	err := a.retry.Do(ctx, a.logger, func() error {
		body, err := a.fetcher.FetchSegment(ctx, manifestURL)
		if err != nil {
			return err
		}
		p, lt, decodeErr := m3u8.DecodeFrom(bytes.NewReader(body), true)
		if decodeErr != nil {
			return errors.Permanent(fmt.Sprintf("failed to parse manifest: %v", decodeErr), 0)
		}
		playlist, listType = p, lt
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("manifest %s unavailable: %w", manifestURL, err)
	}
	return playlist, listType, nil
}

// writeSegments fetches segments with bounded concurrency and writes them
// in manifest order. A worker may only fetch indexes within Concurrency of
// the next write position, so fetched-but-unwritten data stays bounded and
// the next-needed segment always has a slot.
func (a *Assembler) writeSegments(ctx context.Context, out io.Writer, segments []string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type segResult struct {
		index int
		data  []byte
		err   error
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	next := 0

	// wake waiting workers on cancellation
	go func() {
		<-ctx.Done()
		cond.Broadcast()
	}()

	results := make(chan segResult)
	var wg sync.WaitGroup
	for i, segURL := range segments {
		wg.Add(1)
		go func(index int, segURL string) {
			defer wg.Done()

			mu.Lock()
			for index >= next+a.concurrency && ctx.Err() == nil {
				cond.Wait()
			}
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}

			var data []byte
			err := a.retry.Do(ctx, a.logger, func() error {
				var fetchErr error
				data, fetchErr = a.fetcher.FetchSegment(ctx, segURL)
				return fetchErr
			})

			select {
			case results <- segResult{index: index, data: data, err: err}:
			case <-ctx.Done():
			}
		}(i, segURL)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int][]byte)
	var written int64

	for next < len(segments) {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case res, ok := <-results:
			if !ok {
				return written, errors.IncompleteStream("segment pipeline ended early", nil)
			}
			if res.err != nil {
				cancel()
				return written, errors.IncompleteStream(
					fmt.Sprintf("segment %d of %d failed", res.index+1, len(segments)), res.err)
			}
			pending[res.index] = res.data

			for {
				data, ok := pending[next]
				if !ok {
					break
				}
				n, err := out.Write(data)
				written += int64(n)
				if err != nil {
					cancel()
					return written, fmt.Errorf("failed to write segment %d: %w", next+1, err)
				}
				delete(pending, next)
				mu.Lock()
				next++
				mu.Unlock()
				cond.Broadcast()
			}
		}
	}
	return written, nil
}

// bestVariant picks the highest-bandwidth variant of a master playlist.
func bestVariant(master *m3u8.MasterPlaylist, manifestURL string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", errors.Permanent(fmt.Sprintf("invalid manifest URL: %v", err), 0)
	}

	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return "", errors.Permanent("master playlist lists no variants", 0)
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return resolveURL(base, variants[0].URI), nil
}

func resolveURL(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
