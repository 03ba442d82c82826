package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"creatorsync/pkg/errors"
)

// SegmentFetcher retrieves one URL fully into memory. Manifests and
// segments go through the same path so both inherit the session client's
// pacing and status classification.
type SegmentFetcher interface {
	FetchSegment(ctx context.Context, rawURL string) ([]byte, error)
}

// mediaFetcher is the client method the adapter wraps.
type mediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*http.Response, error)
}

type clientFetcher struct {
	client mediaFetcher
}

// NewClientFetcher adapts the session client's media Fetch to the
// assembler's segment interface.
func NewClientFetcher(client mediaFetcher) SegmentFetcher {
	return &clientFetcher{client: client}
}

func (f *clientFetcher) FetchSegment(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.client.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Transient(fmt.Sprintf("segment read interrupted: %v", err), 0, err)
	}
	return data, nil
}
