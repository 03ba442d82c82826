package ui

import (
	"fmt"

	"creatorsync/pkg/progress"
)

// Renderer consumes progress events and writes one line per meaningful
// transition. It runs on its own goroutine; Wait blocks until the event
// channel is drained.
type Renderer struct {
	done chan struct{}

	downloaded int
	skipped    int
	failed     int
}

// NewRenderer starts rendering the emitter's event stream.
func NewRenderer(emitter *progress.Emitter) *Renderer {
	r := &Renderer{done: make(chan struct{})}
	go r.run(emitter.Events())
	return r
}

func (r *Renderer) run(events <-chan progress.Event) {
	defer close(r.done)
	for ev := range events {
		switch ev.Type {
		case progress.EventCreatorStarted:
			PrintInfo("Syncing", fmt.Sprintf("%s/%s", ev.Creator, ev.Category))
		case progress.EventDownloadCompleted:
			r.downloaded++
			if !quiet.Load() {
				fmt.Printf("  %s %s (%s)\n", Green("✓"), ev.Path, formatBytes(ev.Bytes))
			}
		case progress.EventDownloadSkipped:
			r.skipped++
		case progress.EventDownloadFailed:
			r.failed++
			if !quiet.Load() {
				fmt.Printf("  %s post %d media %d: %s\n", Red("✗"), ev.PostID, ev.MediaID, ev.Reason)
			}
		case progress.EventRateLimitWait:
			if !quiet.Load() {
				fmt.Printf("  %s rate limited, waiting %s\n", Yellow("…"), ev.Wait)
			}
		case progress.EventCreatorFinished:
			PrintInfo("Finished", fmt.Sprintf("%s/%s", ev.Creator, ev.Category))
		}
	}
}

// Wait blocks until the emitter is closed and every event is rendered.
func (r *Renderer) Wait() {
	<-r.done
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
