package main

import (
	"io"
	"sync"

	"github.com/Sternrassler/yt-comments/pkg/fanout"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// progressBars renders one bar for the videos of an export.
type progressBars struct {
	mu       sync.Mutex
	progress *mpb.Progress
	bar      *mpb.Bar
}

func newProgressBars(w io.Writer) *progressBars {
	return &progressBars{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(40)),
	}
}

// Start adds the bar once the number of videos is known.
func (p *progressBars) Start(total int) fanout.Progress {
	if total <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.bar = p.progress.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("videos ", decor.WC{W: 7, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Name(" "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)
	return p.bar
}

// Wait flushes the bar. A bar left incomplete by a cancelled run is aborted
// so Wait returns.
func (p *progressBars) Wait() {
	p.mu.Lock()
	if p.bar != nil && !p.bar.Completed() {
		p.bar.Abort(false)
	}
	p.mu.Unlock()

	p.progress.Wait()
}
