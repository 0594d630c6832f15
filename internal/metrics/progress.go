package metrics

import (
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// ProgressBar draws index progress on a terminal. It only reacts to
// ChunkProcessed; the other events are ignored.
type ProgressBar struct {
	pipeline.NopBatchObserver

	mu  sync.Mutex
	out io.Writer
	bar *pb.ProgressBar
}

// NewProgressBar writes the bar to out once the first chunk completes.
func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{out: out}
}

// ChunkProcessed advances the bar, starting it on first use.
func (p *ProgressBar) ChunkProcessed(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = pb.New(total)
		p.bar.SetWriter(p.out)
		p.bar.Start()
	}
	p.bar.SetCurrent(int64(done))
}

// Finish stops redrawing.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
	}
}
