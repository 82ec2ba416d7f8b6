package monitoring

import (
	"sync"

	"github.com/gosuri/uiprogress"
)

// Progress is a single terminal progress bar for a long loop (training
// batches, inference tiles). A nil or disabled Progress ignores all calls.
type Progress struct {
	ui  *uiprogress.Progress
	bar *uiprogress.Bar

	mu    sync.Mutex
	label string
}

// NewProgress starts a progress bar with total steps. When enabled is false
// it returns nil, which is safe to use.
func NewProgress(enabled bool, label string, total int) *Progress {
	if !enabled || total <= 0 {
		return nil
	}
	p := &Progress{ui: uiprogress.New(), label: label}
	p.bar = p.ui.AddBar(total).AppendCompleted().PrependElapsed()
	p.bar.PrependFunc(func(b *uiprogress.Bar) string {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.label
	})
	p.ui.Start()
	return p
}

// Incr advances the bar by one step.
func (p *Progress) Incr() {
	if p == nil {
		return
	}
	p.bar.Incr()
}

// Describe replaces the label shown in front of the bar.
func (p *Progress) Describe(label string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.label = label
	p.mu.Unlock()
}

// Done stops rendering.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.ui.Stop()
}
