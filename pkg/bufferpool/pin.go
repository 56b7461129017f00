// pkg/bufferpool/pin.go
package bufferpool

import (
	"sync/atomic"

	"pagekv/pkg/pager"
)

// Pin keeps a page resident. Every Pin returned by Fetch or New must be
// released; releasing twice is a no-op.
type Pin struct {
	page     *pager.Page
	released atomic.Bool
}

func newPin(p *pager.Page) *Pin {
	return &Pin{page: p}
}

// Page returns the pinned page. It must not be used after Release.
func (p *Pin) Page() *pager.Page {
	return p.page
}

// ID returns the pinned page id.
func (p *Pin) ID() pager.PageID {
	return p.page.ID()
}

// Release drops the pin.
func (p *Pin) Release() {
	if p == nil {
		return
	}
	if p.released.CompareAndSwap(false, true) {
		p.page.Unref()
	}
}
