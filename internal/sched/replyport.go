package sched

import (
	"fmt"
	"sync"
)

// ReplyID numbers a private reply channel.
type ReplyID uint32

// postOffice hands out reply channels from a fixed, rotating id range.
// A reply channel is opened per request, receives exactly one response, then closes.
type postOffice struct {
	mu       sync.Mutex
	min, max ReplyID
	last     ReplyID
	open     map[ReplyID]chan response
}

func newPostOffice(min, max uint32) *postOffice {
	return &postOffice{
		min:  ReplyID(min),
		max:  ReplyID(max),
		last: ReplyID(max),
		open: make(map[ReplyID]chan response),
	}
}

// Open allocates the next free id after the last one handed out, wrapping
// from max back to min, and skips ids whose channel is still open.
func (p *postOffice) Open() (ReplyID, <-chan response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := int(p.max-p.min) + 1
	id := p.last
	for i := 0; i < span; i++ {
		if id >= p.max {
			id = p.min
		} else {
			id++
		}
		if _, busy := p.open[id]; busy {
			continue
		}
		ch := make(chan response, 1)
		p.open[id] = ch
		p.last = id
		return id, ch, nil
	}
	return 0, nil, fmt.Errorf("%w: all %d in use", ErrNoReplyChannel, span)
}

// Deliver sends resp on the channel for id. It never blocks; false means the
// channel was already closed by its owner.
func (p *postOffice) Deliver(id ReplyID, resp response) bool {
	p.mu.Lock()
	ch, ok := p.open[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
		return true
	default:
		return false
	}
}

// Close releases id for reuse.
func (p *postOffice) Close(id ReplyID) {
	p.mu.Lock()
	delete(p.open, id)
	p.mu.Unlock()
}

// InUse returns the number of open reply channels.
func (p *postOffice) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}
