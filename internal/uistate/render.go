package uistate

import (
	"sync"
	"time"
)

// DefaultRenderInterval is the sample-and-hold window for streaming
// renders.
const DefaultRenderInterval = 50 * time.Millisecond

// RenderFunc paints one topic's in-flight content.
type RenderFunc func(topicID string, content StreamContent)

// RenderCoordinator throttles streaming renders: token deltas for a
// topic are held for one interval and the newest sample is rendered
// when the window closes, so a burst produces at most one render per
// window instead of one per token.
type RenderCoordinator struct {
	interval time.Duration
	render   RenderFunc

	mu     sync.Mutex
	held   map[string]*heldFrame
	closed bool
}

type heldFrame struct {
	latest StreamContent
	timer  *time.Timer
}

// NewRenderCoordinator builds a coordinator; interval <= 0 selects the
// default window.
func NewRenderCoordinator(interval time.Duration, render RenderFunc) *RenderCoordinator {
	if interval <= 0 {
		interval = DefaultRenderInterval
	}
	return &RenderCoordinator{
		interval: interval,
		render:   render,
		held:     map[string]*heldFrame{},
	}
}

// Offer records the newest content for a topic. The first sample in a
// window arms the timer; later samples just replace the held value.
func (rc *RenderCoordinator) Offer(topicID string, content StreamContent) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	if f, ok := rc.held[topicID]; ok {
		f.latest = content
		return
	}
	f := &heldFrame{latest: content}
	rc.held[topicID] = f
	f.timer = time.AfterFunc(rc.interval, func() { rc.fire(topicID, f) })
}

// Flush renders a topic's held content immediately. Called when a
// stream finalizes so the last frame is not lost to the window.
func (rc *RenderCoordinator) Flush(topicID string) {
	rc.mu.Lock()
	f, ok := rc.held[topicID]
	if ok {
		delete(rc.held, topicID)
		f.timer.Stop()
	}
	rc.mu.Unlock()
	if ok {
		rc.render(topicID, f.latest)
	}
}

// FlushAll renders everything currently held.
func (rc *RenderCoordinator) FlushAll() {
	rc.mu.Lock()
	frames := rc.held
	rc.held = map[string]*heldFrame{}
	for _, f := range frames {
		f.timer.Stop()
	}
	rc.mu.Unlock()
	for topicID, f := range frames {
		rc.render(topicID, f.latest)
	}
}

// Drop discards a topic's held content without rendering, for
// cancelled streams.
func (rc *RenderCoordinator) Drop(topicID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if f, ok := rc.held[topicID]; ok {
		delete(rc.held, topicID)
		f.timer.Stop()
	}
}

// Pending reports the number of topics with a held frame.
func (rc *RenderCoordinator) Pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.held)
}

// Close flushes held frames and rejects further offers.
func (rc *RenderCoordinator) Close() {
	rc.mu.Lock()
	rc.closed = true
	rc.mu.Unlock()
	rc.FlushAll()
}

func (rc *RenderCoordinator) fire(topicID string, f *heldFrame) {
	rc.mu.Lock()
	current, ok := rc.held[topicID]
	if !ok || current != f {
		rc.mu.Unlock()
		return
	}
	delete(rc.held, topicID)
	latest := f.latest
	rc.mu.Unlock()
	rc.render(topicID, latest)
}
