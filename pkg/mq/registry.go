package mq

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// outcome is the terminal state of one in-flight call: a raw reply body or
// an error, never both.
type outcome struct {
	body []byte
	err  error
}

type pendingCall struct {
	ch       chan outcome
	deadline time.Time
}

// registry tracks in-flight RPC calls by correlation id. Ids are UUIDv4, so
// two concurrent calls from the same client cannot collide. Each entry
// resolves at most once: the first resolve/fail removes it, later replies
// for the same id are dropped. A background sweep fails entries past their
// deadline so no entry can leak.
type registry struct {
	mu      sync.Mutex
	pending map[string]*pendingCall

	sweepEvery time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

func newRegistry(sweepEvery time.Duration) *registry {
	if sweepEvery <= 0 {
		sweepEvery = 50 * time.Millisecond
	}
	r := &registry{
		pending:    make(map[string]*pendingCall),
		sweepEvery: sweepEvery,
		done:       make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// register creates a PendingCall and returns its correlation id and
// completion channel. The channel receives exactly one outcome.
func (r *registry) register(deadline time.Time) (string, <-chan outcome) {
	id := uuid.NewString()
	call := &pendingCall{
		ch:       make(chan outcome, 1),
		deadline: deadline,
	}
	r.mu.Lock()
	r.pending[id] = call
	r.mu.Unlock()
	return id, call.ch
}

// resolve completes the call with a reply body. Unknown ids (late replies,
// duplicates) are ignored and reported as false.
func (r *registry) resolve(id string, body []byte) bool {
	return r.complete(id, outcome{body: body})
}

// fail completes the call with an error. Unknown ids are ignored.
func (r *registry) fail(id string, err error) bool {
	return r.complete(id, outcome{err: err})
}

func (r *registry) complete(id string, out outcome) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	call.ch <- out
	return true
}

// remove drops the entry without delivering an outcome. Used when the
// caller stopped waiting; a reply arriving afterwards is discarded.
func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *registry) inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *registry) sweep(now time.Time) {
	var expired []*pendingCall
	r.mu.Lock()
	for id, call := range r.pending {
		if now.After(call.deadline) {
			delete(r.pending, id)
			expired = append(expired, call)
		}
	}
	r.mu.Unlock()
	for _, call := range expired {
		call.ch <- outcome{err: ErrTimeout}
	}
}

func (r *registry) close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		for id, call := range r.pending {
			delete(r.pending, id)
			call.ch <- outcome{err: ErrClientClosed}
		}
		r.mu.Unlock()
	})
}
