package bridge

import (
	"errors"
	"sync"

	"btk/orchestrator/pkg/types"
)

// ErrConnectionClosed rejects every pending request when the transport drops.
var ErrConnectionClosed = errors.New("connection closed")

// ErrRequestTimeout rejects a pending request whose timer fired first.
var ErrRequestTimeout = errors.New("request timed out")

// Outcome is delivered exactly once per pending request.
type Outcome struct {
	Msg *types.BridgeMessage
	Err error
}

// PendingTable tracks in-flight requests by correlation ID. At most one live
// entry exists per ID, and each entry is removed exactly once: by the
// correlated response, by its timeout, or by a connection drop.
type PendingTable struct {
	mu sync.Mutex
	m  map[string]chan Outcome
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{m: make(map[string]chan Outcome)}
}

// Add registers a pending request and returns the channel its outcome will
// arrive on. Registering an ID that is already live returns false.
func (p *PendingTable) Add(id string) (<-chan Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.m[id]; exists {
		return nil, false
	}
	ch := make(chan Outcome, 1)
	p.m[id] = ch
	return ch, true
}

// Resolve delivers a correlated response and removes the entry. It returns
// false when no request with that ID is pending.
func (p *PendingTable) Resolve(id string, msg *types.BridgeMessage) bool {
	return p.complete(id, Outcome{Msg: msg})
}

// Reject fails one pending request and removes the entry.
func (p *PendingTable) Reject(id string, err error) bool {
	return p.complete(id, Outcome{Err: err})
}

// RejectAll fails every pending request and clears the table. Used on the
// CONNECTED to DISCONNECTED transition so nothing hangs silently.
func (p *PendingTable) RejectAll(err error) {
	p.mu.Lock()
	entries := p.m
	p.m = make(map[string]chan Outcome)
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- Outcome{Err: err}
	}
}

// Len returns the number of live entries.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *PendingTable) complete(id string, out Outcome) bool {
	p.mu.Lock()
	ch, exists := p.m[id]
	if exists {
		delete(p.m, id)
	}
	p.mu.Unlock()

	if !exists {
		return false
	}
	ch <- out
	return true
}
