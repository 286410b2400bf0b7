// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package reconciler maintains a client's local view of its peers from the
// snapshot and incremental events its channel delivers.
//
// The view is a projection of the server's session registry: seeded from the
// one-time snapshot, then kept consistent by applying announced, updated and
// removed events, without ever receiving the full state again. A reconciler
// whose channel has disconnected is emptied, and drops events until the
// snapshot of a fresh connection reseeds it.
package reconciler

import (
	"sync"
	"time"

	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/protocol"
)

// State reports whether a reconciler's view can be trusted.
type State int

const (
	// Uninitialized means no snapshot has been applied since the last
	// connect, so the view is stale.
	Uninitialized State = iota
	// Synced means the view tracks the registry, with no bound on lag.
	Synced
)

func (s State) String() string {
	if s == Synced {
		return "synced"
	}
	return "uninitialized"
}

// A Reconciler derives an ordered peer view from channel events.
// Methods are safe for concurrent use, but events from one channel must be
// applied in the order the channel delivered them.
type Reconciler struct {
	now func() time.Time

	mtx    sync.RWMutex
	state  State
	selfID string
	order  []string
	peers  map[string]*protocol.Session
}

// New creates an empty, uninitialized reconciler.
func New() *Reconciler {
	return &Reconciler{
		now:   time.Now,
		peers: make(map[string]*protocol.Session),
	}
}

// Apply dispatches one server-to-client message into the view.
// Messages that don't affect the view are ignored.
func (r *Reconciler) Apply(msg protocol.Message) {
	switch msg := msg.(type) {
	case *protocol.SnapshotMessage:
		r.ApplySnapshot(msg.Self, msg.Sessions)
	case *protocol.AnnouncedMessage:
		r.ApplyAnnounce(msg.Session)
	case *protocol.UpdatedMessage:
		r.ApplyUpdate(msg.ID, msg.Location)
	case *protocol.RemovedMessage:
		r.ApplyRemoval(msg.ID)
	}
}

// ApplySnapshot replaces the entire view with the given set, filtering out
// the local session, and marks the view synced.
func (r *Reconciler) ApplySnapshot(self string, sessions []protocol.Session) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.selfID = self
	r.order = r.order[:0]
	r.peers = make(map[string]*protocol.Session, len(sessions))
	for _, session := range sessions {
		if session.ID == self {
			continue
		}
		session := session
		r.order = append(r.order, session.ID)
		r.peers[session.ID] = &session
	}
	r.state = Synced
}

// ApplyAnnounce inserts the session, or replaces the full record if its id is
// already present. A session never appears twice, and the local session is
// never inserted as a peer.
func (r *Reconciler) ApplyAnnounce(session protocol.Session) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.state != Synced || session.ID == r.selfID {
		return
	}
	if existing, ok := r.peers[session.ID]; ok {
		*existing = session
		return
	}
	r.order = append(r.order, session.ID)
	r.peers[session.ID] = &session
}

// ApplyUpdate replaces the location of the identified peer and refreshes its
// last-update time to the moment of local receipt. Updates for unknown ids
// are dropped; the matching announce has not arrived, or was missed and will
// be recovered by the next reconnect's snapshot.
func (r *Reconciler) ApplyUpdate(id string, loc geo.Location) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.state != Synced {
		return
	}
	session, ok := r.peers[id]
	if !ok {
		return
	}
	session.Location = loc
	session.LastUpdate = r.now()
}

// ApplyRemoval deletes the identified peer. Removing an unknown id, or the
// same id twice, is a no-op.
func (r *Reconciler) ApplyRemoval(id string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.state != Synced {
		return
	}
	if _, ok := r.peers[id]; !ok {
		return
	}
	delete(r.peers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Disconnected empties the view and marks it uninitialized. The server has
// already discarded the session, so nothing local can be trusted; the next
// snapshot rebuilds the view from scratch.
func (r *Reconciler) Disconnected() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.state = Uninitialized
	r.order = r.order[:0]
	r.peers = make(map[string]*protocol.Session)
}

// State reports whether the view is synced.
func (r *Reconciler) State() State {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.state
}

// Self returns the local session id learned from the last snapshot.
func (r *Reconciler) Self() string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.selfID
}

// Peers returns a copy of the view, in insertion order.
func (r *Reconciler) Peers() []protocol.Session {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	peers := make([]protocol.Session, 0, len(r.order))
	for _, id := range r.order {
		peers = append(peers, *r.peers[id])
	}
	return peers
}

// Len returns the number of peers in the view.
func (r *Reconciler) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.peers)
}
