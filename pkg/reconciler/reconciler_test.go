package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/protocol"
)

func session(id string, lat, lng float64) protocol.Session {
	return protocol.Session{
		ID:       id,
		Address:  "198.51.100.7",
		Location: geo.Location{Latitude: lat, Longitude: lng, Accuracy: 10},
	}
}

func TestSnapshotThenRemoval(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1), session("B", 2, 2)})
	r.ApplyRemoval("A")

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "B", peers[0].ID)
}

func TestSnapshotFiltersSelf(t *testing.T) {
	r := New()
	r.ApplySnapshot("B", []protocol.Session{session("A", 1, 1), session("B", 2, 2)})

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "A", peers[0].ID)
	assert.Equal(t, "B", r.Self())
}

func TestAnnounceDeduplicates(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", nil)

	r.ApplyAnnounce(session("A", 1, 1))
	r.ApplyAnnounce(session("A", 3, 3))

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 3.0, peers[0].Location.Latitude, "re-announce must replace the full record")
}

func TestAnnounceNeverInsertsSelf(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", nil)
	r.ApplyAnnounce(session("me", 1, 1))

	assert.Zero(t, r.Len())
}

func TestUpdateUnknownIDIsNoOp(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1)})
	before := r.Peers()

	r.ApplyUpdate("ghost", geo.Location{Latitude: 5, Longitude: 5})

	assert.Equal(t, before, r.Peers())
}

func TestUpdateRefreshesLastUpdateLocally(t *testing.T) {
	receipt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.now = func() time.Time { return receipt }
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1)})

	r.ApplyUpdate("A", geo.Location{Latitude: 7, Longitude: 8, Accuracy: 9})

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, 7.0, peers[0].Location.Latitude)
	assert.Equal(t, receipt, peers[0].LastUpdate)
}

func TestRemovalIsIdempotent(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1)})

	r.ApplyRemoval("A")
	r.ApplyRemoval("A")
	r.ApplyRemoval("never-existed")

	assert.Zero(t, r.Len())
}

func TestStateMachine(t *testing.T) {
	r := New()
	assert.Equal(t, Uninitialized, r.State())

	r.ApplySnapshot("me", nil)
	assert.Equal(t, Synced, r.State())

	r.ApplyAnnounce(session("A", 1, 1))
	r.ApplyUpdate("A", geo.Location{Latitude: 2, Longitude: 2})
	r.ApplyRemoval("A")
	assert.Equal(t, Synced, r.State())

	r.Disconnected()
	assert.Equal(t, Uninitialized, r.State())

	// A fresh snapshot re-establishes consistency with a new identity.
	r.ApplySnapshot("me2", []protocol.Session{session("C", 4, 4)})
	assert.Equal(t, Synced, r.State())
	require.Equal(t, 1, r.Len())
	assert.Equal(t, "C", r.Peers()[0].ID)
}

func TestDisconnectedEmptiesView(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1), session("B", 2, 2)})
	r.Disconnected()

	assert.Zero(t, r.Len(), "a dead channel's peers must not be served")
	assert.Empty(t, r.Peers())

	// Stray events from the dead channel are dropped until the next snapshot.
	r.ApplyAnnounce(session("C", 3, 3))
	r.ApplyUpdate("A", geo.Location{Latitude: 9, Longitude: 9})
	r.ApplyRemoval("B")
	assert.Zero(t, r.Len())
	assert.Equal(t, Uninitialized, r.State())
}

func TestEventsBeforeSnapshotAreDropped(t *testing.T) {
	r := New()
	r.ApplyAnnounce(session("A", 1, 1))

	assert.Zero(t, r.Len())
	assert.Equal(t, Uninitialized, r.State())
}

func TestPeersPreservesInsertionOrder(t *testing.T) {
	r := New()
	r.ApplySnapshot("me", []protocol.Session{session("A", 1, 1), session("B", 2, 2)})
	r.ApplyAnnounce(session("C", 3, 3))
	r.ApplyRemoval("A")
	r.ApplyAnnounce(session("D", 4, 4))

	ids := []string{}
	for _, p := range r.Peers() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"B", "C", "D"}, ids)
}

func TestApplyDispatch(t *testing.T) {
	r := New()
	r.Apply(&protocol.SnapshotMessage{
		DefaultMessage: protocol.DefaultMessage{Type: protocol.TypeSnapshot},
		Self:           "me",
		Sessions:       []protocol.Session{session("A", 1, 1)},
	})
	r.Apply(&protocol.AnnouncedMessage{
		DefaultMessage: protocol.DefaultMessage{Type: protocol.TypeAnnounced},
		Session:        session("B", 2, 2),
	})
	r.Apply(&protocol.UpdatedMessage{
		DefaultMessage: protocol.DefaultMessage{Type: protocol.TypeUpdated},
		ID:             "A",
		Location:       geo.Location{Latitude: 9, Longitude: 9},
	})
	r.Apply(&protocol.RemovedMessage{
		DefaultMessage: protocol.DefaultMessage{Type: protocol.TypeRemoved},
		ID:             "B",
	})

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "A", peers[0].ID)
	assert.Equal(t, 9.0, peers[0].Location.Latitude)
}
