package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peermap/peermap/pkg/geo"
)

func TestUnmarshalDispatchesOnType(t *testing.T) {
	session := Session{
		ID:      "b1c4a89e-0f1a-4f77-8c03-2f9e1c6a7b10",
		Address: "203.0.113.5",
		Location: geo.Location{
			Latitude:   38.72,
			Longitude:  -9.14,
			Accuracy:   12,
			CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		LastUpdate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Marshal(NewAnnouncedMessage(session))
	require.NoError(t, err)

	msg, err := Unmarshal(data)
	require.NoError(t, err)

	announced, ok := msg.(*AnnouncedMessage)
	require.True(t, ok, "expected *AnnouncedMessage, got %T", msg)
	assert.Equal(t, TypeAnnounced, announced.Message())
	assert.Equal(t, session, announced.Session)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"teleport","id":"x"}`))
	assert.Error(t, err)

	// There is no error vocabulary on the wire; faults are silent.
	_, err = Unmarshal([]byte(`{"type":"error","error":"boom"}`))
	assert.Error(t, err)
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

func TestUnmarshalRejectsNonNumericCoordinates(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"update","location":{"lat":"north","lng":0}}`))
	assert.Error(t, err)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestLocationsAlwaysCarryCapturedAt(t *testing.T) {
	// An unstamped location still serializes its timestamp field; receivers
	// never have to treat it as optional.
	data, err := Marshal(NewUpdateMessage(geo.Location{Latitude: 1, Longitude: 2}))
	require.NoError(t, err)

	assert.Contains(t, string(data), "captured_at")
}

func TestUpdatedCarriesOnlyIDAndLocation(t *testing.T) {
	data, err := Marshal(NewUpdatedMessage("abc", geo.Location{Latitude: 1, Longitude: 2, Accuracy: 3}))
	require.NoError(t, err)

	assert.NotContains(t, string(data), "address")
	assert.NotContains(t, string(data), "session")
}
