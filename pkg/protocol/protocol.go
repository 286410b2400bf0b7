// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package protocol defines the messages exchanged between a peermap server
// and its clients. All messages wrap DefaultMessage, so they have a Type field
// which marshals to json as "type." Payloads are strictly typed per message
// kind; anything that doesn't decode into its schema is rejected at the
// boundary.
package protocol

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/peermap/peermap/pkg/geo"
)

// Message type names, as they appear on the wire.
const (
	TypeSnapshot  = "snapshot"
	TypeAnnounce  = "announce"
	TypeAnnounced = "announced"
	TypeUpdate    = "update"
	TypeUpdated   = "updated"
	TypeRemoved   = "removed"
)

// A Message is sent to and from clients.
// This interface allows generic messages to be passed.
type Message interface {
	Message() string
}

// DefaultMessage implements Message, and has a type.
type DefaultMessage struct {
	Type string `json:"type"`
}

// Message gets the type of a DefaultMessage.
// This ensures that DefaultMessage implements the Message interface.
func (msg DefaultMessage) Message() string {
	return msg.Type
}

// A Session is one connected client's registered identity, address and
// last-known location. The ID is assigned by the server for the lifetime of
// one connection; a reconnect gets a fresh one.
type Session struct {
	ID         string       `json:"id"`
	Address    string       `json:"address,omitempty"`
	Location   geo.Location `json:"location"`
	LastUpdate time.Time    `json:"last_update"`
}

// A SnapshotMessage carries the full session set, sent to a client
// immediately after its channel opens. Self is the receiving channel's own
// session id, so the client can tell itself apart from its peers.
type SnapshotMessage struct {
	DefaultMessage
	Self     string    `json:"self"`
	Sessions []Session `json:"sessions"`
}

// NewSnapshotMessage creates a snapshot message from the given sessions.
func NewSnapshotMessage(self string, sessions []Session) SnapshotMessage {
	return SnapshotMessage{
		DefaultMessage: DefaultMessage{TypeSnapshot},
		Self:           self,
		Sessions:       sessions,
	}
}

// An AnnounceMessage registers the sending client with the server.
// Clients send it once, after resolving their own location.
type AnnounceMessage struct {
	DefaultMessage
	Address  string       `json:"address,omitempty"`
	Location geo.Location `json:"location"`
}

// NewAnnounceMessage creates an announce message.
func NewAnnounceMessage(address string, loc geo.Location) AnnounceMessage {
	return AnnounceMessage{
		DefaultMessage: DefaultMessage{TypeAnnounce},
		Address:        address,
		Location:       loc,
	}
}

// An AnnouncedMessage tells clients that another session registered.
type AnnouncedMessage struct {
	DefaultMessage
	Session Session `json:"session"`
}

// NewAnnouncedMessage creates an announced message for the given session.
func NewAnnouncedMessage(session Session) AnnouncedMessage {
	return AnnouncedMessage{
		DefaultMessage: DefaultMessage{TypeAnnounced},
		Session:        session,
	}
}

// An UpdateMessage carries the sending client's new location.
type UpdateMessage struct {
	DefaultMessage
	Location geo.Location `json:"location"`
}

// NewUpdateMessage creates an update message.
func NewUpdateMessage(loc geo.Location) UpdateMessage {
	return UpdateMessage{
		DefaultMessage: DefaultMessage{TypeUpdate},
		Location:       loc,
	}
}

// An UpdatedMessage tells clients that another session moved.
// It deliberately carries only the id and location, not the full record.
type UpdatedMessage struct {
	DefaultMessage
	ID       string       `json:"id"`
	Location geo.Location `json:"location"`
}

// NewUpdatedMessage creates an updated message.
func NewUpdatedMessage(id string, loc geo.Location) UpdatedMessage {
	return UpdatedMessage{
		DefaultMessage: DefaultMessage{TypeUpdated},
		ID:             id,
		Location:       loc,
	}
}

// A RemovedMessage tells clients that a session's channel closed.
type RemovedMessage struct {
	DefaultMessage
	ID string `json:"id"`
}

// NewRemovedMessage creates a removed message.
func NewRemovedMessage(id string) RemovedMessage {
	return RemovedMessage{
		DefaultMessage: DefaultMessage{TypeRemoved},
		ID:             id,
	}
}

// Marshal encodes a message for the wire.
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// messages maps wire types to factories for the concrete message structs.
var messages = map[string]func() Message{
	TypeSnapshot:  func() Message { return &SnapshotMessage{} },
	TypeAnnounce:  func() Message { return &AnnounceMessage{} },
	TypeAnnounced: func() Message { return &AnnouncedMessage{} },
	TypeUpdate:    func() Message { return &UpdateMessage{} },
	TypeUpdated:   func() Message { return &UpdatedMessage{} },
	TypeRemoved:   func() Message { return &RemovedMessage{} },
}

// Unmarshal decodes a single message, dispatching on its "type" key.
// Unknown types and payloads that don't fit their schema are errors;
// the caller decides whether that is fatal for the sender.
func Unmarshal(data []byte) (Message, error) {
	var envelope DefaultMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "Decode message envelope")
	}

	factory, ok := messages[envelope.Type]
	if !ok {
		return nil, errors.Errorf("Unknown message type %q", envelope.Type)
	}

	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(err, "Decode %q message", envelope.Type)
	}
	return msg, nil
}
