// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/protocol"
)

const commandBuffSize = 64 // Buffer size of the registry's ingress queue

// A Registry is the authoritative store of connected channels and their
// registered sessions. All mutations flow through a single goroutine, so no
// two events are ever interleaved mid-processing and the session map needs no
// lock. Broadcast delivery is asynchronous and best-effort; the loop never
// blocks on a slow destination.
type Registry struct {
	log *logrus.Logger
	now func() time.Time
	in  chan command

	// Owned exclusively by the Run goroutine.
	channels map[string]*destination
	sessions map[string]*protocol.Session

	createdTime     time.Time
	maxChannels     int
	maxChannelsTime time.Time
	maxSessions     int
	maxSessionsTime time.Time
}

// A destination is the sending half of one open channel.
// Its events channel is drained by that client's write pump; the buffer is
// the per-destination ordered delivery queue.
type destination struct {
	id     string
	events chan<- protocol.Message
}

// NewRegistry creates a registry. Run must be called before any channel
// events are submitted.
func NewRegistry(log *logrus.Logger) *Registry {
	now := time.Now()
	return &Registry{
		log:             log,
		now:             time.Now,
		in:              make(chan command, commandBuffSize),
		channels:        make(map[string]*destination),
		sessions:        make(map[string]*protocol.Session),
		createdTime:     now,
		maxChannelsTime: now,
		maxSessionsTime: now,
	}
}

// Run processes channel events until ctx is canceled.
func (reg *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-reg.in:
			cmd.run(reg)
		}
	}
}

// A command is one channel event, applied atomically by the Run loop.
type command interface {
	run(reg *Registry)
}

// ChannelOpen registers an open channel and queues a snapshot of every
// currently registered session for it. No session is created yet, and no
// other channel is notified.
func (reg *Registry) ChannelOpen(id string, events chan<- protocol.Message) {
	reg.in <- channelOpenCommand{id: id, events: events}
}

// Announce registers a session for the given channel, or refreshes it if the
// channel already announced. Every other channel is told.
func (reg *Registry) Announce(id, address string, loc geo.Location) {
	reg.in <- announceCommand{id: id, address: address, location: loc}
}

// Update replaces the location of the channel's session and tells every other
// channel. Updates from channels that never announced are dropped.
func (reg *Registry) Update(id string, loc geo.Location) {
	reg.in <- updateCommand{id: id, location: loc}
}

// ChannelClose removes the channel, and, if it had announced, removes its
// session and tells every remaining channel.
func (reg *Registry) ChannelClose(id string) {
	reg.in <- channelCloseCommand{id: id}
}

type channelOpenCommand struct {
	id     string
	events chan<- protocol.Message
}

func (cmd channelOpenCommand) run(reg *Registry) {
	dest := &destination{id: cmd.id, events: cmd.events}
	reg.channels[cmd.id] = dest
	if len(reg.channels) > reg.maxChannels {
		reg.maxChannels = len(reg.channels)
		reg.maxChannelsTime = reg.now()
	}
	channelsConnected.Set(float64(len(reg.channels)))

	// The snapshot is built while no other command can run, so it is a
	// consistent point-in-time copy of the session set.
	sessions := make([]protocol.Session, 0, len(reg.sessions))
	for _, session := range reg.sessions {
		sessions = append(sessions, *session)
	}
	reg.deliver(dest, protocol.NewSnapshotMessage(cmd.id, sessions))

	reg.log.WithFields(logrus.Fields{
		"channel":      cmd.id,
		"num_channels": len(reg.channels),
		"num_sessions": len(reg.sessions),
	}).Info("Channel opened")
}

type announceCommand struct {
	id       string
	address  string
	location geo.Location
}

func (cmd announceCommand) run(reg *Registry) {
	if _, ok := reg.channels[cmd.id]; !ok {
		// The channel closed before its announce was processed.
		return
	}
	if !cmd.location.Valid() {
		rejectedEvents.WithLabelValues(protocol.TypeAnnounce).Inc()
		reg.log.WithField("channel", cmd.id).Debug("Ignoring announce with out-of-range location")
		return
	}

	now := reg.now()
	session, ok := reg.sessions[cmd.id]
	if !ok {
		session = &protocol.Session{ID: cmd.id}
		reg.sessions[cmd.id] = session
		if len(reg.sessions) > reg.maxSessions {
			reg.maxSessions = len(reg.sessions)
			reg.maxSessionsTime = now
		}
	}
	session.Address = cmd.address
	session.Location = cmd.location.Stamp(now)
	session.LastUpdate = now
	sessionsRegistered.Set(float64(len(reg.sessions)))

	reg.broadcast(protocol.NewAnnouncedMessage(*session), cmd.id)
	reg.log.WithFields(logrus.Fields{
		"channel":      cmd.id,
		"address":      cmd.address,
		"num_sessions": len(reg.sessions),
	}).Info("Session announced")
}

type updateCommand struct {
	id       string
	location geo.Location
}

func (cmd updateCommand) run(reg *Registry) {
	session, ok := reg.sessions[cmd.id]
	if !ok {
		// Not yet registered; the client must announce first.
		return
	}
	if !cmd.location.Valid() {
		rejectedEvents.WithLabelValues(protocol.TypeUpdate).Inc()
		reg.log.WithField("channel", cmd.id).Debug("Ignoring update with out-of-range location")
		return
	}

	now := reg.now()
	session.Location = cmd.location.Stamp(now)
	session.LastUpdate = now

	reg.broadcast(protocol.NewUpdatedMessage(cmd.id, session.Location), cmd.id)
}

type channelCloseCommand struct {
	id string
}

func (cmd channelCloseCommand) run(reg *Registry) {
	if _, ok := reg.channels[cmd.id]; !ok {
		return
	}
	delete(reg.channels, cmd.id)
	channelsConnected.Set(float64(len(reg.channels)))

	_, announced := reg.sessions[cmd.id]
	if announced {
		delete(reg.sessions, cmd.id)
		sessionsRegistered.Set(float64(len(reg.sessions)))
		reg.broadcast(protocol.NewRemovedMessage(cmd.id), cmd.id)
	}

	reg.log.WithFields(logrus.Fields{
		"channel":      cmd.id,
		"announced":    announced,
		"num_channels": len(reg.channels),
		"num_sessions": len(reg.sessions),
	}).Info("Channel closed")
}

// broadcast queues msg for every open channel except the origin.
func (reg *Registry) broadcast(msg protocol.Message, excludeID string) {
	broadcastsTotal.WithLabelValues(msg.Message()).Inc()
	for id, dest := range reg.channels {
		if id == excludeID {
			continue
		}
		reg.deliver(dest, msg)
	}
}

// deliver queues msg for one destination without blocking. A destination
// whose queue is full has its delivery dropped; its next snapshot on
// reconnect, or its close notification, is the recovery path.
func (reg *Registry) deliver(dest *destination, msg protocol.Message) {
	select {
	case dest.events <- msg:
	default:
		droppedDeliveries.Inc()
		reg.log.WithFields(logrus.Fields{
			"channel": dest.id,
			"message": msg.Message(),
		}).Warn("Destination queue full, dropping delivery")
	}
}

// Stats contains summary information about a registry.
type Stats struct {
	Uptime          time.Duration `json:"uptime"`
	NumChannels     int           `json:"num_channels"`
	NumSessions     int           `json:"num_sessions"`
	MaxChannels     int           `json:"max_channels"`
	MaxChannelsTime time.Time     `json:"max_channels_at"`
	MaxSessions     int           `json:"max_sessions"`
	MaxSessionsTime time.Time     `json:"max_sessions_at"`
}

type statsCommand struct {
	resp chan<- Stats
}

func (cmd statsCommand) run(reg *Registry) {
	cmd.resp <- Stats{
		Uptime:          time.Since(reg.createdTime),
		NumChannels:     len(reg.channels),
		NumSessions:     len(reg.sessions),
		MaxChannels:     reg.maxChannels,
		MaxChannelsTime: reg.maxChannelsTime,
		MaxSessions:     reg.maxSessions,
		MaxSessionsTime: reg.maxSessionsTime,
	}
}

// Stats gets stats for this registry.
func (reg *Registry) Stats() Stats {
	resp := make(chan Stats, 1)
	reg.in <- statsCommand{resp: resp}
	return <-resp
}
