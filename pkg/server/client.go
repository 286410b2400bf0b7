// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/peermap/peermap/pkg/protocol"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client.
	maxMessageSize = 4096

	// Buffer size of the per-client delivery queue. Also the bound on how
	// far a slow client may fall behind before deliveries are dropped.
	sendBuffSize = 256
)

// A client pumps messages between one websocket connection and the registry.
// The send channel is this channel's ordered delivery queue; only the
// registry writes to it, and only writePump drains it.
type client struct {
	id   string
	conn *websocket.Conn
	reg  *Registry
	send chan protocol.Message
	done chan struct{} // Closed when the reader exits
	log  *logrus.Entry
}

func newClient(id string, conn *websocket.Conn, reg *Registry, log *logrus.Logger) *client {
	return &client{
		id:   id,
		conn: conn,
		reg:  reg,
		send: make(chan protocol.Message, sendBuffSize),
		done: make(chan struct{}),
		log:  log.WithField("channel", id),
	}
}

// run registers the channel and pumps it until the connection dies.
// The snapshot is queued by the registry before any later broadcast, so it is
// always the first message the client sees.
func (c *client) run() {
	c.reg.ChannelOpen(c.id, c.send)
	go c.writePump()
	c.readPump()
}

// readPump reads messages from the connection and submits them to the
// registry. Closure of the connection, however it happens, ends the session.
func (c *client) readPump() {
	defer func() {
		c.reg.ChannelClose(c.id)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithField("error", err).Debug("Channel closed unexpectedly")
			}
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			// A channel producing bad data must not be able to corrupt
			// the shared view. Drop the message and move on.
			rejectedEvents.WithLabelValues("unparseable").Inc()
			c.log.WithField("error", err).Debug("Ignoring malformed message")
			continue
		}

		switch msg := msg.(type) {
		case *protocol.AnnounceMessage:
			c.reg.Announce(c.id, msg.Address, msg.Location)
		case *protocol.UpdateMessage:
			c.reg.Update(c.id, msg.Location)
		default:
			c.log.WithField("message", msg.Message()).Debug("Ignoring unexpected message type")
		}
	}
}

// writePump drains the delivery queue onto the connection and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			data, err := protocol.Marshal(msg)
			if err != nil {
				c.log.WithFields(logrus.Fields{
					"message": msg.Message(),
					"error":   err,
				}).Error("Cannot serialize message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
