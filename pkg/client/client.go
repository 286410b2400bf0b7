// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package client connects to a peermap server and keeps a reconciled view of
// all other sessions.
//
// A client resolves its own location and public address exactly once, before
// its first announce. If the channel drops, the server has already discarded
// the session; reconnecting starts a brand-new session whose snapshot reseeds
// the view.
package client

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/locate"
	"github.com/peermap/peermap/pkg/protocol"
	"github.com/peermap/peermap/pkg/pubip"
	"github.com/peermap/peermap/pkg/reconciler"
)

const (
	// A fix worse than this many meters triggers one retry for a better one.
	accuracyRetryThreshold = 500

	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
)

// Config holds the externally configurable settings for a client.
type Config struct {
	// URL of the server's channel endpoint, e.g. wss://host:port/ws.
	URL string

	// Locator resolves the local position. Required.
	Locator locate.Provider

	// AddressResolver resolves the public address sent at announce time.
	// Optional; failures degrade to an empty address.
	AddressResolver pubip.Resolver

	// TLSConfig optionally overrides TLS settings for wss URLs.
	TLSConfig *tls.Config

	// ReconnectAttempts bounds how many consecutive failed connections are
	// tolerated before Run gives up. 0 means the default.
	ReconnectAttempts int

	// ReconnectDelay is the pause between attempts. 0 means the default.
	ReconnectDelay time.Duration

	// OnEvent, if set, is called for every applied server event, after the
	// view has been updated.
	OnEvent func(protocol.Message)

	Log *logrus.Logger
}

// A Client maintains one session against a peermap server.
type Client struct {
	config Config
	log    *logrus.Logger
	view   *reconciler.Reconciler

	connMTX sync.Mutex // Protects conn for concurrent writes
	conn    *websocket.Conn
}

// New creates a client. Run must be called to connect.
func New(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("No server URL configured")
	}
	if config.Locator == nil {
		return nil, errors.New("No location provider configured")
	}
	if config.Log == nil {
		config.Log = logrus.New()
	}
	if config.ReconnectAttempts == 0 {
		config.ReconnectAttempts = defaultReconnectAttempts
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = defaultReconnectDelay
	}

	return &Client{
		config: config,
		log:    config.Log,
		view:   reconciler.New(),
	}, nil
}

// View exposes the reconciled peer view. Consumers must check its state; a
// disconnected client's view is empty until the next snapshot.
func (c *Client) View() *reconciler.Reconciler {
	return c.view
}

// Run resolves the local location and address, then connects and serves the
// channel until ctx is canceled, reconnecting with a fresh session after
// transient failures. Location resolution failing is fatal: without a
// location there is nothing valid to announce.
func (c *Client) Run(ctx context.Context) error {
	loc, err := c.resolveLocation(ctx)
	if err != nil {
		return errors.Wrap(err, "Resolve location")
	}
	address := c.resolveAddress(ctx)

	attempts := 0
	for {
		err := c.serveOnce(ctx, address, loc)
		if c.view.State() == reconciler.Synced {
			// The connection made it to a synced view before dropping,
			// so the failure budget starts over. Only consecutive
			// failures to reach that point count against it.
			attempts = 0
		}
		c.view.Disconnected()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts >= c.config.ReconnectAttempts {
			return errors.Wrapf(err, "Giving up after %d attempts", attempts)
		}
		c.log.WithFields(logrus.Fields{
			"error":   err,
			"attempt": attempts,
		}).Warn("Channel lost; reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

// resolveLocation asks the provider for a fix, retrying once if the first
// one is too coarse and keeping the better of the two.
func (c *Client) resolveLocation(ctx context.Context) (geo.Location, error) {
	loc, err := c.config.Locator.Locate(ctx)
	if err != nil {
		return geo.Location{}, err
	}
	if loc.Accuracy > accuracyRetryThreshold {
		c.log.WithField("accuracy", loc.Accuracy).Debug("Coarse fix; asking for a better one")
		if better, err := c.config.Locator.Locate(ctx); err == nil && better.Accuracy < loc.Accuracy {
			loc = better
		}
	}
	if !loc.Valid() {
		return geo.Location{}, errors.Errorf("Provider returned an out-of-range location: %+v", loc)
	}
	return loc, nil
}

// resolveAddress is best-effort; an unreachable resolver yields an empty
// address, never a failed announce.
func (c *Client) resolveAddress(ctx context.Context) string {
	if c.config.AddressResolver == nil {
		return ""
	}
	address, err := c.config.AddressResolver.Resolve(ctx)
	if err != nil {
		c.log.WithField("error", err).Warn("Cannot resolve public address")
		return ""
	}
	return address
}

// serveOnce runs one connection: dial, announce, then apply server events
// until the channel dies or ctx is canceled.
func (c *Client) serveOnce(ctx context.Context, address string, loc geo.Location) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  c.config.TLSConfig,
	}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return errors.Wrap(err, "Dial")
	}
	defer conn.Close()

	c.connMTX.Lock()
	c.conn = conn
	c.connMTX.Unlock()

	// Close the connection when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.send(protocol.NewAnnounceMessage(address, loc)); err != nil {
		return errors.Wrap(err, "Announce")
	}
	c.log.WithFields(logrus.Fields{
		"address": address,
		"lat":     loc.Latitude,
		"lng":     loc.Longitude,
	}).Info("Announced")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "Read channel")
		}
		msg, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.WithField("error", err).Debug("Ignoring malformed server message")
			continue
		}

		c.view.Apply(msg)
		if c.config.OnEvent != nil {
			c.config.OnEvent(msg)
		}
	}
}

// UpdateLocation reports a changed position to the server.
func (c *Client) UpdateLocation(loc geo.Location) error {
	if !loc.Valid() {
		return errors.Errorf("Out-of-range location: %+v", loc)
	}
	return c.send(protocol.NewUpdateMessage(loc))
}

func (c *Client) send(msg protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "Serialize message")
	}

	c.connMTX.Lock()
	defer c.connMTX.Unlock()
	if c.conn == nil {
		return errors.New("Not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
