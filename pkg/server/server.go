// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package server implements the peermap presence server.
//
// Each connected client holds one websocket channel. The registry keeps the
// authoritative session map and decides what to broadcast; clients keep their
// own view consistent with the reconciler package.
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server contains state for a peermap server.
type Server struct {
	// TLSConfig optionally provides a TLS configuration for use by ListenAndServeTLS.
	TLSConfig *tls.Config

	// StatsPassword sets the password for retrieving stats.
	// If empty, the stats endpoint is disabled.
	StatsPassword string

	Log *logrus.Logger

	registry *Registry
	upgrader websocket.Upgrader
}

// ListenAndServe listens for connections on the network, and connects them to the peermap server.
func (srv *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Listen")
	}
	defer listener.Close()

	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": false,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// ListenAndServeTLS behaves just like ListenAndServe, but wraps the connection with TLS.
func (srv *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return errors.Wrap(err, "Load X.509 key pair")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if srv.TLSConfig == nil {
		return errors.New("No TLSConfig set in server, and no certFile/keyFile given")
	}

	listener, err := tls.Listen("tcp", addr, srv.TLSConfig)
	if err != nil {
		return errors.Wrap(err, "Listen TLS")
	}
	defer listener.Close()

	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": true,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// Serve serves clients the peermap service.
func (srv *Server) Serve(listener net.Listener) error {
	srv.registry = NewRegistry(srv.Log)
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.registry.Run(ctx)

	srv.Log.Info("Server started")
	return http.Serve(listener, srv.router())
}

func (srv *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", srv.serveChannel)
	r.Get("/stats", srv.serveStats)
	r.Get("/healthz", srv.serveHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// serveChannel upgrades the request and attaches the new channel to the
// registry. The channel's id is assigned here and lives exactly as long as
// the connection.
func (srv *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		srv.Log.WithField("error", err).Debug("Websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, srv.registry, srv.Log)
	srv.Log.WithFields(logrus.Fields{
		"channel": c.id,
		"remote":  r.RemoteAddr,
	}).Debug("Connected")
	go c.run()
}

func (srv *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	if srv.StatsPassword == "" {
		http.Error(w, "stats disabled", http.StatusNotFound)
		return
	}
	password := r.Header.Get("X-Stats-Password")
	if subtle.ConstantTimeCompare([]byte(password), []byte(srv.StatsPassword)) != 1 {
		http.Error(w, "bad stats password", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(srv.registry.Stats()); err != nil {
		srv.Log.WithField("error", err).Error("Cannot write stats response")
	}
}

func (srv *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
