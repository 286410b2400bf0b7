package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	pmclient "github.com/peermap/peermap/pkg/client"
	"github.com/peermap/peermap/pkg/geo"
	"github.com/peermap/peermap/pkg/locate"
	"github.com/peermap/peermap/pkg/pubip"
)

func startTestServer(t *testing.T) (wsURL, httpURL string) {
	log := logrus.New()
	log.Out = io.Discard

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %s", err)
	}
	t.Cleanup(func() { listener.Close() })

	srv := &Server{Log: log, StatsPassword: "hunter2"}
	go srv.Serve(listener)

	addr := listener.Addr().String()
	return "ws://" + addr + "/ws", "http://" + addr
}

func startTestClient(t *testing.T, ctx context.Context, wsURL string, loc geo.Location) *pmclient.Client {
	log := logrus.New()
	log.Out = io.Discard

	c, err := pmclient.New(pmclient.Config{
		URL:             wsURL,
		Locator:         locate.Static{Location: loc},
		AddressResolver: pubip.Static("203.0.113.5"),
		Log:             log,
	})
	if err != nil {
		t.Fatalf("New client: %s", err)
	}
	go c.Run(ctx)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestEndToEnd(t *testing.T) {
	wsURL, _ := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aCtx, stopA := context.WithCancel(ctx)
	defer stopA()
	a := startTestClient(t, aCtx, wsURL, geo.Location{Latitude: 38.72, Longitude: -9.14, Accuracy: 12})
	b := startTestClient(t, ctx, wsURL, geo.Location{Latitude: 51.5, Longitude: -0.12, Accuracy: 20})

	// Both clients converge on one peer each.
	waitFor(t, "A to see B", func() bool { return a.View().Len() == 1 })
	waitFor(t, "B to see A", func() bool { return b.View().Len() == 1 })

	peer := b.View().Peers()[0]
	if peer.Address != "203.0.113.5" {
		t.Errorf("B should see A's announced address; got %q", peer.Address)
	}
	if peer.Location.Latitude != 38.72 || peer.Location.Longitude != -9.14 {
		t.Errorf("B should see A's announced location; got %+v", peer.Location)
	}

	// A moves; B observes the lighter updated event.
	if err := a.UpdateLocation(geo.Location{Latitude: 40.41, Longitude: -3.7, Accuracy: 15}); err != nil {
		t.Fatalf("Update location: %s", err)
	}
	waitFor(t, "B to see A's move", func() bool {
		peers := b.View().Peers()
		return len(peers) == 1 && peers[0].Location.Latitude == 40.41
	})

	// A disconnects; B's view empties out.
	stopA()
	waitFor(t, "B to see A removed", func() bool { return b.View().Len() == 0 })
}

func TestStatsEndpoint(t *testing.T) {
	wsURL, httpURL := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := startTestClient(t, ctx, wsURL, geo.Location{Latitude: 1, Longitude: 1, Accuracy: 5})
	waitFor(t, "client to sync", func() bool { return c.View().State().String() == "synced" })

	req, _ := http.NewRequest(http.MethodGet, httpURL+"/stats", nil)
	req.Header.Set("X-Stats-Password", "hunter2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Query stats: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Stats status: %s", resp.Status)
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Decode stats: %s", err)
	}
	if stats.NumChannels != 1 {
		t.Errorf("Wanted 1 channel in stats; got %d", stats.NumChannels)
	}

	// The wrong password is rejected.
	req2, _ := http.NewRequest(http.MethodGet, httpURL+"/stats", nil)
	req2.Header.Set("X-Stats-Password", "wrong")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("Query stats: %s", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("Wanted 401 for a bad password; got %s", resp2.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, httpURL := startTestServer(t)

	var resp *http.Response
	waitFor(t, "server to come up", func() bool {
		var err error
		resp, err = http.Get(fmt.Sprintf("%s/healthz", httpURL))
		return err == nil
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health status: %s", resp.Status)
	}
}
