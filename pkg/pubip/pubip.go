// Package pubip resolves the client's public network address.
//
// The address is informational only; resolution is best-effort and a failure
// must never stop a client from announcing.
package pubip

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// DefaultEndpoint answers {"ip":"<addr>"} to a plain GET.
const DefaultEndpoint = "https://api.ipify.org?format=json"

const resolveTimeout = 5 * time.Second

// A Resolver resolves the local host's public address as an opaque string.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// HTTPResolver asks an ipify-style JSON endpoint.
type HTTPResolver struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPResolver creates a resolver against the default endpoint.
func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{Endpoint: DefaultEndpoint}
}

// Resolve fetches the public address. The request is bounded by its own
// timeout on top of ctx, so a dead endpoint can't hold up an announce for
// longer than that.
func (r *HTTPResolver) Resolve(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "Build address request")
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "Query public address")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("Public address endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return "", errors.Wrap(err, "Read address response")
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, "Decode address response")
	}
	if payload.IP == "" {
		return "", errors.New("Public address endpoint returned an empty address")
	}
	return payload.IP, nil
}

// Static is a Resolver that returns a fixed address, for tests and for
// clients that already know how they are reachable.
type Static string

// Resolve returns the fixed address.
func (s Static) Resolve(ctx context.Context) (string, error) {
	return string(s), nil
}
