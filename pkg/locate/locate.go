// Package locate abstracts how a client resolves its own position.
//
// Resolution is fallible and possibly slow (a GPS fix, a permission prompt),
// so providers take a context and return an error; without a location the
// client has nothing valid to announce.
package locate

import (
	"context"

	"github.com/pkg/errors"

	"github.com/peermap/peermap/pkg/geo"
)

// A Provider resolves the local device's position on demand.
type Provider interface {
	Locate(ctx context.Context) (geo.Location, error)
}

// Func adapts an ordinary function to a Provider.
type Func func(ctx context.Context) (geo.Location, error)

// Locate calls f(ctx).
func (f Func) Locate(ctx context.Context) (geo.Location, error) {
	return f(ctx)
}

// Static is a Provider that always reports the same fixed position.
// It backs the --lat/--lng flags of the watch command.
type Static struct {
	Location geo.Location
}

// Locate returns the fixed position.
func (s Static) Locate(ctx context.Context) (geo.Location, error) {
	if !s.Location.Valid() {
		return geo.Location{}, errors.Errorf("Invalid fixed location: %+v", s.Location)
	}
	return s.Location, nil
}
