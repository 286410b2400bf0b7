// Package geo holds the location value type shared by the server and clients.
package geo

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// A Location is a single position fix.
// CapturedAt is always stamped by the receiving side, never trusted from the
// sender, so entries from clients with skewed clocks still order correctly.
type Location struct {
	Latitude   float64   `json:"lat" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"lng" validate:"gte=-180,lte=180"`
	Accuracy   float64   `json:"accuracy" validate:"gte=0"`
	CapturedAt time.Time `json:"captured_at"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validator10() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Valid reports whether the location's coordinates are in range and its
// accuracy radius is non-negative. The boundary values (latitude ±90,
// longitude ±180) are valid.
func (l Location) Valid() bool {
	return validator10().Struct(l) == nil
}

// Stamp returns a copy of l with CapturedAt set to now.
func (l Location) Stamp(now time.Time) Location {
	l.CapturedAt = now
	return l
}
