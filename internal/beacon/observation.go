// Package beacon holds the inputs of the sighting table: raw Exposure
// Notification observations, location fixes and the advertisement decoding
// that produces them.
package beacon

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/xerrors"
)

// ErrMalformed is returned for observations or payloads that violate the
// source contract. Such input is rejected rather than folded into the table.
var ErrMalformed = errors.New("malformed beacon input")

// Observation is one sighting of a broadcasting device in one scan cycle.
type Observation struct {
	RPI                string  // Lowercase hex rolling proximity identifier
	AEM                uint32  // Associated encrypted metadata
	RSSI               int     // Instantaneous signal strength (dBm)
	RunningAverageRSSI float64 // Smoothed signal strength computed upstream
}

// AEMHex renders the metadata field as 8 lowercase hex digits.
func (o Observation) AEMHex() string {
	return fmt.Sprintf("%08x", o.AEM)
}

// Validate checks the identity and signal fields.
func (o Observation) Validate() error {
	if o.RPI == "" {
		return xerrors.Errorf("empty rpi: %w", ErrMalformed)
	}
	if len(o.RPI)%2 != 0 {
		return xerrors.Errorf("rpi %q has odd length: %w", o.RPI, ErrMalformed)
	}
	for _, c := range o.RPI {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return xerrors.Errorf("rpi %q is not lowercase hex: %w", o.RPI, ErrMalformed)
		}
	}
	if math.IsNaN(o.RunningAverageRSSI) || math.IsInf(o.RunningAverageRSSI, 0) {
		return xerrors.Errorf("rpi %s: running average %v: %w", o.RPI, o.RunningAverageRSSI, ErrMalformed)
	}
	return nil
}
