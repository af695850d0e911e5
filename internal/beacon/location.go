package beacon

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Location is a position fix from the location source.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // Meters
}

// Validate rejects coordinates outside the WGS84 range.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return xerrors.Errorf("latitude %v out of range: %w", l.Latitude, ErrMalformed)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return xerrors.Errorf("longitude %v out of range: %w", l.Longitude, ErrMalformed)
	}
	if math.IsNaN(l.Accuracy) || math.IsInf(l.Accuracy, 0) || l.Accuracy < 0 {
		return xerrors.Errorf("accuracy %v invalid: %w", l.Accuracy, ErrMalformed)
	}
	return nil
}

// ParseLocation parses "lat,lon" or "lat,lon,accuracy".
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Location{}, xerrors.Errorf("location %q: want lat,lon[,accuracy]: %w", s, ErrMalformed)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Location{}, xerrors.Errorf("location %q: %w", s, err)
		}
		vals[i] = v
	}
	loc := Location{Latitude: vals[0], Longitude: vals[1], Accuracy: vals[2]}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}
