// Package sighting aggregates repeated observations of the same rolling
// proximity identifier into one entry per identity and ages them out.
package sighting

import (
	"math"
	"time"

	"en-sniffer.klederson.com/internal/beacon"
)

// Snapshot captures when, and optionally where, an identity was seen.
type Snapshot struct {
	Seen     time.Time
	Location *beacon.Location // nil when no fix was known
}

// Entry is the aggregate for one identity within the current window.
type Entry struct {
	RPI      string
	AEM      uint32
	MaxRSSI  int
	NScans   int
	MeanRSSI float64

	First Snapshot // Never changes after creation
	Last  Snapshot
}

// NewEntry builds the entry for a single fresh observation.
func NewEntry(obs beacon.Observation, now time.Time, loc *beacon.Location) *Entry {
	snap := Snapshot{Seen: now, Location: loc}
	return &Entry{
		RPI:      obs.RPI,
		AEM:      obs.AEM,
		MaxRSSI:  max(obs.RSSI, roundHalfUp(obs.RunningAverageRSSI)),
		NScans:   1,
		MeanRSSI: obs.RunningAverageRSSI,
		First:    snap,
		Last:     snap,
	}
}

// Merge folds next into e. The mean is weighted by scan count on both
// sides, which approximates but is not an exact running mean.
func (e *Entry) Merge(next *Entry) {
	e.MaxRSSI = max(e.MaxRSSI, next.MaxRSSI)
	e.MeanRSSI = (e.MeanRSSI*float64(e.NScans) + next.MeanRSSI*float64(next.NScans)) /
		float64(e.NScans+next.NScans)
	e.NScans += next.NScans
	e.Last = next.Last
	e.AEM = next.AEM
}

// AgeSeconds returns whole seconds elapsed since the entry was last seen.
func (e *Entry) AgeSeconds(now time.Time) int64 {
	return int64(now.Sub(e.Last.Seen) / time.Second)
}

// clone returns a deep copy of e.
func (e *Entry) clone() Entry {
	cp := *e
	cp.First.Location = cloneLocation(e.First.Location)
	cp.Last.Location = cloneLocation(e.Last.Location)
	return cp
}

func cloneLocation(loc *beacon.Location) *beacon.Location {
	if loc == nil {
		return nil
	}
	cp := *loc
	return &cp
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
