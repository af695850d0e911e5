// Package feed delivers observation batches and location fixes to the
// event loop.
package feed

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"en-sniffer.klederson.com/internal/beacon"
)

// BatchMsg carries the observations of one scan cycle.
type BatchMsg struct {
	Observations []beacon.Observation
	At           time.Time // Recorded scan time; zero for live input
}

// LocationMsg carries a location fix.
type LocationMsg struct {
	Location beacon.Location
	At       time.Time // Recorded fix time; zero for live input
}

// ErrorMsg reports input the source could not turn into a message.
type ErrorMsg struct {
	Err error
}

func (e ErrorMsg) Error() string {
	return e.Err.Error()
}

// DoneMsg is sent once when a source has no more input.
type DoneMsg struct {
	Err error // nil on clean end of input
}

// Sender is the part of tea.Program a source needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Source produces messages until stopped or exhausted.
type Source interface {
	Start(s Sender) error
	Stop()
}
