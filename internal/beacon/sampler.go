package beacon

import (
	"gonum.org/v1/gonum/stat"
)

type sampled struct {
	payload Payload
	window  []float64 // Most recent RSSI samples, oldest first
	seen    bool
}

// push appends a sample and trims the window to at most n samples.
func (sm *sampled) push(rssi float64, n int) {
	sm.window = append(sm.window, rssi)
	if over := len(sm.window) - n; over > 0 {
		sm.window = append(sm.window[:0], sm.window[over:]...)
	}
}

// Sampler turns raw advertisements into per-cycle observations with a
// running average RSSI, for sources whose radio stack does not smooth.
// It is not safe for concurrent use.
type Sampler struct {
	window int
	byRPI  map[[16]byte]*sampled
	order  [][16]byte // First-seen order within the current cycle
}

// NewSampler creates a sampler averaging over the last window samples.
func NewSampler(window int) *Sampler {
	return &Sampler{
		window: max(window, 1),
		byRPI:  make(map[[16]byte]*sampled),
	}
}

// Record adds one advertisement sighting.
func (s *Sampler) Record(p Payload, rssi int16) {
	sm, ok := s.byRPI[p.RPI]
	if !ok {
		sm = &sampled{window: make([]float64, 0, s.window)}
		s.byRPI[p.RPI] = sm
	}
	if !sm.seen {
		sm.seen = true
		s.order = append(s.order, p.RPI)
	}
	// AEM may change between advertisements; the latest one wins.
	sm.payload = p
	sm.push(float64(rssi), s.window)
}

// Cycle closes the current scan cycle and returns one observation per
// identity seen during it, carrying the latest sample and the window mean.
// Identities absent from the cycle lose their history.
func (s *Sampler) Cycle() []Observation {
	batch := make([]Observation, 0, len(s.order))
	for _, rpi := range s.order {
		sm := s.byRPI[rpi]
		latest := sm.window[len(sm.window)-1]
		batch = append(batch, sm.payload.Observation(int(latest), stat.Mean(sm.window, nil)))
	}
	for rpi, sm := range s.byRPI {
		if !sm.seen {
			delete(s.byRPI, rpi)
			continue
		}
		sm.seen = false
	}
	s.order = s.order[:0]
	return batch
}

// Tracked returns the number of identities with sample history.
func (s *Sampler) Tracked() int {
	return len(s.byRPI)
}
