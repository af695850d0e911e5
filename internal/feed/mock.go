package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"en-sniffer.klederson.com/internal/beacon"
	"en-sniffer.klederson.com/internal/config"
)

type mockPhone struct {
	payload   beacon.Payload
	rotateAt  time.Time
	baseRSSI  float64
	phase     float64
	amplitude float64
	active    bool
}

// Mock simulates phones broadcasting exposure notification beacons for
// demo mode. RPIs rotate every config.RotationInterval with a random phase
// per phone, and phones randomly come and go.
type Mock struct {
	clock   quartz.Clock
	log     slog.Logger
	rng     *rand.Rand
	phones  []mockPhone
	sampler *beacon.Sampler
	loc     beacon.Location
	t       float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMock creates a generator with n simulated phones around base.
func NewMock(clock quartz.Clock, logger slog.Logger, rng *rand.Rand, n int, base beacon.Location) *Mock {
	m := &Mock{
		clock:   clock,
		log:     logger,
		rng:     rng,
		sampler: beacon.NewSampler(config.RSSIWindow),
		loc:     base,
	}
	now := clock.Now()
	m.phones = make([]mockPhone, n)
	for i := range m.phones {
		p := &m.phones[i]
		m.rotate(p)
		// Spread rotations so phones don't all change identity together.
		p.rotateAt = now.Add(time.Duration(rng.Int63n(int64(config.RotationInterval))))
		p.baseRSSI = -45 - rng.Float64()*45 // -45 to -90 dBm
		p.phase = rng.Float64() * 2 * math.Pi
		p.amplitude = 2 + rng.Float64()*6
		p.active = true
	}
	return m
}

// Start runs the generator until Stop.
func (m *Mock) Start(snd Sender) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx, snd)
	}()
	return nil
}

func (m *Mock) loop(ctx context.Context, snd Sender) {
	scan := m.clock.NewTicker(config.ScanCycle, "mock", "scan")
	defer scan.Stop()
	fix := m.clock.NewTicker(config.LocationInterval, "mock", "location")
	defer fix.Stop()

	snd.Send(LocationMsg{Location: m.loc})
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-scan.C:
			if batch := m.Cycle(now); len(batch) > 0 {
				snd.Send(BatchMsg{Observations: batch})
			}
		case <-fix.C:
			snd.Send(LocationMsg{Location: m.Walk()})
		}
	}
}

// Cycle simulates one scan cycle ending at now and returns its batch.
func (m *Mock) Cycle(now time.Time) []beacon.Observation {
	m.t += config.ScanCycle.Seconds()
	for i := range m.phones {
		p := &m.phones[i]

		if !now.Before(p.rotateAt) {
			m.rotate(p)
			p.rotateAt = now.Add(config.RotationInterval)
			m.log.Debug(context.Background(), "mock phone rotated",
				slog.F("phone", i),
				slog.F("rpi", p.payload.RPIHex()),
			)
		}

		// Randomly toggle presence (walk in / walk out).
		if m.rng.Float64() < 0.005 {
			p.active = !p.active
		}
		if !p.active {
			continue
		}

		// A few advertisements per cycle, like a phone advertising every
		// ~250ms.
		for k := 0; k < 2+m.rng.Intn(3); k++ {
			rssi := p.baseRSSI + p.amplitude*math.Sin(m.t*0.1+p.phase) + (m.rng.Float64()-0.5)*6
			m.sampler.Record(p.payload, int16(rssi))
		}
	}
	return m.sampler.Cycle()
}

// Walk moves the simulated location by a few meters and returns it.
func (m *Mock) Walk() beacon.Location {
	const metersPerDegree = 111_320.0
	m.loc.Latitude += (m.rng.Float64() - 0.5) * 10 / metersPerDegree
	m.loc.Longitude += (m.rng.Float64() - 0.5) * 10 / metersPerDegree
	m.loc.Accuracy = 5 + m.rng.Float64()*20
	return m.loc
}

func (m *Mock) rotate(p *mockPhone) {
	m.rng.Read(p.payload.RPI[:])
	m.rng.Read(p.payload.AEM[:])
}

// Stop halts the generator and waits for its goroutine.
func (m *Mock) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
