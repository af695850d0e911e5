package app

import (
	"context"
	"errors"
	"io"
	"time"

	"cdr.dev/slog/v3"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/quartz"

	"en-sniffer.klederson.com/internal/beacon"
	"en-sniffer.klederson.com/internal/config"
	"en-sniffer.klederson.com/internal/feed"
	"en-sniffer.klederson.com/internal/sighting"
	"en-sniffer.klederson.com/internal/sink"
	"en-sniffer.klederson.com/internal/ui"
)

// shared holds state shared between the Bubble Tea model copies and the
// caller. Because Bubble Tea uses value receivers, pointer fields ensure
// all copies see the same underlying data.
type shared struct {
	table   *sighting.Table
	counter *sink.Counter
	clock   quartz.Clock
	now     *feedClock
	log     slog.Logger
	source  feed.Source
	started time.Time
	summary ui.Summary
	done    chan struct{} // Closed by Close; ends pending ticks
	closed  bool
}

// feedClock is the table's time source. Recorded feeds carry their own
// timestamps; the latest one stands in for the wall clock from then on.
type feedClock struct {
	clock quartz.Clock
	at    time.Time
}

func (c *feedClock) Now(tags ...string) time.Time {
	if !c.at.IsZero() {
		return c.at
	}
	return c.clock.Now(tags...)
}

func (c *feedClock) advance(at time.Time) {
	if !at.IsZero() {
		c.at = at
	}
}

// Model is the single writer of the sighting table. The program runs it
// without a renderer; Update is the only place the table is touched while
// the program runs.
type Model struct {
	shared *shared
}

// New creates a Model whose table emits to out. Emitted records are also
// counted for the session summary.
func New(clock quartz.Clock, out sighting.Sink, logger slog.Logger) Model {
	counter := sink.NewCounter()
	s := &shared{
		counter: counter,
		clock:   clock,
		now:     &feedClock{clock: clock},
		log:     logger,
		started: clock.Now(),
		done:    make(chan struct{}),
	}
	s.table = sighting.NewTable(s.now, sink.Multi{counter, out}, logger.Named("table"))
	return Model{shared: s}
}

// Table exposes the table for setup before the program starts and for
// inspection after it ends.
func (m Model) Table() *sighting.Table {
	return m.shared.table
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.pruneCmd(),
		m.statusCmd(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	s := m.shared

	switch msg := msg.(type) {
	case feed.BatchMsg:
		s.now.advance(msg.At)
		m.addBatch(ctx, msg.Observations)
		return m, nil

	case feed.LocationMsg:
		s.now.advance(msg.At)
		loc := msg.Location
		s.table.SetLocation(&loc)
		s.log.Debug(ctx, "location updated",
			slog.F("latitude", loc.Latitude),
			slog.F("longitude", loc.Longitude),
			slog.F("accuracy", loc.Accuracy),
		)
		return m, nil

	case feed.ErrorMsg:
		s.summary.BadLines++
		s.log.Warn(ctx, "bad feed input", slog.Error(msg.Err))
		return m, nil

	case feed.DoneMsg:
		if msg.Err != nil {
			s.log.Warn(ctx, "feed ended with error", slog.Error(msg.Err))
		}
		n := s.table.Flush()
		s.log.Info(ctx, "feed finished, table flushed", slog.F("flushed", n))
		return m, tea.Quit

	case PruneMsg:
		s.table.Prune()
		return m, m.pruneCmd()

	case StatusMsg:
		s.log.Info(ctx, "nearby devices", m.statusFields()...)
		return m, m.statusCmd()
	}

	return m, nil
}

func (m Model) addBatch(ctx context.Context, batch []beacon.Observation) {
	s := m.shared
	strongest, err := s.table.Add(batch)
	if err != nil {
		s.summary.Rejected++
		s.log.Warn(ctx, "rejected beacon batch", slog.F("size", len(batch)), slog.Error(err))
		return
	}
	s.summary.Batches++
	s.summary.Observations += len(batch)

	if strongest != nil {
		s.log.Debug(ctx, "strongest in batch",
			slog.F("rpi", strongest.RPI),
			slog.F("max_rssi", strongest.MaxRSSI),
		)
		if s.summary.StrongestRPI == "" || strongest.MaxRSSI > s.summary.StrongestRSSI {
			s.summary.StrongestRPI = strongest.RPI
			s.summary.StrongestRSSI = strongest.MaxRSSI
		}
	}
	s.summary.PeakNearby = max(s.summary.PeakNearby, s.table.RecentCount())
}

func (m Model) statusFields() []slog.Field {
	s := m.shared
	fields := []slog.Field{
		slog.F("nearby", s.table.RecentCount()),
		slog.F("tracked", s.table.Len()),
	}
	if entries := s.table.Entries(); len(entries) > 0 {
		fields = append(fields,
			slog.F("strongest_rpi", entries[0].RPI),
			slog.F("strongest_rssi", entries[0].MaxRSSI),
		)
	}
	if loc, ok := s.table.Location(); ok {
		fields = append(fields,
			slog.F("latitude", loc.Latitude),
			slog.F("longitude", loc.Longitude),
		)
	}
	return fields
}

// View renders nothing: the program runs headless.
func (m Model) View() string {
	return ""
}

// StartSource starts src sending into p. Must be called before p.Run().
func (m *Model) StartSource(p feed.Sender, src feed.Source) error {
	m.shared.source = src
	return src.Start(p)
}

// Close stops the source and flushes whatever the loop left in the table.
// Call it only after the program has exited. It is safe to call twice.
func (m *Model) Close() ui.Summary {
	s := m.shared
	if !s.closed {
		s.closed = true
		close(s.done)
		if s.source != nil {
			s.source.Stop()
		}
		if n := s.table.Flush(); n > 0 {
			s.log.Info(context.Background(), "flushed on shutdown", slog.F("flushed", n))
		}
	}
	return m.Summary()
}

// Summary returns the session counters so far.
func (m Model) Summary() ui.Summary {
	s := m.shared
	sum := s.summary
	sum.Duration = s.clock.Since(s.started)
	sum.Created = s.counter.Count(sighting.EventCreated)
	sum.Evicted = s.counter.Count(sighting.EventEvicted)
	sum.Flushed = s.counter.Count(sighting.EventFlushed)
	return sum
}

// Run drives src through a headless program until the feed ends or ctx is
// cancelled, then flushes the table and returns the session summary.
func Run(ctx context.Context, m Model, src feed.Source) (ui.Summary, error) {
	p := tea.NewProgram(
		m,
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler(),
	)

	if err := m.StartSource(p, src); err != nil {
		return m.Close(), err
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	return m.Close(), err
}

func (m Model) pruneCmd() tea.Cmd {
	return m.tick(config.EvictInterval, func(t time.Time) tea.Msg {
		return PruneMsg(t)
	}, "app", "prune")
}

func (m Model) statusCmd() tea.Cmd {
	return m.tick(config.StatusInterval, func(t time.Time) tea.Msg {
		return StatusMsg(t)
	}, "app", "status")
}

// tick is tea.Tick on the model's clock. It returns nil once the model is
// closed so no command outlives the program.
func (m Model) tick(d time.Duration, fn func(time.Time) tea.Msg, tags ...string) tea.Cmd {
	s := m.shared
	return func() tea.Msg {
		timer := s.clock.NewTimer(d, tags...)
		defer timer.Stop()
		select {
		case t := <-timer.C:
			return fn(t)
		case <-s.done:
			return nil
		}
	}
}
