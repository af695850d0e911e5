// Package sink provides destinations for rendered sighting records.
package sink

import (
	"context"
	"io"
	"sync"

	"cdr.dev/slog/v3"

	"en-sniffer.klederson.com/internal/sighting"
)

// Log writes records through a structured logger. Created records are
// verbose and go out at debug level; evicted and flushed records at info.
type Log struct {
	log slog.Logger
}

// NewLog returns a sink writing to logger.
func NewLog(logger slog.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) Emit(ev sighting.Event, rec sighting.Record) {
	ctx := context.Background()
	fields := []slog.Field{
		slog.F("event", ev.String()),
		slog.F("record", rec.String()),
	}
	if ev == sighting.EventCreated {
		l.log.Debug(ctx, "sighting", fields...)
		return
	}
	l.log.Info(ctx, "sighting", fields...)
}

// Writer writes records as JSON Lines. Write failures are logged and
// counted but never surface to the caller.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	events map[sighting.Event]bool
	log    slog.Logger
	errs   int
}

// NewWriter returns a JSON Lines sink for the given events. With no events
// it writes evicted and flushed records.
func NewWriter(w io.Writer, logger slog.Logger, events ...sighting.Event) *Writer {
	if len(events) == 0 {
		events = []sighting.Event{sighting.EventEvicted, sighting.EventFlushed}
	}
	set := make(map[sighting.Event]bool, len(events))
	for _, ev := range events {
		set[ev] = true
	}
	return &Writer{w: w, events: set, log: logger}
}

func (s *Writer) Emit(ev sighting.Event, rec sighting.Record) {
	if !s.events[ev] {
		return
	}
	line, err := rec.JSON()
	if err == nil {
		line = append(line, '\n')
		s.mu.Lock()
		_, err = s.w.Write(line)
		s.mu.Unlock()
	}
	if err != nil {
		s.mu.Lock()
		s.errs++
		s.mu.Unlock()
		s.log.Warn(context.Background(), "write sighting record",
			slog.F("rpi", rec.RPI),
			slog.Error(err),
		)
	}
}

// Errors returns the number of records that failed to write.
func (s *Writer) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// Counter counts records per event.
type Counter struct {
	mu     sync.Mutex
	counts map[sighting.Event]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[sighting.Event]int)}
}

func (c *Counter) Emit(ev sighting.Event, _ sighting.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ev]++
}

// Count returns how many records were emitted for ev.
func (c *Counter) Count(ev sighting.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ev]
}

// Multi fans each record out to every sink in order.
type Multi []sighting.Sink

func (m Multi) Emit(ev sighting.Event, rec sighting.Record) {
	for _, s := range m {
		s.Emit(ev, rec)
	}
}
