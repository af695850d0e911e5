package sighting

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"en-sniffer.klederson.com/internal/beacon"
	"en-sniffer.klederson.com/internal/config"
)

var (
	pruneAgeSeconds  = int64(config.PruneAge.Seconds())
	recentAgeSeconds = int64(config.RecentAge.Seconds())
)

// Clock is the time source of a Table. quartz.Clock satisfies it.
type Clock interface {
	Now(tags ...string) time.Time
}

// Table maps identities to their aggregate entries. It has no internal
// locking: all calls must come from one goroutine.
type Table struct {
	clock    Clock
	sink     Sink
	log      slog.Logger
	entries  map[string]*Entry
	location *beacon.Location
}

// NewTable creates an empty table. A nil sink discards records.
func NewTable(clock Clock, sink Sink, logger slog.Logger) *Table {
	if sink == nil {
		sink = discardSink{}
	}
	return &Table{
		clock:   clock,
		sink:    sink,
		log:     logger,
		entries: make(map[string]*Entry),
	}
}

// Add folds a batch of observations into the table and then prunes stale
// entries. It returns a copy of the fresh entry with the strongest signal
// in the batch, or nil for an empty batch. A malformed observation rejects
// the whole batch before anything is applied.
func (t *Table) Add(batch []beacon.Observation) (*Entry, error) {
	for i, obs := range batch {
		if err := obs.Validate(); err != nil {
			return nil, xerrors.Errorf("batch item %d: %w", i, err)
		}
	}

	t.log.Debug(context.Background(), "beacon batch",
		slog.F("batch_size", len(batch)),
		slog.F("table_size", len(t.entries)),
	)

	now := t.clock.Now()
	var strongest *Entry
	for _, obs := range batch {
		fresh := NewEntry(obs, now, t.location)
		t.sink.Emit(EventCreated, fresh.Render())

		if strongest == nil || fresh.MaxRSSI > strongest.MaxRSSI {
			strongest = fresh
		}

		if prev, ok := t.entries[fresh.RPI]; ok {
			prev.Merge(fresh)
			continue
		}
		t.log.Debug(context.Background(), "new device",
			slog.F("rpi", fresh.RPI),
			slog.F("aem", obs.AEMHex()),
		)
		stored := *fresh
		t.entries[fresh.RPI] = &stored
	}

	t.Prune()

	if strongest == nil {
		return nil, nil
	}
	cp := strongest.clone()
	return &cp, nil
}

// Prune evicts entries not seen for longer than config.PruneAge and emits
// each one. Returns the number of evicted entries.
func (t *Table) Prune() int {
	now := t.clock.Now()
	count := 0
	for _, rpi := range t.sortedKeys() {
		e := t.entries[rpi]
		if e.AgeSeconds(now) > pruneAgeSeconds {
			t.sink.Emit(EventEvicted, e.Render())
			delete(t.entries, rpi)
			count++
		}
	}
	if count > 0 {
		t.log.Debug(context.Background(), "pruned entries",
			slog.F("evicted", count),
			slog.F("remaining", len(t.entries)),
		)
	}
	return count
}

// Flush emits every entry regardless of age and empties the table.
func (t *Table) Flush() int {
	keys := t.sortedKeys()
	for _, rpi := range keys {
		t.sink.Emit(EventFlushed, t.entries[rpi].Render())
	}
	clear(t.entries)
	return len(keys)
}

// SetLocation sets the location attached to entries created from now on.
// Existing entries keep theirs. nil clears it.
func (t *Table) SetLocation(loc *beacon.Location) {
	if loc == nil {
		t.location = nil
		return
	}
	cp := *loc
	t.location = &cp
}

// Location returns a copy of the last known location.
func (t *Table) Location() (beacon.Location, bool) {
	if t.location == nil {
		return beacon.Location{}, false
	}
	return *t.location, true
}

// RecentCount returns how many entries were seen within config.RecentAge.
func (t *Table) RecentCount() int {
	now := t.clock.Now()
	count := 0
	for _, e := range t.entries {
		if e.AgeSeconds(now) < recentAgeSeconds {
			count++
		}
	}
	return count
}

// Len returns the number of tracked identities.
func (t *Table) Len() int {
	return len(t.entries)
}

// Get returns a copy of the entry for rpi. The copy shares nothing with
// the table.
func (t *Table) Get(rpi string) (Entry, bool) {
	e, ok := t.entries[rpi]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Entries returns copies of all entries, strongest MaxRSSI first.
func (t *Table) Entries() []Entry {
	result := make([]Entry, 0, len(t.entries))
	for _, rpi := range t.sortedKeys() {
		result = append(result, t.entries[rpi].clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].MaxRSSI > result[j].MaxRSSI
	})
	return result
}

func (t *Table) sortedKeys() []string {
	return slices.Sorted(maps.Keys(t.entries))
}
