package sighting

// Event tells a Sink why a record is being emitted.
type Event int

const (
	EventCreated Event = iota // Fresh entry built from one observation
	EventEvicted              // Entry aged out by Prune
	EventFlushed              // Entry drained by Flush
)

func (ev Event) String() string {
	switch ev {
	case EventCreated:
		return "created"
	case EventEvicted:
		return "evicted"
	case EventFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// Sink receives rendered records. Emit must not call back into the Table.
// Failures stay inside the sink.
type Sink interface {
	Emit(ev Event, rec Record)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event, rec Record)

func (f SinkFunc) Emit(ev Event, rec Record) { f(ev, rec) }

type discardSink struct{}

func (discardSink) Emit(Event, Record) {}
