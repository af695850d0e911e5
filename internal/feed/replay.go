package feed

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"
	"tinygo.org/x/bluetooth"

	"en-sniffer.klederson.com/internal/beacon"
)

const maxLineSize = 1 << 20

// Line is one JSON Lines record of a replay feed. Exactly one of Batch or
// Location is set. Time, when present, is when the line was recorded
// (RFC 3339).
type Line struct {
	Time     time.Time        `json:"time,omitzero"`
	Batch    []Item           `json:"batch,omitempty"`
	Location *beacon.Location `json:"location,omitempty"`
}

// Item is one observation. Either RPI (with AEM) or Data, the raw
// exposure notification service data in hex, identifies the device.
type Item struct {
	RPI  string  `json:"rpi,omitempty"`
	AEM  uint32  `json:"aem,omitempty"`
	Data string  `json:"data,omitempty"`
	RSSI int     `json:"rssi"`
	Avg  float64 `json:"avg"`
}

// Observation converts the item, decoding service data when present.
func (it Item) Observation() (beacon.Observation, error) {
	if it.Data == "" {
		return beacon.Observation{
			RPI:                it.RPI,
			AEM:                it.AEM,
			RSSI:               it.RSSI,
			RunningAverageRSSI: it.Avg,
		}, nil
	}
	if it.RPI != "" {
		return beacon.Observation{}, xerrors.Errorf("item has both rpi and data: %w", beacon.ErrMalformed)
	}
	raw, err := hex.DecodeString(it.Data)
	if err != nil {
		return beacon.Observation{}, xerrors.Errorf("service data: %w", err)
	}
	p, err := beacon.DecodeServiceData(bluetooth.ServiceDataElement{
		UUID: beacon.ENServiceUUID,
		Data: raw,
	})
	if err != nil {
		return beacon.Observation{}, err
	}
	return p.Observation(it.RSSI, it.Avg), nil
}

// ParseLine decodes one feed line into a BatchMsg or LocationMsg.
func ParseLine(b []byte) (any, error) {
	var line Line
	if err := json.Unmarshal(b, &line); err != nil {
		return nil, xerrors.Errorf("decode line: %w", err)
	}
	switch {
	case line.Location != nil && line.Batch != nil:
		return nil, xerrors.Errorf("line has both batch and location: %w", beacon.ErrMalformed)
	case line.Location != nil:
		if err := line.Location.Validate(); err != nil {
			return nil, err
		}
		return LocationMsg{Location: *line.Location, At: line.Time}, nil
	case line.Batch != nil:
		obs := make([]beacon.Observation, 0, len(line.Batch))
		for i, it := range line.Batch {
			o, err := it.Observation()
			if err != nil {
				return nil, xerrors.Errorf("batch item %d: %w", i, err)
			}
			obs = append(obs, o)
		}
		return BatchMsg{Observations: obs, At: line.Time}, nil
	default:
		return nil, xerrors.Errorf("line has neither batch nor location: %w", beacon.ErrMalformed)
	}
}

// Replay reads a recorded feed in JSON Lines form.
type Replay struct {
	r      io.Reader
	log    slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReplay creates a source reading from r.
func NewReplay(r io.Reader, logger slog.Logger) *Replay {
	return &Replay{r: r, log: logger}
}

// Start begins reading in a goroutine. Every line becomes one message;
// bad lines become ErrorMsg. DoneMsg follows the last line.
func (s *Replay) Start(snd Sender) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(snd)
	}()
	return nil
}

func (s *Replay) loop(snd Sender) {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}
		lineNo++
		b := scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		msg, err := ParseLine(b)
		if err != nil {
			snd.Send(ErrorMsg{Err: xerrors.Errorf("line %d: %w", lineNo, err)})
			continue
		}
		snd.Send(msg)
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn(s.ctx, "replay stopped", slog.F("line", lineNo), slog.Error(err))
		snd.Send(DoneMsg{Err: err})
		return
	}
	s.log.Debug(s.ctx, "replay finished", slog.F("lines", lineNo))
	snd.Send(DoneMsg{})
}

// Stop abandons the replay. A reader blocked in Read keeps the goroutine
// alive until Read returns.
func (s *Replay) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the reader goroutine has exited.
func (s *Replay) Wait() {
	s.wg.Wait()
}
