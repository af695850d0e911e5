package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"en-sniffer.klederson.com/internal/beacon"
	"en-sniffer.klederson.com/internal/config"
	"en-sniffer.klederson.com/internal/feed"
	"en-sniffer.klederson.com/internal/sighting"
	"en-sniffer.klederson.com/internal/sink"
)

var t0 = time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)

const testTimeout = 10 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestModel(t *testing.T) (Model, *quartz.Mock, *bytes.Buffer) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(t0)
	logger := slogtest.Make(t, nil)
	var out bytes.Buffer
	return New(clock, sink.NewWriter(&out, logger), logger), clock, &out
}

func batch(obs ...beacon.Observation) feed.BatchMsg {
	return feed.BatchMsg{Observations: obs}
}

func TestUpdateBatchAndFlush(t *testing.T) {
	t.Parallel()
	m, clock, out := newTestModel(t)

	_, cmd := m.Update(batch(beacon.Observation{RPI: "ab12", AEM: 1, RSSI: -60, RunningAverageRSSI: -62}))
	assert.Nil(t, cmd)
	clock.Advance(10 * time.Second)
	m.Update(batch(
		beacon.Observation{RPI: "ab12", AEM: 2, RSSI: -55, RunningAverageRSSI: -58},
		beacon.Observation{RPI: "cd34", AEM: 3, RSSI: -80, RunningAverageRSSI: -81},
	))
	assert.Equal(t, 2, m.Table().Len())

	_, cmd = m.Update(feed.DoneMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Zero(t, m.Table().Len())

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"aem":"00000002","first":{"seen":"2020-06-01T12:00:00+0000"},`+
		`"last":{"seen":"2020-06-01T12:00:10+0000"},"maxRssi":-55,"meanRssi":-60.00,`+
		`"nScans":2,"rpi":"ab12"}`, lines[0])
	assert.Contains(t, lines[1], `"rpi":"cd34"`)

	sum := m.Summary()
	assert.Equal(t, 2, sum.Batches)
	assert.Equal(t, 3, sum.Observations)
	assert.Equal(t, 3, sum.Created)
	assert.Equal(t, 2, sum.Flushed)
	assert.Equal(t, 2, sum.PeakNearby)
	assert.Equal(t, "ab12", sum.StrongestRPI)
	assert.Equal(t, -55, sum.StrongestRSSI)
	assert.Equal(t, 10*time.Second, sum.Duration)
}

func TestUpdateLocation(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestModel(t)

	loc := beacon.Location{Latitude: 52.5, Longitude: 13.4, Accuracy: 7}
	m.Update(feed.LocationMsg{Location: loc})
	m.Update(batch(beacon.Observation{RPI: "ab12", RSSI: -60, RunningAverageRSSI: -60}))

	e, ok := m.Table().Get("ab12")
	require.True(t, ok)
	require.NotNil(t, e.First.Location)
	assert.Equal(t, loc, *e.First.Location)
}

func TestUpdateRejectsAndCounts(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestModel(t)

	m.Update(batch(beacon.Observation{RPI: "XYZ"}))
	m.Update(feed.ErrorMsg{Err: beacon.ErrMalformed})

	sum := m.Summary()
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.BadLines)
	assert.Zero(t, sum.Batches)
	assert.Zero(t, m.Table().Len())
}

func TestUpdatePruneTick(t *testing.T) {
	t.Parallel()
	m, clock, out := newTestModel(t)

	m.Update(batch(beacon.Observation{RPI: "ab12", RSSI: -60, RunningAverageRSSI: -60}))
	clock.Advance(11*time.Minute + time.Second)

	_, cmd := m.Update(PruneMsg(clock.Now()))
	assert.NotNil(t, cmd)
	assert.Zero(t, m.Table().Len())
	assert.Contains(t, out.String(), `"rpi":"ab12"`)
	assert.Equal(t, 1, m.Summary().Evicted)

	_, cmd = m.Update(StatusMsg(clock.Now()))
	assert.NotNil(t, cmd)
}

func TestStatusFields(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestModel(t)

	m.Update(feed.LocationMsg{Location: beacon.Location{Latitude: 52.5, Longitude: 13.4}})
	m.Update(batch(
		beacon.Observation{RPI: "ab12", RSSI: -70, RunningAverageRSSI: -70},
		beacon.Observation{RPI: "cd34", RSSI: -50, RunningAverageRSSI: -52},
	))

	fields := map[string]any{}
	for _, f := range m.statusFields() {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, map[string]any{
		"nearby":         2,
		"tracked":        2,
		"strongest_rpi":  "cd34",
		"strongest_rssi": -50,
		"latitude":       52.5,
		"longitude":      13.4,
	}, fields)
}

func TestTickFiresOnClock(t *testing.T) {
	t.Parallel()
	m, clock, _ := newTestModel(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	trap := clock.Trap().NewTimer("app", "prune")
	defer trap.Close()

	msgs := make(chan tea.Msg, 1)
	go func() { msgs <- m.pruneCmd()() }()
	trap.MustWait(ctx).MustRelease(ctx)
	clock.Advance(config.EvictInterval).MustWait(ctx)

	select {
	case msg := <-msgs:
		assert.Equal(t, PruneMsg(t0.Add(config.EvictInterval)), msg)
	case <-ctx.Done():
		t.Fatal("prune tick did not fire")
	}
}

func TestTickEndsOnClose(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestModel(t)

	msgs := make(chan tea.Msg, 1)
	go func() { msgs <- m.statusCmd()() }()
	m.Close()

	select {
	case msg := <-msgs:
		assert.Nil(t, msg)
	case <-time.After(testTimeout):
		t.Fatal("status tick outlived Close")
	}
}

func TestCloseFlushesOnce(t *testing.T) {
	t.Parallel()
	m, _, out := newTestModel(t)

	m.Update(batch(beacon.Observation{RPI: "ab12", RSSI: -60, RunningAverageRSSI: -60}))
	sum := m.Close()
	assert.Equal(t, 1, sum.Flushed)
	sum = m.Close()
	assert.Equal(t, 1, sum.Flushed)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestRunReplay(t *testing.T) {
	t.Parallel()
	m, _, out := newTestModel(t)

	input := strings.Join([]string{
		`{"batch":[{"rpi":"ab12","aem":1,"rssi":-60,"avg":-62.0}]}`,
		`{"batch":[{"rpi":"ab12","aem":2,"rssi":-55,"avg":-58.0}]}`,
		`{"location":{"latitude":52.5,"longitude":13,"accuracy":9.6}}`,
		`{"batch":[{"data":"00112233445566778899aabbccddeeff00000102","rssi":-70,"avg":-70.0}]}`,
	}, "\n")

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	src := feed.NewReplay(strings.NewReader(input), slogtest.Make(t, nil))
	sum, err := Run(ctx, m, src)
	require.NoError(t, err)
	src.Wait()

	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 2, sum.Flushed)
	assert.Equal(t,
		`{"aem":"00000102","first":{"accuracy":10,"latitude":52.5,"longitude":13.0,"seen":"2020-06-01T12:00:00+0000"},`+
			`"last":{"accuracy":10,"latitude":52.5,"longitude":13.0,"seen":"2020-06-01T12:00:00+0000"},`+
			`"maxRssi":-70,"meanRssi":-70.00,"nScans":1,"rpi":"00112233445566778899aabbccddeeff"}`+"\n"+
			`{"aem":"00000002","first":{"seen":"2020-06-01T12:00:00+0000"},`+
			`"last":{"seen":"2020-06-01T12:00:00+0000"},"maxRssi":-55,"meanRssi":-60.00,`+
			`"nScans":2,"rpi":"ab12"}`+"\n",
		out.String())
}

func TestRunReplayRecordedTime(t *testing.T) {
	t.Parallel()
	m, _, out := newTestModel(t)

	// Recorded on another day than the wall clock, with a gap past the
	// prune age between the two batches.
	input := strings.Join([]string{
		`{"time":"2021-03-04T09:00:00Z","batch":[{"rpi":"ab12","aem":1,"rssi":-60,"avg":-62.0}]}`,
		`{"time":"2021-03-04T09:00:30Z","batch":[{"rpi":"ab12","aem":1,"rssi":-64,"avg":-62.0}]}`,
		`{"time":"2021-03-04T09:11:31Z","batch":[{"rpi":"cd34","aem":2,"rssi":-70,"avg":-70.0}]}`,
	}, "\n")

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	src := feed.NewReplay(strings.NewReader(input), slogtest.Make(t, nil))
	sum, err := Run(ctx, m, src)
	require.NoError(t, err)
	src.Wait()

	assert.Equal(t, 1, sum.Evicted)
	assert.Equal(t, 1, sum.Flushed)
	assert.Equal(t,
		`{"aem":"00000001","first":{"seen":"2021-03-04T09:00:00+0000"},`+
			`"last":{"seen":"2021-03-04T09:00:30+0000"},"maxRssi":-60,"meanRssi":-62.00,`+
			`"nScans":2,"rpi":"ab12"}`+"\n"+
			`{"aem":"00000002","first":{"seen":"2021-03-04T09:11:31+0000"},`+
			`"last":{"seen":"2021-03-04T09:11:31+0000"},"maxRssi":-70,"meanRssi":-70.00,`+
			`"nScans":1,"rpi":"cd34"}`+"\n",
		out.String())
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	clock.Set(t0)
	logger := slogtest.Make(t, nil)
	var out bytes.Buffer
	created := make(chan struct{}, 1)
	m := New(clock, sink.Multi{
		sink.NewWriter(&out, logger),
		sighting.SinkFunc(func(ev sighting.Event, _ sighting.Record) {
			if ev == sighting.EventCreated {
				created <- struct{}{}
			}
		}),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := blockingSource{started: make(chan feed.Sender, 1)}
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = Run(ctx, m, src)
	}()

	p := <-src.started
	p.Send(batch(beacon.Observation{RPI: "ab12", RSSI: -60, RunningAverageRSSI: -60}))
	select {
	case <-created:
	case <-time.After(5 * time.Second):
		t.Fatal("batch was not applied")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, runErr)
	assert.Contains(t, out.String(), `"rpi":"ab12"`)
	assert.Equal(t, 1, m.Summary().Flushed)
}

// blockingSource never ends on its own.
type blockingSource struct {
	started chan feed.Sender
}

func (b blockingSource) Start(s feed.Sender) error {
	b.started <- s
	return nil
}

func (blockingSource) Stop() {}
