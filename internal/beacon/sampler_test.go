package beacon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerCycle(t *testing.T) {
	t.Parallel()

	a := testPayload()
	b := testPayload()
	b.RPI[0] = 0xff

	s := NewSampler(4)
	s.Record(b, -70)
	s.Record(a, -60)
	s.Record(b, -74)

	batch := s.Cycle()
	require.Len(t, batch, 2)
	// First-seen order within the cycle.
	assert.Equal(t, b.RPIHex(), batch[0].RPI)
	assert.Equal(t, -74, batch[0].RSSI)
	assert.Equal(t, -72.0, batch[0].RunningAverageRSSI)
	assert.Equal(t, a.RPIHex(), batch[1].RPI)
	assert.Equal(t, -60.0, batch[1].RunningAverageRSSI)

	// History carries over for identities seen again.
	s.Record(a, -64)
	batch = s.Cycle()
	require.Len(t, batch, 1)
	assert.Equal(t, -62.0, batch[0].RunningAverageRSSI)
	assert.Equal(t, 1, s.Tracked())

	assert.Empty(t, s.Cycle())
	assert.Zero(t, s.Tracked())
}

func TestSamplerWindow(t *testing.T) {
	t.Parallel()

	p := testPayload()
	s := NewSampler(2)
	s.Record(p, -90)
	s.Record(p, -60)
	s.Record(p, -50)

	batch := s.Cycle()
	require.Len(t, batch, 1)
	assert.Equal(t, -55.0, batch[0].RunningAverageRSSI)
}

func TestSampledPushTrims(t *testing.T) {
	t.Parallel()

	sm := &sampled{}
	for _, v := range []float64{1, 2, 3, 4} {
		sm.push(v, 3)
	}
	assert.Equal(t, []float64{2, 3, 4}, sm.window)

	sm.push(5, 1)
	assert.Equal(t, []float64{5}, sm.window)
}

func TestSamplerLatestAEM(t *testing.T) {
	t.Parallel()

	p := testPayload()
	s := NewSampler(2)
	s.Record(p, -60)
	p.AEM[3] = 0x09
	s.Record(p, -60)

	batch := s.Cycle()
	require.Len(t, batch, 1)
	assert.Equal(t, "00000109", batch[0].AEMHex())
}
