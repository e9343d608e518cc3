package bandwidth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/bandwidth"
)

func TestEstimator_Record_IgnoresNonPositiveElapsed(t *testing.T) {
	e := bandwidth.New()
	e.Record(1024, 0)
	e.Record(1024, -time.Second)

	assert.Equal(t, 0, e.SampleCount())
	assert.Equal(t, int64(0), e.TotalBytes())
}

func TestEstimator_InstantRate(t *testing.T) {
	e := bandwidth.New()
	e.Record(1000, time.Second)
	e.Record(1000, time.Second)

	assert.InDelta(t, 1000.0, e.InstantRate(), 0.001)
	assert.Equal(t, int64(2000), e.TotalBytes())
}

func TestEstimator_SmoothedRate_IsEMA(t *testing.T) {
	e := bandwidth.New()
	e.Record(1000, time.Second) // first sample seeds EMA at 1000
	first := e.SmoothedRate()
	require.InDelta(t, 1000.0, first, 0.001)

	e.Record(2000, time.Second) // rate 2000, alpha=0.3 -> 0.3*2000+0.7*1000=1300
	assert.InDelta(t, 1300.0, e.SmoothedRate(), 0.001)
}

func TestEstimator_ETA_UnknownUntilThreeSamples(t *testing.T) {
	e := bandwidth.New()
	_, known := e.ETA(1000)
	assert.False(t, known)

	e.Record(1000, time.Second)
	e.Record(1000, time.Second)
	_, known = e.ETA(1000)
	assert.False(t, known, "still under 3 samples")

	e.Record(1000, time.Second)
	eta, known := e.ETA(3000)
	assert.True(t, known)
	assert.InDelta(t, 3.0, eta.Seconds(), 0.01)
}

func TestEstimator_ETA_ZeroRemainingIsImmediate(t *testing.T) {
	e := bandwidth.New()
	for i := 0; i < 3; i++ {
		e.Record(1000, time.Second)
	}
	eta, known := e.ETA(0)
	assert.True(t, known)
	assert.Equal(t, time.Duration(0), eta)
}

func TestEstimator_WindowCapacity(t *testing.T) {
	e := bandwidth.New()
	for i := 0; i < 40; i++ {
		e.Record(100, time.Second)
	}
	assert.Equal(t, 30, e.SampleCount(), "window is capped at 30 samples")
	assert.Equal(t, int64(4000), e.TotalBytes(), "total bytes keeps accumulating past the window cap")
}
