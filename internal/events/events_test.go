package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NamanBalaji/fluxion/internal/events"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", events.FormatSpeed(0))
	assert.Equal(t, "0 B/s", events.FormatSpeed(-5))
	assert.Contains(t, events.FormatSpeed(1024), "KiB/s")
}

func TestFormatETA_UnknownWhenNotKnown(t *testing.T) {
	assert.Equal(t, "unknown", events.FormatETA(time.Minute, false))
}

func TestFormatETA_RoundsToSeconds(t *testing.T) {
	got := events.FormatETA(90*time.Second+400*time.Millisecond, true)
	assert.Equal(t, "1m30s", got)
}

func TestPlainSink_EmitsThroughPrint(t *testing.T) {
	var lines []string
	sink := events.NewPlainSink(func(s string) { lines = append(lines, s) })

	sink.OnComplete(fluxtype.SuccessResult{Bytes: 1024, SHA256: "abc"})
	sink.OnFailure(fluxtype.FailureResult{Kind: "LocalIo", Message: "disk full"})

	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "abc")
	assert.Contains(t, lines[1], "LocalIo")
}

func TestNopSink_NeverPanics(t *testing.T) {
	var s events.Sink = events.NopSink{}
	s.OnProbe(fluxtype.ProbeResult{})
	s.OnPlan(fluxtype.FetchPlan{})
	s.OnChunkLanded(fluxtype.Chunk{})
	s.OnConcurrencyChanged(1, 2)
	s.OnRetry(fluxtype.RetryDecision{}, 1)
	s.OnProgress(0, 0, 0, 0, false)
	s.OnComplete(fluxtype.SuccessResult{})
	s.OnFailure(fluxtype.FailureResult{})
}
