// Package events defines the observer contract fed by the fetch
// controller and scheduler as a fetch progresses, per spec §5. Grounded
// on the teacher's progress.Progress interface (GetPercentage/GetSpeedBPS/
// GetETA shape), generalized to a push-based Sink, with FormatSpeed
// ported from original_source's BandwidthEstimator.format_speed (rewritten
// against dustin/go-humanize rather than a hand-rolled unit ladder).
package events

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

// Sink receives lifecycle notifications from a single fetch. Every method
// must return quickly; a slow sink should buffer internally rather than
// block the scheduler.
type Sink interface {
	OnProbe(fluxtype.ProbeResult)
	OnPlan(fluxtype.FetchPlan)
	OnChunkLanded(chunk fluxtype.Chunk)
	OnConcurrencyChanged(from, to int)
	OnRetry(decision fluxtype.RetryDecision, attempt int)
	OnProgress(downloaded, total int64, speedBps float64, eta time.Duration, etaKnown bool)
	OnComplete(fluxtype.SuccessResult)
	OnFailure(fluxtype.FailureResult)
}

// NopSink discards every event; useful as a default or in tests.
type NopSink struct{}

func (NopSink) OnProbe(fluxtype.ProbeResult)                                             {}
func (NopSink) OnPlan(fluxtype.FetchPlan)                                                 {}
func (NopSink) OnChunkLanded(fluxtype.Chunk)                                              {}
func (NopSink) OnConcurrencyChanged(int, int)                                             {}
func (NopSink) OnRetry(fluxtype.RetryDecision, int)                                       {}
func (NopSink) OnProgress(int64, int64, float64, time.Duration, bool)                     {}
func (NopSink) OnComplete(fluxtype.SuccessResult)                                         {}
func (NopSink) OnFailure(fluxtype.FailureResult)                                          {}

// PlainSink writes human-readable progress lines to a Printer (typically
// fmt.Println or a *log.Logger method), throttled by the caller rather
// than by PlainSink itself.
type PlainSink struct {
	Print func(string)
}

// NewPlainSink creates a PlainSink writing through print.
func NewPlainSink(print func(string)) *PlainSink {
	return &PlainSink{Print: print}
}

func (s *PlainSink) emit(format string, args ...interface{}) {
	if s.Print != nil {
		s.Print(fmt.Sprintf(format, args...))
	}
}

func (s *PlainSink) OnProbe(p fluxtype.ProbeResult) {
	s.emit("probed %s: %s, %s", p.Protocol, sizeOrUnknown(p.ContentLength), rangeSupport(p.SupportsRange))
}

func (s *PlainSink) OnPlan(p fluxtype.FetchPlan) {
	s.emit("plan: mode=%s connections=%d chunk=%s", p.Mode, p.InitialConcurrency, humanize.IBytes(uint64(p.MinChunkSize)))
}

func (s *PlainSink) OnChunkLanded(c fluxtype.Chunk) {
	s.emit("chunk landed: offset=%d length=%s", c.Offset, humanize.IBytes(uint64(c.Length)))
}

func (s *PlainSink) OnConcurrencyChanged(from, to int) {
	s.emit("concurrency %d -> %d", from, to)
}

func (s *PlainSink) OnRetry(d fluxtype.RetryDecision, attempt int) {
	s.emit("retry attempt %d (%s), delay=%s", attempt, d.Category, d.Delay)
}

func (s *PlainSink) OnProgress(downloaded, total int64, speedBps float64, eta time.Duration, etaKnown bool) {
	s.emit("%s / %s, %s, eta %s", humanize.IBytes(uint64(downloaded)), sizeOrUnknown(total), FormatSpeed(speedBps), FormatETA(eta, etaKnown))
}

func (s *PlainSink) OnComplete(r fluxtype.SuccessResult) {
	s.emit("done: %s in %s (%s), sha256=%s", humanize.IBytes(uint64(r.Bytes)), r.Duration.Round(time.Millisecond), FormatSpeed(r.AvgThroughput), r.SHA256)
}

func (s *PlainSink) OnFailure(r fluxtype.FailureResult) {
	s.emit("failed: %s (%s)", r.Message, r.Kind)
}

func sizeOrUnknown(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return humanize.IBytes(uint64(n))
}

func rangeSupport(ok bool) string {
	if ok {
		return "range requests supported"
	}
	return "no range support"
}

// FormatSpeed renders bytes/sec as a human-readable rate string, e.g.
// "4.2 MiB/s". Ported from original_source's format_speed against
// go-humanize's binary-prefix formatter rather than a hand-rolled ladder.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// FormatETA renders a duration the way original_source's eta_seconds
// result is displayed, or "unknown" when known is false.
func FormatETA(d time.Duration, known bool) string {
	if !known {
		return "unknown"
	}
	return d.Round(time.Second).String()
}
