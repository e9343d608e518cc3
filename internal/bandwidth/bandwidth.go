// Package bandwidth implements C2, the bandwidth estimator: an online
// speed/ETA estimate from a sliding window of samples plus an EMA, per
// spec §4.2. Grounded on the teacher's SpeedCalculator (rolling sample
// window) and the original source's BandwidthEstimator (EMA smoothing).
package bandwidth

import (
	"sync"
	"time"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

const (
	defaultWindowSize = 30
	emaAlpha          = 0.3
	epsilon           = 1e-6 // bytes/sec floor below which ETA is "unknown"
)

// Estimator is created per-fetch and discarded at the end.
type Estimator struct {
	mu sync.Mutex

	window   []fluxtype.TransferSample
	cap      int
	next     int
	count    int
	haveEMA  bool
	ema      float64
	total    int64
}

// New creates a bandwidth estimator with the spec's default window (30).
func New() *Estimator {
	return &Estimator{
		window: make([]fluxtype.TransferSample, defaultWindowSize),
		cap:    defaultWindowSize,
	}
}

// Record is O(1). A sample whose elapsed is <= 0 is ignored — the
// estimator must stay monotonic in wall-clock time.
func (e *Estimator) Record(bytes int64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.window[e.next] = fluxtype.TransferSample{
		Timestamp: time.Now(),
		Bytes:     bytes,
		Elapsed:   elapsed,
	}
	e.next = (e.next + 1) % e.cap
	if e.count < e.cap {
		e.count++
	}
	e.total += bytes

	rate := float64(bytes) / elapsed.Seconds()
	if !e.haveEMA {
		e.ema = rate
		e.haveEMA = true
	} else {
		e.ema = emaAlpha*rate + (1-emaAlpha)*e.ema
	}
}

// InstantRate returns bytes/sec over the current window.
func (e *Estimator) InstantRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == 0 {
		return 0
	}

	var bytes int64
	var elapsed time.Duration
	for i := 0; i < e.count; i++ {
		bytes += e.window[i].Bytes
		elapsed += e.window[i].Elapsed
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}

// SmoothedRate returns the EMA of per-sample rates, factor alpha = 0.3.
func (e *Estimator) SmoothedRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ema
}

// SampleCount is how many samples have been recorded (bounded by the
// window capacity).
func (e *Estimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// TotalBytes is the cumulative byte count recorded over the fetch.
func (e *Estimator) TotalBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// ETA estimates seconds until remaining bytes land. It returns false
// ("unknown") until at least 3 samples exist, or if the smoothed rate has
// collapsed below epsilon.
func (e *Estimator) ETA(remaining int64) (time.Duration, bool) {
	e.mu.Lock()
	count := e.count
	rate := e.ema
	e.mu.Unlock()

	if count < 3 || rate < epsilon {
		return 0, false
	}
	if remaining <= 0 {
		return 0, true
	}
	seconds := float64(remaining) / rate
	return time.Duration(seconds * float64(time.Second)), true
}
