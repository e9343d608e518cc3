// Package fetchctl implements C8, the fetch controller: the top-level
// state machine (PROBING -> PLANNING -> EXECUTING -> VERIFYING ->
// FINALIZING) that turns a Request into a completed or failed fetch, per
// spec §4.8. It owns MIRROR-mode probing and tie-break, resume-offset
// recovery via ETag/Last-Modified validators, and PARALLEL -> SINGLE
// degradation when a protocol handler reports ProtocolDegraded. Grounded
// on the teacher's common.Status enum (state naming/String convention)
// and engine.processDownload's pause/fail/finish branching.
package fetchctl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/fluxion/internal/assembly"
	"github.com/NamanBalaji/fluxion/internal/bandwidth"
	"github.com/NamanBalaji/fluxion/internal/chunker"
	"github.com/NamanBalaji/fluxion/internal/events"
	"github.com/NamanBalaji/fluxion/internal/ferrors"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/integrity"
	"github.com/NamanBalaji/fluxion/internal/logx"
	"github.com/NamanBalaji/fluxion/internal/optimizer"
	"github.com/NamanBalaji/fluxion/internal/protocol"
	"github.com/NamanBalaji/fluxion/internal/scheduler"
)

// State is one stage of the fetch controller's lifecycle.
type State int

const (
	StateProbing State = iota
	StatePlanning
	StateExecuting
	StateVerifying
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "PROBING"
	case StatePlanning:
		return "PLANNING"
	case StateExecuting:
		return "EXECUTING"
	case StateVerifying:
		return "VERIFYING"
	case StateFinalizing:
		return "FINALIZING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Request describes one fetch the caller wants performed.
type Request struct {
	URL          string
	Mirrors      []string
	OutputPath   string
	ExpectedHash string
	TLSPin       string
	MinChunkSize int64
	MaxChunkSize int64
	MinConn      int
	MaxConn      int
	ForceMode    fluxtype.Mode // zero value ModeParallel means "let the controller decide"
}

// Controller runs one fetch end to end.
type Controller struct {
	registry *protocol.Registry
	sink     events.Sink
	log      logx.Logger
}

// New creates a fetch controller dispatching through registry.
func New(registry *protocol.Registry, sink events.Sink) *Controller {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Controller{registry: registry, sink: sink, log: logx.Named("fetchctl")}
}

// Run drives req through PROBING -> PLANNING -> EXECUTING -> VERIFYING ->
// FINALIZING, returning the terminal success result or a FetchError. Every
// invocation is tagged with a fresh fetch id for correlating its log lines.
func (c *Controller) Run(ctx context.Context, req Request) (fluxtype.SuccessResult, error) {
	fetchID := uuid.NewString()
	log := c.log.With().Str("fetch_id", fetchID).Str("url", req.URL).Logger()
	state := StateProbing
	log.Debug().Str("state", state.String()).Msg("fetch starting")

	target, probe, handler, err := c.probe(ctx, req)
	if err != nil {
		c.sink.OnFailure(failureFrom(err))
		return fluxtype.SuccessResult{}, err
	}
	if n := handler.MaxConcurrentStreams(probe); n > 0 {
		probe.MaxConcurrentStreams = n
	}
	c.sink.OnProbe(probe)

	state = StatePlanning
	plan, file, verifier, err := c.plan(req, target, probe)
	if err != nil {
		c.sink.OnFailure(failureFrom(err))
		return fluxtype.SuccessResult{}, err
	}
	c.sink.OnPlan(plan)

	state = StateExecuting
	result, err := c.execute(ctx, plan, handler, req, file, verifier)
	if err != nil {
		if isProtocolDegraded(err) && plan.Mode == fluxtype.ModeParallel {
			log.Info().Str("target", target.Raw).Msg("falling back from PARALLEL to SINGLE after protocol degradation")
			plan.Mode = fluxtype.ModeSingle
			plan.InitialConcurrency = 1
			plan.MinConnections = 1
			plan.MaxConnections = 1
			result, err = c.execute(ctx, plan, handler, req, file, verifier)
		}
		if err != nil {
			_ = file.Abort()
			c.sink.OnFailure(failureFrom(err))
			return fluxtype.SuccessResult{}, err
		}
	}

	state = StateVerifying
	if req.ExpectedHash != "" && !verifier.Verify(req.ExpectedHash) {
		_ = file.Close()
		_ = assembly.Discard(req.OutputPath)
		ferr := ferrors.NewIntegrityMismatch(target.Raw)
		c.sink.OnFailure(failureFrom(ferr))
		return fluxtype.SuccessResult{}, ferr
	}
	result.SHA256 = verifier.Digest()
	result.Protocol = probe.Protocol

	state = StateFinalizing
	if err := file.Finalize(); err != nil {
		c.sink.OnFailure(failureFrom(err))
		return fluxtype.SuccessResult{}, err
	}

	state = StateDone
	log.Debug().Str("final_state", state.String()).Msg("fetch complete")
	c.sink.OnComplete(result)
	return result, nil
}

// probe resolves the target (and, in MIRROR mode, every mirror) and picks
// the winning probe by lowest latency among those that succeeded.
func (c *Controller) probe(ctx context.Context, req Request) (fluxtype.Target, fluxtype.ProbeResult, protocol.Handler, error) {
	target, err := fluxtype.ParseTarget(req.URL)
	if err != nil {
		return fluxtype.Target{}, fluxtype.ProbeResult{}, nil, ferrors.NewLocalIo(err, req.URL)
	}

	candidates := []fluxtype.Target{target}
	for _, m := range req.Mirrors {
		mt, err := fluxtype.ParseTarget(m)
		if err == nil {
			candidates = append(candidates, mt)
		}
	}

	opts := protocol.Options{TLSPin: req.TLSPin}

	type attempt struct {
		target  fluxtype.Target
		probe   fluxtype.ProbeResult
		handler protocol.Handler
		err     error
	}

	results := make([]attempt, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand fluxtype.Target) {
			defer wg.Done()
			handler, err := c.registry.For(cand)
			if err != nil {
				results[i] = attempt{target: cand, err: err}
				return
			}
			res, err := handler.Probe(ctx, cand, opts)
			results[i] = attempt{target: cand, probe: res, handler: handler, err: err}
		}(i, cand)
	}
	wg.Wait()

	best := -1
	for i, a := range results {
		if a.err != nil {
			continue
		}
		if best == -1 || a.probe.Latency < results[best].probe.Latency {
			best = i
		}
	}
	if best == -1 {
		return fluxtype.Target{}, fluxtype.ProbeResult{}, nil, results[0].err
	}
	return results[best].target, results[best].probe, results[best].handler, nil
}

func (c *Controller) plan(req Request, target fluxtype.Target, probe fluxtype.ProbeResult) (fluxtype.FetchPlan, *assembly.File, *integrity.Verifier, error) {
	minChunk, maxChunk := req.MinChunkSize, req.MaxChunkSize
	if minChunk <= 0 {
		minChunk = chunker.MinChunkSize
	}
	if maxChunk <= 0 {
		maxChunk = chunker.MaxChunkSize
	}
	minConn, maxConn := req.MinConn, req.MaxConn
	if minConn <= 0 {
		minConn = optimizer.DefaultMin
	}
	if maxConn <= 0 {
		maxConn = optimizer.DefaultMax
	}

	mode := req.ForceMode
	if mode == fluxtype.ModeParallel {
		switch {
		case !probe.SupportsRange:
			mode = fluxtype.ModeStream
		case probe.MaxConcurrentStreams == 1:
			mode = fluxtype.ModeSingle
		default:
			mode = fluxtype.ModeParallel
		}
	}

	initial := optimizer.SuggestInitial(probe.ContentLength, maxConn)
	if mode != fluxtype.ModeParallel {
		initial = 1
		minConn, maxConn = 1, 1
	}

	file, err := assembly.Open(req.OutputPath, probe.ContentLength)
	if err != nil {
		return fluxtype.FetchPlan{}, nil, nil, err
	}

	resumeOffset := int64(0)
	if file.ValidatorsMatch(probe.ETag, probe.LastModified) {
		resumeOffset = file.ResumeOffset()
	} else {
		_ = assembly.Discard(req.OutputPath)
		file, err = assembly.Open(req.OutputPath, probe.ContentLength)
		if err != nil {
			return fluxtype.FetchPlan{}, nil, nil, err
		}
	}
	file.SetResumeValidators(probe.ETag, probe.LastModified, minChunk)

	plan := fluxtype.FetchPlan{
		Mode:               mode,
		Target:             target,
		OutputPath:         req.OutputPath,
		AssemblyPath:       req.OutputPath + ".partial",
		InitialConcurrency: initial,
		MinConnections:     minConn,
		MaxConnections:     maxConn,
		MinChunkSize:       minChunk,
		MaxChunkSize:       maxChunk,
		TotalSize:          probe.ContentLength,
		ResumeOffset:       resumeOffset,
		ExpectedHash:       req.ExpectedHash,
		ETag:               probe.ETag,
		LastModified:       probe.LastModified,
	}

	return plan, file, integrity.NewAt(resumeOffset), nil
}

func (c *Controller) execute(ctx context.Context, plan fluxtype.FetchPlan, handler protocol.Handler, req Request, file *assembly.File, verifier *integrity.Verifier) (fluxtype.SuccessResult, error) {
	opts := protocol.Options{TLSPin: req.TLSPin, MaxConcurrentHint: plan.InitialConcurrency}

	// STREAM targets don't support Range, so ranged chunk fan-out has
	// nothing to parallelize over: one connection reads the body
	// sequentially from the start. PARALLEL and SINGLE both rest on Range
	// and go through the scheduler, which degenerates correctly to one
	// worker/one connection for SINGLE.
	if plan.Mode == fluxtype.ModeStream {
		return c.executeStream(ctx, plan, handler, opts, file, verifier)
	}

	dial := func(ctx context.Context) (protocol.Conn, error) {
		return handler.Open(ctx, plan.Target, opts)
	}

	sched := scheduler.New(plan, dial, c.sink, file, verifier)
	return sched.Run(ctx)
}

// executeStream drives a single-connection, whole-body read for targets
// that never confirmed Range support. Grounded on the teacher's
// handler.downloadWholeFile fallback, generalized to feed the
// assembly/integrity/bandwidth pipeline byte-for-byte as the body streams
// in rather than buffering it first.
func (c *Controller) executeStream(ctx context.Context, plan fluxtype.FetchPlan, handler protocol.Handler, opts protocol.Options, file *assembly.File, verifier *integrity.Verifier) (fluxtype.SuccessResult, error) {
	conn, err := handler.Open(ctx, plan.Target, opts)
	if err != nil {
		return fluxtype.SuccessResult{}, err
	}
	defer conn.Close()

	bw := bandwidth.New()
	w := &streamWriter{file: file, verify: verifier, offset: plan.ResumeOffset, bw: bw, sink: c.sink, total: plan.TotalSize}

	started := time.Now()
	n, err := conn.ReadAll(ctx, w)
	if err != nil {
		return fluxtype.SuccessResult{}, err
	}

	if err := file.PersistMeta(); err != nil {
		return fluxtype.SuccessResult{}, err
	}

	return fluxtype.SuccessResult{
		Bytes:           plan.ResumeOffset + n,
		Duration:        time.Since(started),
		AvgThroughput:   bw.InstantRate(),
		SHA256:          verifier.Digest(),
		ConnectionsUsed: 1,
	}, nil
}

// streamWriter adapts the sequential byte stream ReadAll produces onto the
// assembly file at increasing offsets, feeding the integrity verifier and
// bandwidth estimator as each write lands.
type streamWriter struct {
	file   *assembly.File
	verify *integrity.Verifier
	offset int64
	bw     *bandwidth.Estimator
	sink   events.Sink
	total  int64
}

func (w *streamWriter) Write(p []byte) (int, error) {
	started := time.Now()
	if err := w.file.WriteChunk(w.offset, p); err != nil {
		return 0, err
	}
	if err := w.verify.Feed(w.offset, p); err != nil {
		return 0, ferrors.NewIntegrityMismatch("")
	}
	w.offset += int64(len(p))
	w.bw.Record(int64(len(p)), time.Since(started))

	remaining := int64(-1)
	if w.total >= 0 {
		remaining = w.total - w.offset
	}
	eta, known := w.bw.ETA(remaining)
	w.sink.OnProgress(w.offset, w.total, w.bw.SmoothedRate(), eta, known)
	return len(p), nil
}

func isProtocolDegraded(err error) bool {
	kind, ok := ferrors.Kindof(err)
	return ok && kind == ferrors.ProtocolDegraded
}

func failureFrom(err error) fluxtype.FailureResult {
	kind, _ := ferrors.Kindof(err)
	return fluxtype.FailureResult{
		Kind:      string(kind),
		Message:   err.Error(),
		CanResume: !ferrors.IsFatal(err),
	}
}
