// Package scheduler implements C7, the parallel scheduler: a
// bounded-concurrency orchestrator that pulls chunk work from the
// adaptive chunker, dispatches it to a pool of protocol connections sized
// by the connection optimizer, and drives the bandwidth estimator, retry
// classifier, and integrity verifier as chunks land, per spec §4.7.
// Grounded on the teacher's engine.processDownload (errgroup +
// channel-semaphore fan-out, downloadChunkWithRetries backoff loop),
// generalized to a dynamically resizable gate and streaming chunk
// production instead of a fixed up-front chunk list.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

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
	"github.com/NamanBalaji/fluxion/internal/retry"
)

// chunkReadTimeout bounds a single chunk's ReadRange call, per spec §5's
// default 30s per-request timeout. A connection that stalls past this is
// cancelled and the attempt classified as a transient network error rather
// than hanging the whole fetch.
const chunkReadTimeout = 30 * time.Second

// ConnFactory opens a fresh protocol connection for one worker stream.
// The scheduler opens one per concurrent worker and keeps it for the
// worker's lifetime rather than per chunk, so protocols that multiplex
// (HTTP/2, HTTP/3) reuse the same stream and protocols that don't
// (HTTP/1.1, FTP, SFTP) still pay only one handshake per worker.
type ConnFactory func(ctx context.Context) (protocol.Conn, error)

// Scheduler drives one fetch's parallel chunk transfer.
type Scheduler struct {
	plan    fluxtype.FetchPlan
	dial    ConnFactory
	bw      *bandwidth.Estimator
	chunks  *chunker.Chunker
	opt     *optimizer.Optimizer
	classifier *retry.Classifier
	verify  *integrity.Verifier
	file    *assembly.File
	sink    events.Sink
	log     logx.Logger

	gate      *gate
	nextOffset int64 // atomic
	landed     int64 // atomic, bytes landed
}

// New creates a scheduler for plan. verify should already be positioned at
// plan.ResumeOffset (via integrity.NewAt) when resuming.
func New(plan fluxtype.FetchPlan, dial ConnFactory, sink events.Sink, file *assembly.File, verify *integrity.Verifier) *Scheduler {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Scheduler{
		plan:       plan,
		dial:       dial,
		bw:         bandwidth.New(),
		chunks:     chunker.New(chunker.WithBounds(plan.MinChunkSize, plan.MaxChunkSize)),
		opt:        optimizer.New(plan.InitialConcurrency, plan.MinConnections, plan.MaxConnections),
		classifier: retry.New(),
		verify:     verify,
		file:       file,
		sink:       sink,
		log:        logx.Named("scheduler"),
		gate:       newGate(plan.InitialConcurrency),
		nextOffset: plan.ResumeOffset,
	}
}

// Run drives the fetch to completion: workers pull chunks from a producer
// goroutine, fetch them, and feed the assembly/integrity/bandwidth/
// optimizer/chunker pipeline, until the whole object has landed or an
// unrecoverable error occurs.
func (s *Scheduler) Run(ctx context.Context) (fluxtype.SuccessResult, error) {
	start := time.Now()
	workCh := make(chan fluxtype.Chunk, s.opt.Concurrency()*2)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(workCh)
		return s.produce(gctx, workCh)
	})

	workerCount := s.opt.Concurrency()
	if workerCount < 1 {
		workerCount = 1
	}
	connections := 0
	for i := 0; i < workerCount; i++ {
		conn, err := s.dial(gctx)
		if err != nil {
			return fluxtype.SuccessResult{}, err
		}
		connections++
		g.Go(func() error {
			defer conn.Close()
			return s.worker(gctx, conn, workCh)
		})
	}

	if err := g.Wait(); err != nil {
		return fluxtype.SuccessResult{}, err
	}

	if err := s.file.PersistMeta(); err != nil {
		return fluxtype.SuccessResult{}, err
	}

	return fluxtype.SuccessResult{
		Bytes:           atomic.LoadInt64(&s.landed),
		Duration:        time.Since(start),
		AvgThroughput:   s.bw.InstantRate(),
		SHA256:          s.verify.Digest(),
		ConnectionsUsed: connections,
	}, nil
}

// produce slices the remaining range into chunks at the chunker's current
// size, feeding them to workCh until the target is fully planned.
func (s *Scheduler) produce(ctx context.Context, workCh chan<- fluxtype.Chunk) error {
	for {
		offset := atomic.LoadInt64(&s.nextOffset)
		if s.plan.TotalSize >= 0 && offset >= s.plan.TotalSize {
			return nil
		}

		size := s.chunks.Size()
		length := size
		if s.plan.TotalSize >= 0 && offset+length > s.plan.TotalSize {
			length = s.plan.TotalSize - offset
		}
		if length <= 0 {
			return nil
		}

		chunk := fluxtype.Chunk{Offset: offset, Length: length, State: fluxtype.ChunkPending}
		atomic.StoreInt64(&s.nextOffset, offset+length)

		select {
		case workCh <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// worker repeatedly pulls one chunk, acquires a gate permit, and fetches
// it with the retry classifier governing re-attempts. Every chunk this
// worker handles carries the same stream id, identifying which connection
// served it for observability.
func (s *Scheduler) worker(ctx context.Context, conn protocol.Conn, workCh <-chan fluxtype.Chunk) error {
	streamID := uuid.NewString()
	for {
		chunk, ok := <-workCh
		if !ok {
			return nil
		}
		chunk.StreamID = streamID

		if err := s.gate.acquire(ctx); err != nil {
			return err
		}
		err := s.fetchChunkWithRetries(ctx, conn, chunk)
		s.gate.release()

		if err != nil {
			return err
		}
	}
}

func (s *Scheduler) fetchChunkWithRetries(ctx context.Context, conn protocol.Conn, chunk fluxtype.Chunk) error {
	attempt := 0
	for {
		attempt++
		err := s.fetchChunk(ctx, conn, chunk)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ferrors.NewCancelled(ctx.Err(), s.plan.Target.Raw)
		}

		decision := s.classifier.Classify(err, attempt)
		s.sink.OnRetry(decision, attempt)

		if decision.Category == string(ferrors.ServerBackoff) {
			// A 429/503-style backoff means the server is telling us to
			// slow down now, not just this chunk: halve concurrency
			// immediately rather than waiting for the next throughput tick.
			s.ReportThrottle()
		}

		switch decision.Verdict {
		case fluxtype.RetryFail:
			return err
		case fluxtype.RetryAfter:
			select {
			case <-time.After(decision.Delay):
			case <-ctx.Done():
				return ferrors.NewCancelled(ctx.Err(), s.plan.Target.Raw)
			}
		}
	}
}

func (s *Scheduler) fetchChunk(ctx context.Context, conn protocol.Conn, chunk fluxtype.Chunk) error {
	buf := &bytes.Buffer{}
	buf.Grow(int(chunk.Length))

	cctx, cancel := context.WithTimeout(ctx, chunkReadTimeout)
	defer cancel()

	started := time.Now()
	n, err := conn.ReadRange(cctx, buf, chunk.Offset, chunk.Length)
	elapsed := time.Since(started)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return ferrors.NewTransientNetwork(fmt.Errorf("chunk read timed out after %s: %w", chunkReadTimeout, err), s.plan.Target.Raw)
		}
		return err
	}
	if n != chunk.Length {
		// Non-retryable at chunk level: a truncated range read means the
		// server or protocol can't honour ranges reliably here, so this
		// falls back to a plan-level PARALLEL -> SINGLE replan instead of
		// re-requesting the same truncating range.
		return ferrors.NewProtocolDegraded(fmt.Errorf("short read: got %d of %d bytes", n, chunk.Length), s.plan.Target.Raw)
	}

	if err := s.file.WriteChunk(chunk.Offset, buf.Bytes()); err != nil {
		return err
	}
	if err := s.verify.Feed(chunk.Offset, buf.Bytes()); err != nil {
		return ferrors.NewIntegrityMismatch(s.plan.Target.Raw)
	}

	atomic.AddInt64(&s.landed, n)
	s.bw.Record(n, elapsed)
	s.chunks.Feedback(s.bw.SmoothedRate())

	before := s.opt.Concurrency()
	if newN, changed := s.opt.ReportThroughput(s.bw.InstantRate(), time.Now()); changed {
		s.gate.setN(newN)
		s.sink.OnConcurrencyChanged(before, newN)
	}

	chunk.State = fluxtype.ChunkLanded
	s.sink.OnChunkLanded(chunk)

	total := s.plan.TotalSize
	remaining := int64(-1)
	if total >= 0 {
		remaining = total - atomic.LoadInt64(&s.landed)
	}
	eta, known := s.bw.ETA(remaining)
	s.sink.OnProgress(atomic.LoadInt64(&s.landed), total, s.bw.SmoothedRate(), eta, known)

	return nil
}

// ReportThrottle pushes an immediate concurrency reduction into the
// optimizer/gate without waiting for the next throughput tick. The
// scheduler calls it when a chunk error is classified ServerBackoff
// (e.g. an HTTP 429).
func (s *Scheduler) ReportThrottle() {
	before := s.opt.Concurrency()
	newN := s.opt.ReportThrottle()
	s.gate.setN(newN)
	s.sink.OnConcurrencyChanged(before, newN)
}
