package fetchctl_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/events"
	"github.com/NamanBalaji/fluxion/internal/fetchctl"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/protocol"
)

// fakeHandler serves an in-memory byte slice over a fake "memfake" scheme,
// standing in for a real protocol.Handler so fetchctl's state machine can
// be exercised without a network.
type fakeHandler struct {
	data          []byte
	supportsRange bool
	etag          string
	maxStreams    int
	rangeCalls    int32
}

func (h *fakeHandler) Schemes() []string { return []string{"memfake"} }

func (h *fakeHandler) Probe(ctx context.Context, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	return fluxtype.ProbeResult{
		Protocol:             "MEMFAKE",
		ContentLength:        int64(len(h.data)),
		SupportsRange:        h.supportsRange,
		SupportsResume:       h.supportsRange,
		ETag:                 h.etag,
		MaxConcurrentStreams: h.maxStreams,
	}, nil
}

func (h *fakeHandler) Open(ctx context.Context, target fluxtype.Target, opts protocol.Options) (protocol.Conn, error) {
	return &fakeConn{h: h}, nil
}

func (h *fakeHandler) MaxConcurrentStreams(probe fluxtype.ProbeResult) int { return h.maxStreams }

type fakeConn struct {
	h *fakeHandler
}

func (c *fakeConn) ReadRange(ctx context.Context, w io.Writer, offset, length int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	atomic.AddInt32(&c.h.rangeCalls, 1)
	end := offset + length
	if end > int64(len(c.h.data)) {
		end = int64(len(c.h.data))
	}
	n, err := w.Write(c.h.data[offset:end])
	return int64(n), err
}

func (c *fakeConn) ReadAll(ctx context.Context, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.Write(c.h.data)
	return int64(n), err
}

func (c *fakeConn) Close() error        { return nil }
func (c *fakeConn) IsAlive() bool       { return true }
func (c *fakeConn) Reset(context.Context) error { return nil }
func (c *fakeConn) Key() string         { return "fake" }

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newRegistry(h *fakeHandler) *protocol.Registry {
	reg := protocol.NewRegistry()
	reg.Register(h)
	return reg
}

func TestRun_ParallelFetchMatchesHash(t *testing.T) {
	data := bytes.Repeat([]byte("fluxion-parallel-fetch-"), 100_000) // ~2.3MiB, several chunks
	h := &fakeHandler{data: data, supportsRange: true}
	ctrl := fetchctl.New(newRegistry(h), events.NopSink{})

	out := filepath.Join(t.TempDir(), "object.bin")
	req := fetchctl.Request{
		URL:          "memfake://host/object",
		OutputPath:   out,
		ExpectedHash: sha256Hex(data),
	}

	result, err := ctrl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.Bytes)
	assert.Equal(t, sha256Hex(data), result.SHA256)
	assert.Greater(t, atomic.LoadInt32(&h.rangeCalls), int32(1), "parallel mode issues multiple range reads")
}

func TestRun_StreamFetchWithoutRangeSupport(t *testing.T) {
	data := bytes.Repeat([]byte("no-range-server"), 1000)
	h := &fakeHandler{data: data, supportsRange: false}
	ctrl := fetchctl.New(newRegistry(h), events.NopSink{})

	out := filepath.Join(t.TempDir(), "object.bin")
	req := fetchctl.Request{
		URL:          "memfake://host/object",
		OutputPath:   out,
		ExpectedHash: sha256Hex(data),
	}

	result, err := ctrl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.Bytes)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.rangeCalls), "stream mode never issues a range read")
}

func TestRun_IntegrityMismatchDiscardsPartial(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	h := &fakeHandler{data: data, supportsRange: true}
	ctrl := fetchctl.New(newRegistry(h), events.NopSink{})

	out := filepath.Join(t.TempDir(), "object.bin")
	req := fetchctl.Request{
		URL:          "memfake://host/object",
		OutputPath:   out,
		ExpectedHash: sha256Hex([]byte("not the real content")),
	}

	_, err := ctrl.Run(context.Background(), req)
	assert.Error(t, err)
	_, statErr := os.Stat(out + ".partial")
	assert.True(t, os.IsNotExist(statErr), "the partial file is discarded on an integrity mismatch")
}

// planSink records the mode of the plan the controller settles on.
type planSink struct {
	events.NopSink
	mode fluxtype.Mode
}

func (s *planSink) OnPlan(p fluxtype.FetchPlan) { s.mode = p.Mode }

func TestRun_SingleModeForcedByMaxConcurrentStreams(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 500_000)
	h := &fakeHandler{data: data, supportsRange: true, maxStreams: 1}
	sink := &planSink{}
	ctrl := fetchctl.New(newRegistry(h), sink)

	out := filepath.Join(t.TempDir(), "object.bin")
	req := fetchctl.Request{
		URL:          "memfake://host/object",
		OutputPath:   out,
		ExpectedHash: sha256Hex(data),
	}

	result, err := ctrl.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.Bytes)
	assert.Equal(t, fluxtype.ModeSingle, sink.mode)
}

func TestRun_UnsupportedSchemeFails(t *testing.T) {
	ctrl := fetchctl.New(protocol.NewRegistry(), events.NopSink{})
	_, err := ctrl.Run(context.Background(), fetchctl.Request{
		URL:        "memfake://host/object",
		OutputPath: filepath.Join(t.TempDir(), "object.bin"),
	})
	assert.Error(t, err)
}

func TestRun_RespectsContextCancellation(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 5_000_000)
	h := &fakeHandler{data: data, supportsRange: true}
	ctrl := fetchctl.New(newRegistry(h), events.NopSink{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	_, err := ctrl.Run(ctx, fetchctl.Request{
		URL:          "memfake://host/object",
		OutputPath:   filepath.Join(t.TempDir(), "object.bin"),
		ExpectedHash: sha256Hex(data),
	})
	assert.Error(t, err)
}
