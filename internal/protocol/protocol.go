// Package protocol defines C6, the uniform protocol handler contract
// (probe/open/read_range/read_all/close) that every transport — HTTP/1.1,
// HTTP/2, HTTP/3, FTP, SFTP, SCP — implements identically, per spec §4.6.
// Grounded on the teacher's Protocol interface and Handler dispatcher,
// generalized from an HTTP-only interface to the spec's five-operation
// contract and scheme-keyed registry.
package protocol

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

var (
	// ErrUnsupportedScheme is returned by Registry.For when no handler
	// claims the target's scheme.
	ErrUnsupportedScheme = errors.New("protocol: unsupported scheme")
	// ErrNotOpen reports a read on a connection that is not open. The
	// built-in handlers never return it: their Conns exist only once Open
	// has succeeded.
	ErrNotOpen = errors.New("protocol: connection not open")
)

// Options carries per-fetch transport configuration into a handler.
type Options struct {
	ConnectTimeoutMS      int64
	TLSPin                string
	TLSInsecureSkipVerify bool
	UserAgent             string
	Headers               map[string]string
	MaxConcurrentHint     int // caller's requested concurrency, for handlers that cap it
}

// Conn is a single open transport connection to a target, capable of
// serving overlapping ReadRange calls for parallel chunk fetches where the
// underlying protocol supports concurrent streams (HTTP/2, HTTP/3), or one
// at a time where it does not (HTTP/1.1, FTP, SFTP).
type Conn interface {
	// ReadRange fetches [offset, offset+length) and writes it to w,
	// returning the number of bytes written.
	ReadRange(ctx context.Context, w io.Writer, offset, length int64) (int64, error)
	// ReadAll streams the entire resource from the beginning to w.
	ReadAll(ctx context.Context, w io.Writer) (int64, error)
	// Close releases the underlying transport resource.
	Close() error
	// IsAlive reports whether the connection looks reusable.
	IsAlive() bool
	// Reset re-validates or re-establishes the connection in place.
	Reset(ctx context.Context) error
	// Key is this connection's connpool key.
	Key() string
}

// Handler implements the five-operation contract for one family of
// protocols (e.g. all HTTP versions, or FTP, or SFTP/SCP).
type Handler interface {
	// Schemes lists the URL schemes this handler claims, e.g. {"http","https"}.
	Schemes() []string
	// Probe performs a lightweight metadata fetch (HEAD, or protocol
	// equivalent) without transferring the body.
	Probe(ctx context.Context, target fluxtype.Target, opts Options) (fluxtype.ProbeResult, error)
	// Open establishes a connection ready to serve ReadRange/ReadAll.
	Open(ctx context.Context, target fluxtype.Target, opts Options) (Conn, error)
	// MaxConcurrentStreams reports how many concurrent Conns (or streams
	// within one Conn) this handler supports for target; 1 forces SINGLE.
	MaxConcurrentStreams(probe fluxtype.ProbeResult) int
}

// Registry dispatches to the Handler that claims a target's scheme.
type Registry struct {
	mu       sync.RWMutex
	byScheme map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byScheme: make(map[string]Handler)}
}

// Register associates h with every scheme it reports via Schemes().
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range h.Schemes() {
		r.byScheme[scheme] = h
	}
}

// For returns the handler registered for target's scheme.
func (r *Registry) For(target fluxtype.Target) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byScheme[target.Scheme]
	if !ok {
		return nil, ErrUnsupportedScheme
	}
	return h, nil
}
