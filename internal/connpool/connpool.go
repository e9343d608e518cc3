// Package connpool pools live protocol connections per host so the
// scheduler's parallel streams can reuse warm connections instead of
// renegotiating a transport/TLS handshake per chunk. Adapted from the
// teacher's internal/connection Pool (available/in-use maps, md5-hashed
// keys, idle cleanup goroutine), generalized from "HTTP Connection" to
// any protocol.Conn the handler set produces.
package connpool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NamanBalaji/fluxion/internal/logx"
)

// Conn is the minimum surface a pooled protocol connection must expose.
// Protocol handlers' concrete connection types (httpx, ftp, sftp) satisfy
// this independently of their richer per-protocol interfaces.
type Conn interface {
	IsAlive() bool
	Reset(ctx context.Context) error
	Close() error
	Key() string // pooling key, e.g. target host + auth fingerprint
}

// Stats reports pool occupancy and lifetime counters.
type Stats struct {
	TotalConnections   int
	ActiveConnections  int
	IdleConnections    int
	ConnectionsCreated int64
	ConnectionsReused  int64
}

// Pool is a reusable, per-key connection pool.
type Pool struct {
	available    map[string][]Conn
	inUse        map[string][]Conn
	lastActivity map[uintptr]time.Time
	stats        Stats

	maxIdlePerHost int
	maxIdleTime    time.Duration

	mu sync.Mutex

	log logx.Logger

	cleanupDone   chan struct{}
	cleanupCancel chan struct{}
}

// New creates a connection pool that evicts connections idle for longer
// than maxIdleTime, keeping at most maxIdlePerHost idle connections per key.
func New(maxIdlePerHost int, maxIdleTime time.Duration) *Pool {
	log := logx.Named("connpool")
	log.Debug().Int("maxIdlePerHost", maxIdlePerHost).Dur("maxIdleTime", maxIdleTime).Msg("creating connection pool")

	p := &Pool{
		available:      make(map[string][]Conn),
		inUse:          make(map[string][]Conn),
		lastActivity:   make(map[uintptr]time.Time),
		maxIdlePerHost: maxIdlePerHost,
		maxIdleTime:    maxIdleTime,
		log:            log,
		cleanupDone:    make(chan struct{}),
		cleanupCancel:  make(chan struct{}),
	}

	go p.cleanup()
	return p
}

// HashKey derives a pool key from a target string and an optional auth
// fingerprint (e.g. an Authorization header value), the way the teacher's
// hashConnection did for URL+headers.
func HashKey(target, auth string) string {
	key := target
	if auth != "" {
		key += "|auth:" + auth
	}
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get retrieves an idle connection for key, or (nil, nil) if none is
// available; the caller is then expected to dial a new one and call Put.
func (p *Pool) Get(ctx context.Context, key string) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.available[key]
	if !ok || len(conns) == 0 {
		return nil, nil
	}

	lastIdx := len(conns) - 1
	conn := conns[lastIdx]
	p.available[key] = conns[:lastIdx]
	p.inUse[key] = append(p.inUse[key], conn)
	atomic.AddInt64(&p.stats.ConnectionsReused, 1)

	if !conn.IsAlive() {
		if err := conn.Reset(ctx); err != nil {
			conn.Close()
			p.removeFromInUse(key, conn)
			delete(p.lastActivity, ptrOf(conn))
			return nil, err
		}
	}
	p.lastActivity[ptrOf(conn)] = time.Now()
	return conn, nil
}

// Put registers a freshly dialed connection as in-use under key.
func (p *Pool) Put(key string, conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse[key] = append(p.inUse[key], conn)
	p.lastActivity[ptrOf(conn)] = time.Now()
	atomic.AddInt64(&p.stats.ConnectionsCreated, 1)
}

// Release returns conn to the idle pool for key, or closes it if the pool
// for that key is already at capacity or the connection is no longer alive.
func (p *Pool) Release(key string, conn Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeFromInUse(key, conn)

	if conn.IsAlive() && len(p.available[key]) < p.maxIdlePerHost {
		p.available[key] = append(p.available[key], conn)
		p.lastActivity[ptrOf(conn)] = time.Now()
		return
	}
	conn.Close()
	delete(p.lastActivity, ptrOf(conn))
}

func (p *Pool) removeFromInUse(key string, conn Conn) {
	conns, ok := p.inUse[key]
	if !ok {
		return
	}
	for i, c := range conns {
		if c == conn {
			p.inUse[key] = append(conns[:i], conns[i+1:]...)
			return
		}
	}
}

// CloseAll stops the cleanup goroutine and closes every pooled connection.
func (p *Pool) CloseAll() {
	close(p.cleanupCancel)
	<-p.cleanupDone

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conns := range p.available {
		for _, c := range conns {
			c.Close()
		}
	}
	for _, conns := range p.inUse {
		for _, c := range conns {
			c.Close()
		}
	}
	p.available = make(map[string][]Conn)
	p.inUse = make(map[string][]Conn)
	p.lastActivity = make(map[uintptr]time.Time)
}

// Stats returns a snapshot of pool occupancy and counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() Stats {
	idle, active := 0, 0
	for _, c := range p.available {
		idle += len(c)
	}
	for _, c := range p.inUse {
		active += len(c)
	}
	s := p.stats
	s.IdleConnections = idle
	s.ActiveConnections = active
	s.TotalConnections = idle + active
	return s
}

func (p *Pool) cleanup() {
	defer close(p.cleanupDone)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.removeIdle()
		case <-p.cleanupCancel:
			return
		}
	}
}

func (p *Pool) removeIdle() {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, conns := range p.available {
		var remaining []Conn
		for _, c := range conns {
			last, ok := p.lastActivity[ptrOf(c)]
			if !ok || now.Sub(last) <= p.maxIdleTime {
				remaining = append(remaining, c)
				continue
			}
			c.Close()
			delete(p.lastActivity, ptrOf(c))
		}
		if len(remaining) > 0 {
			p.available[key] = remaining
		} else {
			delete(p.available, key)
		}
	}
}

func ptrOf(conn Conn) uintptr {
	return reflect.ValueOf(conn).Pointer()
}
