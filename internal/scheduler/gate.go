package scheduler

import (
	"context"
	"sync"
)

// gate is a dynamically resizable counting semaphore. Unlike a buffered
// channel, its capacity can shrink or grow while permits are held:
// shrinking never revokes a permit already granted, it only throttles
// future acquisitions until inUse drops below the new limit, per the
// connection optimizer's live concurrency adjustments.
type gate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	inUse int
}

func newGate(n int) *gate {
	g := &gate{n: n}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// acquire blocks until a permit is available or ctx is done.
func (g *gate) acquire(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.inUse >= g.n {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		g.cond.Wait()
		select {
		case <-done:
			return ctx.Err()
		default:
		}
	}
	g.inUse++
	return nil
}

// release returns a permit.
func (g *gate) release() {
	g.mu.Lock()
	g.inUse--
	g.cond.Broadcast()
	g.mu.Unlock()
}

// setN resizes the permit pool. Already in-flight work is never cancelled;
// a shrink only withholds future acquisitions until inUse catches down.
func (g *gate) setN(n int) {
	g.mu.Lock()
	g.n = n
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *gate) current() (n, inUse int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n, g.inUse
}
