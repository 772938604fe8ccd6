// Package flight deduplicates concurrent calls for one key on top of
// singleflight. The shared call runs under its own context, detached from
// whichever caller started it, and is canceled only once every caller
// waiting on it has returned. A caller that cancels gets its own ctx error
// back while the others keep waiting.
package flight

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group is safe for concurrent use. The zero value is ready.
type Group struct {
	sf    singleflight.Group
	mu    sync.Mutex
	seq   uint64
	calls map[string]*call
}

type call struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Do runs fn once for all concurrent callers of key and returns its result.
// fn receives the shared context.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := g.join(ctx, key)
	ch := g.sf.DoChan(c.id, func() (any, error) {
		defer g.finish(key, c)
		return fn(c.ctx)
	})
	select {
	case r := <-ch:
		g.leave(key, c)
		return r.Val, r.Err
	case <-ctx.Done():
		g.leave(key, c)
		return nil, ctx.Err()
	}
}

func (g *Group) join(ctx context.Context, key string) *call {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]*call)
	}
	c, ok := g.calls[key]
	if !ok {
		g.seq++
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		// Each generation gets its own singleflight key so a caller arriving
		// after the last waiter left never joins a call being torn down.
		c = &call{id: key + "\x00" + strconv.FormatUint(g.seq, 10), ctx: shared, cancel: cancel}
		g.calls[key] = c
	}
	c.waiters++
	return c
}

// Waiters returns how many callers wait on the in-flight call for key.
func (g *Group) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.waiters
	}
	return 0
}

// finish retires c once fn has returned; late arrivals start a new call.
func (g *Group) finish(key string, c *call) {
	g.mu.Lock()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
}

func (g *Group) leave(key string, c *call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.waiters--
	if c.waiters > 0 {
		return
	}
	c.cancel()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
}
