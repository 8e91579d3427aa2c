// Package ratelimit paces sequential requests against the target site.
// The crawl is single-threaded on purpose: the randomized delay is the
// throttling strategy, concurrency would defeat it.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Pacer interface {
	Wait(ctx context.Context) error
}

// JitterPacer blocks for a random duration between min and max before each
// request, measured from the previous one.
type JitterPacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	return &JitterPacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastAction)
	delay := p.delay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *JitterPacer) delay() time.Duration {
	if p.minDelay >= p.maxDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(rand.Int63n(int64(p.maxDelay-p.minDelay)))
}

// Immediate never waits. Used in tests.
type Immediate struct{}

func (Immediate) Wait(ctx context.Context) error {
	return ctx.Err()
}
