package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer gates upstream requests per account: at most one request in flight per
// key and at least minInterval between the starts of two requests for the same
// key. Different keys never block each other.
type Pacer struct {
	mu          sync.Mutex
	gates       map[string]*gate
	minInterval time.Duration
}

type gate struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

// NewPacer creates a pacer. A zero interval disables spacing but keeps the
// single in-flight guarantee.
func NewPacer(minInterval time.Duration) *Pacer {
	return &Pacer{
		gates:       make(map[string]*gate),
		minInterval: minInterval,
	}
}

func (p *Pacer) gate(key string) *gate {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.gates[key]
	if !ok {
		limit := rate.Inf
		if p.minInterval > 0 {
			limit = rate.Every(p.minInterval)
		}
		g = &gate{
			slot:    make(chan struct{}, 1),
			limiter: rate.NewLimiter(limit, 1),
		}
		p.gates[key] = g
	}
	return g
}

// Acquire blocks until a request for key may be sent. The returned release
// func must be called once the response has been read.
func (p *Pacer) Acquire(ctx context.Context, key string) (func(), error) {
	g := p.gate(key)

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slot
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.slot })
	}, nil
}
