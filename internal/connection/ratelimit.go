package connection

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PeerRateLimiter applies a per-peer byte-rate limit to outbound messages,
// configured from SPEC_FULL.md §4.12. Grounded on
// internal/relay/bandwidth.go's per-user limiter-map pattern. A rate of 0
// means unlimited — no limiter is created and Wait is a no-op.
type PeerRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateVal  rate.Limit
	burst    int
}

// NewPeerRateLimiter creates a limiter with the given sustained rate
// (bytes/sec, 0 = unlimited) and burst (bytes).
func NewPeerRateLimiter(bytesPerSec, burst int) *PeerRateLimiter {
	return &PeerRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(bytesPerSec),
		burst:    burst,
	}
}

// Wait blocks until peerID's limiter allows n bytes, chunking at the burst
// size for messages larger than it, or ctx is cancelled.
func (p *PeerRateLimiter) Wait(ctx context.Context, peerID string, n int) error {
	if p.rateVal <= 0 {
		return nil
	}
	lim := p.limiter(peerID)
	if n <= p.burst {
		return lim.WaitN(ctx, n)
	}
	for n > 0 {
		chunk := n
		if chunk > p.burst {
			chunk = p.burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (p *PeerRateLimiter) limiter(peerID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[peerID]
	if !ok {
		lim = rate.NewLimiter(p.rateVal, p.burst)
		p.limiters[peerID] = lim
	}
	return lim
}

// SetRate updates the sustained rate and burst applied to every peer,
// existing and future — e.g. on a config hot-reload. Already-created
// per-peer limiters are dropped so the next Wait call picks up the new
// values.
func (p *PeerRateLimiter) SetRate(bytesPerSec, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateVal = rate.Limit(bytesPerSec)
	p.burst = burst
	p.limiters = make(map[string]*rate.Limiter)
}

// Forget drops a peer's limiter, e.g. once its connection is closed.
func (p *PeerRateLimiter) Forget(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, peerID)
}
