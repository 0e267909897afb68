// Package tokenpool manages exclusive leases over a fixed set of worker
// credentials. At most one job holds a given token at any instant, waiters
// are served in FIFO order, and every assignment and release is recorded in
// the timing collector.
package tokenpool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/relay/internal/timing"
)

// ErrPoolExhausted is returned when no token becomes available within the
// caller's wait budget.
var ErrPoolExhausted = errors.New("no token available within wait budget")

// Token is a leasable credential unit. Mutable fields are guarded by the
// owning pool's lock; callers only read the immutable ID and Credential.
type Token struct {
	// ID identifies the token in events and reports.
	ID string
	// Credential is the secret injected into worker processes.
	Credential string

	holder     string
	uses       int
	heldFor    time.Duration
	acquiredAt time.Time
}

// waiter is one queued Acquire call. delivered is set under the pool lock so
// the ctx-expiry path can tell whether a token was handed over concurrently.
type waiter struct {
	jobID     string
	ch        chan *Token
	delivered bool
}

// Pool hands out exclusive token leases. The pool size is fixed at startup;
// tokens are never created or destroyed afterwards.
type Pool struct {
	mu        sync.Mutex
	tokens    []*Token
	free      []*Token
	waiters   *list.List
	collector *timing.Collector
}

// New creates a pool with one token per credential. Token IDs are assigned
// positionally (token-1, token-2, ...).
func New(credentials []string, collector *timing.Collector) (*Pool, error) {
	if len(credentials) == 0 {
		return nil, fmt.Errorf("token pool requires at least one credential")
	}
	p := &Pool{
		waiters:   list.New(),
		collector: collector,
	}
	for i, cred := range credentials {
		tok := &Token{ID: fmt.Sprintf("token-%d", i+1), Credential: cred}
		p.tokens = append(p.tokens, tok)
		p.free = append(p.free, tok)
	}
	return p, nil
}

// Acquire leases a token for jobID, blocking until one is available or ctx
// expires. Expiry returns an error wrapping ErrPoolExhausted. Fairness is
// FIFO: a free token is never handed to a newcomer while older waiters are
// queued.
func (p *Pool) Acquire(ctx context.Context, jobID string) (*Token, error) {
	p.mu.Lock()
	if tok := p.takeFreeLocked(jobID); tok != nil {
		p.mu.Unlock()
		p.recordAssigned(tok, jobID)
		return tok, nil
	}

	w := &waiter{jobID: jobID, ch: make(chan *Token, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case tok := <-w.ch:
		p.recordAssigned(tok, jobID)
		return tok, nil
	case <-ctx.Done():
		p.mu.Lock()
		if w.delivered {
			// A release raced our expiry; the token is already ours.
			p.mu.Unlock()
			tok := <-w.ch
			p.recordAssigned(tok, jobID)
			return tok, nil
		}
		p.waiters.Remove(elem)
		p.mu.Unlock()
		return nil, fmt.Errorf("acquire token for job %s: %w: %v", jobID, ErrPoolExhausted, ctx.Err())
	}
}

// TryAcquire leases a token without blocking. It fails when no token is free
// or when older waiters are queued, preserving FIFO fairness.
func (p *Pool) TryAcquire(jobID string) (*Token, bool) {
	p.mu.Lock()
	tok := p.takeFreeLocked(jobID)
	p.mu.Unlock()

	if tok == nil {
		return nil, false
	}
	p.recordAssigned(tok, jobID)
	return tok, true
}

// takeFreeLocked hands out a free token iff no one is queued ahead.
// Caller must hold p.mu.
func (p *Pool) takeFreeLocked(jobID string) *Token {
	if p.waiters.Len() > 0 || len(p.free) == 0 {
		return nil
	}
	tok := p.free[0]
	p.free = p.free[1:]
	p.leaseLocked(tok, jobID)
	return tok
}

// leaseLocked marks a token held. Caller must hold p.mu.
func (p *Pool) leaseLocked(tok *Token, jobID string) {
	tok.holder = jobID
	tok.uses++
	tok.acquiredAt = time.Now()
}

// Release returns a leased token to the pool. If waiters are queued, the
// token is handed directly to the oldest one.
func (p *Pool) Release(tok *Token) {
	p.mu.Lock()
	releasedBy := tok.holder
	held := time.Since(tok.acquiredAt)
	tok.heldFor += held
	tok.holder = ""

	var next *waiter
	if elem := p.waiters.Front(); elem != nil {
		next = p.waiters.Remove(elem).(*waiter)
		next.delivered = true
		p.leaseLocked(tok, next.jobID)
	} else {
		p.free = append(p.free, tok)
	}
	p.mu.Unlock()

	p.record(timing.Event{
		Type:     timing.EventTokenReleased,
		TokenID:  tok.ID,
		JobID:    releasedBy,
		Success:  true,
		Duration: held,
	})
	if next != nil {
		// The assigned event is emitted by the waiter's Acquire path once it
		// observes the delivery; only the channel send happens here.
		next.ch <- tok
	}
}

// recordAssigned emits the token_assigned event for a fresh lease.
func (p *Pool) recordAssigned(tok *Token, jobID string) {
	p.record(timing.Event{
		Type:    timing.EventTokenAssigned,
		TokenID: tok.ID,
		JobID:   jobID,
		Success: true,
	})
}

func (p *Pool) record(e timing.Event) {
	if p.collector != nil {
		p.collector.Record(e)
	}
}

// Size returns the fixed number of tokens in the pool.
func (p *Pool) Size() int {
	return len(p.tokens)
}

// Available returns how many tokens are currently free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Waiting returns how many Acquire calls are queued.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

// TokenStats is a point-in-time view of one token's usage.
type TokenStats struct {
	// ID identifies the token.
	ID string `json:"id"`
	// InUse is true while a job holds the token.
	InUse bool `json:"in_use"`
	// Holder is the job currently holding the token, if any.
	Holder string `json:"holder,omitempty"`
	// Uses is the number of leases served.
	Uses int `json:"uses"`
	// HeldFor is the cumulative time the token has been held.
	HeldFor time.Duration `json:"held_for_us"`
}

// Stats returns usage counters for every token, in pool order.
func (p *Pool) Stats() []TokenStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TokenStats, 0, len(p.tokens))
	for _, tok := range p.tokens {
		held := tok.heldFor
		if tok.holder != "" {
			held += time.Since(tok.acquiredAt)
		}
		out = append(out, TokenStats{
			ID:      tok.ID,
			InUse:   tok.holder != "",
			Holder:  tok.holder,
			Uses:    tok.uses,
			HeldFor: held,
		})
	}
	return out
}
