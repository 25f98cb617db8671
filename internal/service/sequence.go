package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/turnforge/internal/adapter/otel"
	"github.com/Strob0t/turnforge/internal/port/counter"
	"github.com/Strob0t/turnforge/internal/port/database"
	"github.com/Strob0t/turnforge/internal/resilience"
)

// DefaultSequenceTTL is how long an idle session's counter key survives.
const DefaultSequenceTTL = 7 * 24 * time.Hour

// SequenceAllocator issues per-session sequence numbers starting at 0.
//
// The fast path increments a shared counter keyed by sequence:{sessionID}.
// A missing key is seeded from storage so an expired key continues where the
// log left off. When the counter is unavailable the allocator falls back to
// max(sequence_number)+1 in storage. Two fallback allocations racing on the
// same session can return the same number; that window exists only during a
// counter outage.
//
// A fallback allocation leaves the counter behind storage. The session is
// marked stale and its next counter increment is floored at the highest
// number handed out since, so the counter never reissues a fallback number.
type SequenceAllocator struct {
	counter counter.Counter
	repo    database.EventRepository
	ttl     time.Duration
	breaker *resilience.Breaker
	metrics *cfotel.Metrics

	mu    sync.Mutex
	stale map[string]int64 // sessionID -> numbers issued by fallback so far
}

// NewSequenceAllocator creates an allocator. c may be nil, in which case every
// allocation uses the storage query.
func NewSequenceAllocator(c counter.Counter, repo database.EventRepository, ttl time.Duration) *SequenceAllocator {
	if ttl <= 0 {
		ttl = DefaultSequenceTTL
	}
	return &SequenceAllocator{counter: c, repo: repo, ttl: ttl, stale: make(map[string]int64)}
}

// SetBreaker guards counter calls with b. While the breaker is open,
// allocations go straight to storage.
func (a *SequenceAllocator) SetBreaker(b *resilience.Breaker) { a.breaker = b }

// SetMetrics records fallback allocations on m.
func (a *SequenceAllocator) SetMetrics(m *cfotel.Metrics) { a.metrics = m }

// Next returns the next sequence number for sessionID. It fails only when
// both the counter and the storage fallback fail.
func (a *SequenceAllocator) Next(ctx context.Context, sessionID string) (int64, error) {
	if a.counter != nil {
		seq, err := a.increment(ctx, sessionID)
		if err == nil {
			return seq, nil
		}
		slog.ErrorContext(ctx, "sequence counter unavailable, using storage fallback",
			"session_id", sessionID, "error", err)
	}

	seq, err := a.repo.NextSequence(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("sequence fallback for session %s: %w", sessionID, err)
	}
	if a.counter != nil {
		a.markStale(sessionID, seq+1)
	}
	if a.metrics != nil {
		a.metrics.SequenceFallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("counter.configured", a.counter != nil),
		))
	}
	return seq, nil
}

func (a *SequenceAllocator) increment(ctx context.Context, sessionID string) (int64, error) {
	seed := func(ctx context.Context) (int64, error) {
		return a.repo.NextSequence(ctx, sessionID)
	}

	floor := a.floor(ctx, sessionID)

	var count int64
	call := func() error {
		var err error
		count, err = a.counter.Increment(ctx, sequenceKey(sessionID), a.ttl, floor, seed)
		return err
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return 0, err
	}
	if floor > 0 {
		a.clearStale(sessionID, floor)
	}
	// The counter holds how many numbers were handed out; the newest is one less.
	return count - 1, nil
}

// floor returns the value the counter must be raised to before it may issue
// another number for sessionID. It is 0 unless a fallback ran since the last
// counter success.
func (a *SequenceAllocator) floor(ctx context.Context, sessionID string) int64 {
	a.mu.Lock()
	issued, ok := a.stale[sessionID]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	// Other instances may have fallen back too; storage knows about them.
	stored, err := a.repo.NextSequence(ctx, sessionID)
	if err != nil {
		slog.WarnContext(ctx, "sequence floor from storage failed", "session_id", sessionID, "error", err)
		return issued
	}
	return max(issued, stored)
}

func (a *SequenceAllocator) markStale(sessionID string, issued int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if issued > a.stale[sessionID] {
		a.stale[sessionID] = issued
	}
}

// clearStale drops the mark unless a fallback issued past floor meanwhile.
func (a *SequenceAllocator) clearStale(sessionID string, floor int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stale[sessionID] <= floor {
		delete(a.stale, sessionID)
	}
}

func sequenceKey(sessionID string) string {
	return "sequence:" + sessionID
}
