package docbase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerTimeoutSweep watches a table of in-flight request ids and
// synthesizes ErrWorkerTimeout for any entry still unmatched after
// ceiling has elapsed, the behavior spec §6 describes for a database
// hosted in a child process over an RPC boundary. The core scheduler
// itself never raises this error; only a hosting wrapper that chooses to
// run a sweep does.
type WorkerTimeoutSweep struct {
	ceiling time.Duration
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWorkerTimeoutSweep builds a sweep with the default 60s ceiling used
// throughout spec §6 when ceiling is zero.
func NewWorkerTimeoutSweep(ceiling time.Duration) *WorkerTimeoutSweep {
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	return &WorkerTimeoutSweep{
		ceiling: ceiling,
		// one sweep tick per second is plenty for a 60s ceiling; rate.Limiter
		// paces the sweep loop itself rather than individual requests.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		pending: make(map[string]time.Time),
	}
}

// Track registers id as awaiting a response as of now.
func (s *WorkerTimeoutSweep) Track(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = time.Now()
}

// Resolve removes id once its response has been matched.
func (s *WorkerTimeoutSweep) Resolve(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Run blocks, periodically sweeping for expired ids and invoking onTimeout
// for each, until ctx is canceled.
func (s *WorkerTimeoutSweep) Run(ctx context.Context, onTimeout func(id string)) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		now := time.Now()
		var expired []string
		s.mu.Lock()
		for id, t := range s.pending {
			if now.Sub(t) > s.ceiling {
				expired = append(expired, id)
				delete(s.pending, id)
			}
		}
		s.mu.Unlock()
		for _, id := range expired {
			onTimeout(id)
		}
	}
}

// counterRetryLimiter is a process-wide limiter that allows one tick every
// 200ms, exposed through WaitCounterRetry. The counter package does not
// call it: a Counter serializes access with its own mutex and has no retry
// loop.
var counterRetryLimiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)

// WaitCounterRetry blocks until the next permitted retry tick or ctx is
// canceled.
func WaitCounterRetry(ctx context.Context) error {
	return counterRetryLimiter.Wait(ctx)
}
