package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskbridgeco/taskbridge/internal/bus"
)

// ErrMediaTimeout is returned when no result arrives before the deadline.
var ErrMediaTimeout = errors.New("media job timeout")

// Job is one in-flight asynchronous media request. Its completion slot is
// filled at most once: the first of result or timeout wins and the waiter
// observes exactly that one outcome.
type Job struct {
	CorrelationID string
	Ref           string
	MimeType      string
	CreatedAt     time.Time

	once sync.Once
	slot chan bus.MediaResult
}

// complete fills the slot. Safe to call from any goroutine; only the first
// call lands.
func (j *Job) complete(res bus.MediaResult) {
	j.once.Do(func() {
		j.slot <- res
	})
}

// Registry correlates asynchronous media results to waiting jobs. Each job
// has an independent slot, so one job's result can never reach another
// job's waiter.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// NewJob registers a media job with a fresh correlation ID.
func (r *Registry) NewJob(ref, mimeType string) *Job {
	j := &Job{
		CorrelationID: uuid.NewString(),
		Ref:           ref,
		MimeType:      mimeType,
		CreatedAt:     time.Now(),
		slot:          make(chan bus.MediaResult, 1),
	}
	r.mu.Lock()
	r.jobs[j.CorrelationID] = j
	r.mu.Unlock()
	return j
}

// Resolve routes a result to its waiting job. Returns false when no job is
// waiting — either an unknown correlation ID or a result that lost the
// race against the timeout; callers log and drop those.
func (r *Registry) Resolve(res bus.MediaResult) bool {
	r.mu.Lock()
	j, ok := r.jobs[res.CorrelationID]
	if ok {
		delete(r.jobs, res.CorrelationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	j.complete(res)
	return true
}

// drop forgets a job after its waiter gave up.
func (r *Registry) drop(correlationID string) {
	r.mu.Lock()
	delete(r.jobs, correlationID)
	r.mu.Unlock()
}

// Pending reports how many jobs are awaiting results.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Wait blocks until the job's slot fills, the timeout elapses, or the
// context is cancelled. A result that lands in the same instant the timer
// fires still wins: the slot is checked once more before giving up.
func (r *Registry) Wait(ctx context.Context, j *Job, timeout time.Duration) (bus.MediaResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-j.slot:
		return res, nil
	case <-timer.C:
		r.drop(j.CorrelationID)
		select {
		case res := <-j.slot:
			return res, nil
		default:
		}
		return bus.MediaResult{}, ErrMediaTimeout
	case <-ctx.Done():
		r.drop(j.CorrelationID)
		select {
		case res := <-j.slot:
			return res, nil
		default:
		}
		return bus.MediaResult{}, ctx.Err()
	}
}
