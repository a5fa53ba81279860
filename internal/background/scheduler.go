// Package background implements the scheduled refresh of favorited cities:
// a task scheduler boundary modeled on OS background-task APIs (register a
// stable identifier once, submit runs with an earliest begin date, complete
// exactly once within a hard time budget) and the refresher that performs the
// work.
package background

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/weatherdash/weather-dashboard/internal/observability"
)

// JobIdentifier is the stable identifier bound to the refresh handler.
const JobIdentifier = "weather-dashboard.refresh"

// MinInterval is the minimum delay between a submission and its run.
const MinInterval = 4 * time.Hour

// ExecutionBudget is the hard wall-clock limit for one run. When it elapses
// the job receives an expiration signal and must report failure immediately.
const ExecutionBudget = 30 * time.Second

// completionGrace is how long the scheduler waits for the completion signal
// after expiration before declaring a protocol violation.
const completionGrace = 5 * time.Second

// maxPendingRequests bounds distinct identifiers with a pending submission.
const maxPendingRequests = 10

// Submission failures. These are schedule-time diagnostics only; they never
// enter the run state machine.
var (
	// ErrNotPermitted: the identifier was never registered.
	ErrNotPermitted = errors.New("background scheduling not permitted for identifier")
	// ErrUnavailable: the scheduler is stopped or not running.
	ErrUnavailable = errors.New("background scheduler unavailable")
	// ErrTooManyPending: too many identifiers already have pending requests.
	ErrTooManyPending = errors.New("too many pending background requests")
)

// Request asks for one future run of a registered identifier.
type Request struct {
	Identifier        string
	EarliestBeginDate time.Time
}

// Handler is the executor callback invoked when a run starts. It must call
// job.Complete exactly once, and must watch job.Expired.
type Handler func(job *Job)

// TaskScheduler is the boundary the refresher schedules through.
type TaskScheduler interface {
	// Register binds identifier to handler. Must be called exactly once per
	// identifier per process, before any Submit.
	Register(identifier string, handler Handler) error
	// Submit schedules a run no earlier than req.EarliestBeginDate.
	// Re-submitting an identifier replaces its pending request.
	Submit(req Request) error
	Stop()
}

// Job is one running background task instance. Complete must be called
// exactly once; the one-shot guard makes double-completion observable instead
// of corrupting the outcome.
type Job struct {
	identifier string
	expired    chan struct{}
	expireOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	success    atomic.Bool
	completes  atomic.Int32
}

func newJob(identifier string) *Job {
	return &Job{
		identifier: identifier,
		expired:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Identifier returns the job's registered identifier.
func (j *Job) Identifier() string { return j.identifier }

// Expired is closed when the execution budget is exhausted. In-flight work
// must be abandoned and failure reported immediately.
func (j *Job) Expired() <-chan struct{} { return j.expired }

// Complete reports the run's terminal outcome. Only the first call counts.
func (j *Job) Complete(success bool) {
	j.completes.Add(1)
	j.doneOnce.Do(func() {
		j.success.Store(success)
		close(j.done)
	})
}

// Completed reports whether Complete has been called, and with what outcome.
func (j *Job) Completed() (done bool, success bool) {
	select {
	case <-j.done:
		return true, j.success.Load()
	default:
		return false, false
	}
}

// CompleteCalls returns how many times Complete was invoked. More than one is
// a handler bug.
func (j *Job) CompleteCalls() int { return int(j.completes.Load()) }

func (j *Job) expire() {
	j.expireOnce.Do(func() { close(j.expired) })
}

// completeExpired reports failure on behalf of an expired job without
// counting as a handler Complete call, so the handler's own (late, ignored)
// completion is not misdiagnosed as a double-complete.
func (j *Job) completeExpired() {
	j.doneOnce.Do(func() {
		j.success.Store(false)
		close(j.done)
	})
}

// GocronScheduler is the in-process TaskScheduler, backed by gocron. It
// honors EarliestBeginDate, enforces ExecutionBudget by delivering the
// expiration signal, and records terminal outcomes.
type GocronScheduler struct {
	logger *zap.Logger
	sched  *gocron.Scheduler
	budget time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*gocron.Job
	stopped  bool
}

var _ TaskScheduler = (*GocronScheduler)(nil)

// NewGocronScheduler creates and starts a scheduler. budget <= 0 uses
// ExecutionBudget.
func NewGocronScheduler(logger *zap.Logger, budget time.Duration) *GocronScheduler {
	if budget <= 0 {
		budget = ExecutionBudget
	}
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()
	return &GocronScheduler{
		logger:   logger,
		sched:    s,
		budget:   budget,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*gocron.Job),
	}
}

// Register binds identifier to handler. Registering twice is a programming
// error and fails.
func (s *GocronScheduler) Register(identifier string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[identifier]; ok {
		return errors.New("identifier already registered: " + identifier)
	}
	s.handlers[identifier] = handler
	return nil
}

// Submit schedules one run of identifier no earlier than EarliestBeginDate.
func (s *GocronScheduler) Submit(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrUnavailable
	}
	handler, ok := s.handlers[req.Identifier]
	if !ok {
		return ErrNotPermitted
	}
	if _, replacing := s.pending[req.Identifier]; !replacing && len(s.pending) >= maxPendingRequests {
		return ErrTooManyPending
	}

	// A new submission for the same identifier replaces the pending one.
	if prev, ok := s.pending[req.Identifier]; ok {
		s.sched.RemoveByReference(prev)
		delete(s.pending, req.Identifier)
	}

	startAt := req.EarliestBeginDate
	if startAt.IsZero() {
		startAt = time.Now()
	}
	// gocron anchors a StartAt at or before now to a daily cadence and defers
	// the run to the next day boundary. A duration one-shot fires at the
	// begin date for past, present, and future dates alike.
	delay := time.Until(startAt)
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	job, err := s.sched.Every(delay).LimitRunsTo(1).Do(func() {
		s.clearPending(req.Identifier)
		s.run(req.Identifier, handler)
	})
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	s.pending[req.Identifier] = job
	if s.logger != nil {
		s.logger.Info("background run scheduled",
			zap.String("identifier", req.Identifier),
			zap.Time("earliest_begin", startAt))
	}
	return nil
}

func (s *GocronScheduler) clearPending(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, identifier)
}

// run drives one job through the state machine: start the handler, arm the
// expiration timer, and wait for exactly one completion signal.
func (s *GocronScheduler) run(identifier string, handler Handler) {
	start := time.Now()
	job := newJob(identifier)
	timer := time.AfterFunc(s.budget, job.expire)
	defer timer.Stop()

	go handler(job)

	outcome := s.awaitOutcome(job)

	if job.CompleteCalls() > 1 && s.logger != nil {
		s.logger.Error("background job completed more than once",
			zap.String("identifier", identifier),
			zap.Int("complete_calls", job.CompleteCalls()))
	}

	observability.BackgroundRunsTotal.WithLabelValues(outcome).Inc()
	observability.BackgroundRunDuration.Observe(time.Since(start).Seconds())
	if s.logger != nil {
		s.logger.Info("background run finished",
			zap.String("identifier", identifier),
			zap.String("outcome", outcome),
			zap.Duration("duration", time.Since(start)))
	}
}

// awaitOutcome blocks until the job reaches a terminal state and labels it.
// The expiration watcher closes the completion and expiration channels
// near-simultaneously, so expiry is checked again when completion fires: an
// expired run must never be counted as an ordinary failure.
func (s *GocronScheduler) awaitOutcome(job *Job) string {
	select {
	case <-job.done:
		select {
		case <-job.expired:
			return "expired"
		default:
		}
		if _, success := job.Completed(); success {
			return "success"
		}
		return "failure"
	case <-job.expired:
		// The handler owes an immediate failure report after expiration.
		select {
		case <-job.done:
		case <-time.After(completionGrace):
			if s.logger != nil {
				s.logger.Error("background job never completed after expiration",
					zap.String("identifier", job.identifier))
			}
		}
		return "expired"
	}
}

// Stop cancels pending requests and stops the underlying scheduler.
func (s *GocronScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = make(map[string]*gocron.Job)
	s.mu.Unlock()
	s.sched.Stop()
}
