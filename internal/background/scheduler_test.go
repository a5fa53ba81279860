package background

import (
	"errors"
	"testing"
	"time"
)

// TestJob_CompleteOnce verifies that only the first completion counts and that
// extra calls remain observable.
func TestJob_CompleteOnce(t *testing.T) {
	job := newJob(JobIdentifier)

	job.Complete(true)
	job.Complete(false)

	done, success := job.Completed()
	if !done {
		t.Fatal("Completed() done = false, want true")
	}
	if !success {
		t.Error("Completed() success = false, want first call's outcome")
	}
	if job.CompleteCalls() != 2 {
		t.Errorf("CompleteCalls() = %d, want 2", job.CompleteCalls())
	}
}

// TestJob_Expire verifies that the expiration signal is delivered once and is
// observable through Expired.
func TestJob_Expire(t *testing.T) {
	job := newJob(JobIdentifier)

	select {
	case <-job.Expired():
		t.Fatal("Expired() closed before expire()")
	default:
	}

	job.expire()
	job.expire() // second call must not panic

	select {
	case <-job.Expired():
	default:
		t.Fatal("Expired() not closed after expire()")
	}
}

// TestJob_CompleteExpired verifies that scheduler-driven failure completion
// does not count as a handler Complete call, so a late handler completion is
// not misread as a double-complete.
func TestJob_CompleteExpired(t *testing.T) {
	job := newJob(JobIdentifier)

	job.completeExpired()

	done, success := job.Completed()
	if !done || success {
		t.Fatalf("Completed() = (%v, %v), want (true, false)", done, success)
	}
	if job.CompleteCalls() != 0 {
		t.Errorf("CompleteCalls() = %d, want 0 (expiry is not a handler call)", job.CompleteCalls())
	}

	// The handler's own late completion is ignored but counted.
	job.Complete(true)
	if _, success := job.Completed(); success {
		t.Error("late Complete(true) overrode the expired outcome")
	}
	if job.CompleteCalls() != 1 {
		t.Errorf("CompleteCalls() = %d, want 1", job.CompleteCalls())
	}
}

// TestGocronScheduler_RegisterTwice verifies that re-registering an identifier
// is rejected.
func TestGocronScheduler_RegisterTwice(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	if err := s.Register(JobIdentifier, func(*Job) {}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if err := s.Register(JobIdentifier, func(*Job) {}); err == nil {
		t.Fatal("second Register() error = nil, want error")
	}
}

// TestGocronScheduler_SubmitUnregistered verifies that submitting an unknown
// identifier fails with ErrNotPermitted.
func TestGocronScheduler_SubmitUnregistered(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	err := s.Submit(Request{Identifier: "never.registered", EarliestBeginDate: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("Submit() error = %v, want ErrNotPermitted", err)
	}
}

// TestGocronScheduler_SubmitAfterStop verifies that a stopped scheduler
// refuses submissions with ErrUnavailable.
func TestGocronScheduler_SubmitAfterStop(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	if err := s.Register(JobIdentifier, func(*Job) {}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	s.Stop()

	err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Submit() after Stop error = %v, want ErrUnavailable", err)
	}
}

// TestGocronScheduler_ResubmitReplacesPending verifies that re-submitting an
// identifier replaces its pending request instead of stacking a second run.
func TestGocronScheduler_ResubmitReplacesPending(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	if err := s.Register(JobIdentifier, func(*Job) {}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("first Submit() error = %v, want nil", err)
	}
	if err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now().Add(2 * time.Hour)}); err != nil {
		t.Fatalf("second Submit() error = %v, want nil", err)
	}

	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	if pending != 1 {
		t.Errorf("pending requests = %d, want 1", pending)
	}
}

// TestGocronScheduler_TooManyPending verifies the pending-request bound across
// distinct identifiers, and that replacement submissions are exempt from it.
func TestGocronScheduler_TooManyPending(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	begin := time.Now().Add(time.Hour)
	for i := 0; i < maxPendingRequests; i++ {
		id := JobIdentifier + string(rune('a'+i))
		if err := s.Register(id, func(*Job) {}); err != nil {
			t.Fatalf("Register(%s) error = %v, want nil", id, err)
		}
		if err := s.Submit(Request{Identifier: id, EarliestBeginDate: begin}); err != nil {
			t.Fatalf("Submit(%s) error = %v, want nil", id, err)
		}
	}

	if err := s.Register("one.too.many", func(*Job) {}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	err := s.Submit(Request{Identifier: "one.too.many", EarliestBeginDate: begin})
	if !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("Submit() error = %v, want ErrTooManyPending", err)
	}

	// Replacing an existing pending request is still allowed at the bound.
	replaceID := JobIdentifier + "a"
	if err := s.Submit(Request{Identifier: replaceID, EarliestBeginDate: begin}); err != nil {
		t.Errorf("replacement Submit(%s) error = %v, want nil", replaceID, err)
	}
}

// TestGocronScheduler_RunsSubmittedJob verifies that a submitted job actually
// runs once its earliest begin date passes and its completion is consumed.
func TestGocronScheduler_RunsSubmittedJob(t *testing.T) {
	s := NewGocronScheduler(nil, 5*time.Second)
	defer s.Stop()

	ran := make(chan *Job, 1)
	if err := s.Register(JobIdentifier, func(job *Job) {
		ran <- job
		job.Complete(true)
	}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now()}); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	select {
	case job := <-ran:
		if job.Identifier() != JobIdentifier {
			t.Errorf("job.Identifier() = %q, want %q", job.Identifier(), JobIdentifier)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("submitted job never ran")
	}
}

// TestGocronScheduler_RunsPastBeginDatePromptly verifies that an earliest
// begin date already in the past makes the run immediately eligible instead of
// deferring it to a later calendar boundary.
func TestGocronScheduler_RunsPastBeginDatePromptly(t *testing.T) {
	s := NewGocronScheduler(nil, 5*time.Second)
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.Register(JobIdentifier, func(job *Job) {
		ran <- struct{}{}
		job.Complete(true)
	}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job with past begin date never ran")
	}
}

// TestAwaitOutcome_ExpiryWinsOverSimultaneousCompletion verifies that a run
// whose completion and expiration signals land together is labeled expired,
// not failure.
func TestAwaitOutcome_ExpiryWinsOverSimultaneousCompletion(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	for i := 0; i < 50; i++ {
		job := newJob(JobIdentifier)
		job.expire()
		job.completeExpired()

		if outcome := s.awaitOutcome(job); outcome != "expired" {
			t.Fatalf("awaitOutcome() = %q, want %q", outcome, "expired")
		}
	}
}

// TestAwaitOutcome_CompletionBeforeBudget verifies the ordinary labels when no
// expiration signal was delivered.
func TestAwaitOutcome_CompletionBeforeBudget(t *testing.T) {
	s := NewGocronScheduler(nil, time.Second)
	defer s.Stop()

	success := newJob(JobIdentifier)
	success.Complete(true)
	if outcome := s.awaitOutcome(success); outcome != "success" {
		t.Errorf("awaitOutcome(success) = %q, want %q", outcome, "success")
	}

	failure := newJob(JobIdentifier)
	failure.Complete(false)
	if outcome := s.awaitOutcome(failure); outcome != "failure" {
		t.Errorf("awaitOutcome(failure) = %q, want %q", outcome, "failure")
	}
}

// TestGocronScheduler_ExpiresSlowJob verifies that a handler exceeding the
// execution budget receives the expiration signal.
func TestGocronScheduler_ExpiresSlowJob(t *testing.T) {
	s := NewGocronScheduler(nil, 50*time.Millisecond)
	defer s.Stop()

	expired := make(chan struct{}, 1)
	if err := s.Register(JobIdentifier, func(job *Job) {
		select {
		case <-job.Expired():
			expired <- struct{}{}
			job.Complete(false)
		case <-time.After(10 * time.Second):
			job.Complete(true)
		}
	}); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if err := s.Submit(Request{Identifier: JobIdentifier, EarliestBeginDate: time.Now()}); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	select {
	case <-expired:
	case <-time.After(15 * time.Second):
		t.Fatal("slow job never received the expiration signal")
	}
}
