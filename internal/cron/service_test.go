package cron

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/logging"
)

func TestService_RunsRegisteredJob(t *testing.T) {
	s := NewService(logging.NewNop())

	var runs atomic.Int64
	s.Register("tick", "* * * * * *", func() error { // every second
		runs.Add(1)
		return nil
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestService_RecordsStatus(t *testing.T) {
	s := NewService(logging.NewNop())
	s.Register("failing", "* * * * * *", func() error {
		return errors.New("boom")
	})

	// Drive the job directly instead of waiting on the scheduler.
	s.executeJob(s.jobs[0])

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].LastError != "boom" {
		t.Errorf("lastError = %q, want boom", jobs[0].LastError)
	}
	if jobs[0].LastRunAt.IsZero() {
		t.Error("lastRunAt not recorded")
	}
}

func TestService_BadExpressionSkipped(t *testing.T) {
	s := NewService(logging.NewNop())
	s.Register("bad", "not a cron expr", func() error { return nil })
	s.Register("good", "0 0 3 * * *", func() error { return nil })

	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	if len(s.entryMap) != 1 {
		t.Errorf("registered entries = %d, want 1: bad expression is skipped", len(s.entryMap))
	}
}

func TestService_StopIsIdempotent(t *testing.T) {
	s := NewService(logging.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.Stop()
	s.Stop()
}
