package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeJob struct {
	runs     atomic.Int32
	interval time.Duration
	err      error
}

func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func (j *fakeJob) GetNextRunTime() time.Time {
	return time.Now().Add(j.interval)
}

func TestJobScheduler_RunsAndReschedules(t *testing.T) {
	scheduler := NewJobScheduler()
	job := &fakeJob{interval: 20 * time.Millisecond}
	scheduler.Register("fake", job)
	scheduler.Start()
	defer scheduler.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job.runs.Load() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected at least 2 runs, got %d", job.runs.Load())
}

func TestJobScheduler_StopPreventsFurtherRuns(t *testing.T) {
	scheduler := NewJobScheduler()
	job := &fakeJob{interval: 10 * time.Millisecond}
	scheduler.Register("fake", job)
	scheduler.Start()

	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	before := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	if after := job.runs.Load(); after != before {
		t.Errorf("Job ran after stop: %d -> %d", before, after)
	}
}

func TestJobScheduler_RunNow(t *testing.T) {
	scheduler := NewJobScheduler()
	job := &fakeJob{interval: time.Hour}
	scheduler.Register("fake", job)

	if err := scheduler.RunNow("fake"); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if job.runs.Load() != 1 {
		t.Errorf("Expected 1 run, got %d", job.runs.Load())
	}

	// Unknown job is a no-op
	if err := scheduler.RunNow("nope"); err != nil {
		t.Errorf("RunNow on unknown job returned error: %v", err)
	}
}

func TestNotificationCleanup_NextRunIsThreeAM(t *testing.T) {
	job := NewNotificationCleanupJob(nil, 0)

	next := job.GetNextRunTime()
	if !next.After(time.Now()) {
		t.Errorf("Next run should be in the future, got %v", next)
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Expected 03:00, got %02d:%02d", next.Hour(), next.Minute())
	}
	if next.Sub(time.Now()) > 24*time.Hour {
		t.Errorf("Next run more than a day away: %v", next)
	}
}
