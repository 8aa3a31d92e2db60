package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"0 8 * * *", "@daily", "@every 30m", "0 0 8 * * MON-FRI"} {
		if err := Validate(spec); err != nil {
			t.Fatalf("Validate(%q): %v", spec, err)
		}
	}
	if err := Validate("every morning"); err == nil {
		t.Fatalf("expected error for bad spec")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("not a spec", nil, false, nil)
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunOnStart(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	ran := make(chan time.Time, 1)
	s := NewCronScheduler("@every 1h", loc, true, nil)
	if err := s.Start(context.Background(), func(at time.Time) { ran <- at }); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case at := <-ran:
		if at.Location() != loc {
			t.Fatalf("job time not in scheduler location: %v", at.Location())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not run on start")
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	s := NewCronScheduler("@every 1h", nil, true, nil)
	if err := s.Start(context.Background(), func(time.Time) {
		close(started)
		<-release
		close(finished)
	}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatalf("expected Stop to time out while the job runs")
	}

	close(release)
	<-finished
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	if err := NewCronScheduler("@daily", nil, false, nil).Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}
