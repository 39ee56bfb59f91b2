package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"adcast/internal/model"
)

func testJob(maxLog, trimTo int) *Job {
	return newJob("j1", "p1", 1, 5, "content", 10, time.Now(), maxLog, trimTo)
}

func TestJobRingLogTrims(t *testing.T) {
	t.Parallel()
	j := testJob(500, 300)
	for i := 0; i < 501; i++ {
		j.record(LogEntry{Status: model.DeliverySent, Reason: fmt.Sprint(i)})
	}
	logs := j.Logs(0)
	if len(logs) != 300 {
		t.Fatalf("log length after trim = %d, want 300", len(logs))
	}
	// The tail survives: last entry is the 501st append.
	if logs[len(logs)-1].Reason != "500" {
		t.Fatalf("last entry = %q, want 500", logs[len(logs)-1].Reason)
	}
	if posted, _, _ := j.Counts(); posted != 501 {
		t.Fatalf("posted = %d, counters must not be trimmed", posted)
	}
}

func TestJobRingLogNeverExceedsMax(t *testing.T) {
	t.Parallel()
	j := testJob(500, 300)

	// Concurrent appenders racing a reader: the observable length must never
	// exceed the configured maximum.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := len(j.Logs(0)); n > 500 {
				t.Errorf("observed log length %d > 500", n)
				return
			}
		}
	}()
	var appenders sync.WaitGroup
	for w := 0; w < 4; w++ {
		appenders.Add(1)
		go func() {
			defer appenders.Done()
			for i := 0; i < 500; i++ {
				j.record(LogEntry{Status: model.DeliverySkipped})
			}
		}()
	}
	appenders.Wait()
	close(stop)
	wg.Wait()
}

func TestJobStopIsSticky(t *testing.T) {
	t.Parallel()
	j := testJob(500, 300)
	j.RequestStop()
	j.RequestResume()
	j.RequestPause()
	if !j.StopRequested() {
		t.Fatal("stop flag cleared")
	}
}

func TestJobStats(t *testing.T) {
	t.Parallel()
	j := testJob(500, 300)
	j.record(LogEntry{Status: model.DeliverySent})
	j.record(LogEntry{Status: model.DeliverySent})
	j.record(LogEntry{Status: model.DeliverySent})
	j.record(LogEntry{Status: model.DeliveryFailed})
	j.record(LogEntry{Status: model.DeliverySkipped})

	st := j.Stats()
	if st.PostedGroups != 3 || st.FailedGroups != 1 || st.SkippedGroups != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/1/1", st.PostedGroups, st.FailedGroups, st.SkippedGroups)
	}
	if st.SuccessRate != 0.75 {
		t.Fatalf("success rate = %v, want 0.75 (skips excluded)", st.SuccessRate)
	}
}

func TestJobLogsTail(t *testing.T) {
	t.Parallel()
	j := testJob(500, 300)
	for i := 0; i < 10; i++ {
		j.record(LogEntry{Status: model.DeliverySent, Reason: fmt.Sprint(i)})
	}
	tail := j.Logs(3)
	if len(tail) != 3 || tail[0].Reason != "7" || tail[2].Reason != "9" {
		t.Fatalf("tail = %+v, want entries 7..9", tail)
	}
}
