package workflow

import (
	"sync"
	"time"

	"callpipe/internal/records"
	"callpipe/internal/stage"
	"callpipe/internal/stageexec"
)

// Summary aggregates the outcomes of one run.
type Summary struct {
	RunID      string
	Stage      stage.ID
	Pending    int
	Processed  int
	Succeeded  int
	Failed     int
	NotFound   int
	NoSource   int
	Unresolved int
	Duration   time.Duration
}

// Remaining is the number of pending items the run never reached.
func (s Summary) Remaining() int {
	return max(s.Pending-s.Processed, 0)
}

type tally struct {
	mu      sync.Mutex
	summary Summary
}

func (t *tally) add(result stageexec.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Processed++
	if result.Unresolved {
		t.summary.Unresolved++
		return
	}
	switch result.Status {
	case records.StatusSuccess:
		t.summary.Succeeded++
	case records.StatusNotFound:
		t.summary.NotFound++
	case records.StatusNoSource:
		t.summary.NoSource++
	default:
		t.summary.Failed++
	}
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}
