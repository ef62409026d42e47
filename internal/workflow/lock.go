package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"callpipe/internal/config"
	"callpipe/internal/stage"
)

// ErrStageLocked is returned when another run of the same stage holds the
// stage lock.
var ErrStageLocked = errors.New("stage is already running")

type stageLock struct {
	lock *flock.Flock
}

func acquireStageLock(path string) (*stageLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire stage lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock held at %s)", ErrStageLocked, path)
	}
	return &stageLock{lock: lock}, nil
}

func (l *stageLock) release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

// LockStages takes the run locks of ids in order, so no run of those stages
// can start until the returned release func is called. If any lock is held
// the ones already taken are released and the error wraps ErrStageLocked.
func LockStages(cfg *config.Config, ids ...stage.ID) (func() error, error) {
	held := make([]*stageLock, 0, len(ids))
	release := func() error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			errs = append(errs, held[i].release())
		}
		return errors.Join(errs...)
	}
	for _, id := range ids {
		lock, err := acquireStageLock(cfg.StageLockPath(id.String()))
		if err != nil {
			_ = release()
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}
