package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/joe/dirsync/internal/state"
)

// Store persists schedules as one JSON file per pair.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the engine state directory.
func NewStore() (*Store, error) {
	dir, err := state.Dir()
	if err != nil {
		return nil, err
	}

	return &Store{dir: dir}, nil
}

// NewStoreAt creates a store rooted at an explicit directory.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the schedule for a pair, or the default when none has
// been saved.
func (s *Store) Load(localPath, remotePath string) (Schedule, error) {
	var sched Schedule

	found, err := state.ReadJSON(s.path(localPath, remotePath), &sched)
	if err != nil {
		return Default(), fmt.Errorf("failed to load sync schedule: %w", err)
	}

	if !found {
		return Default(), nil
	}

	return sched, nil
}

// Save validates and writes the schedule atomically.
func (s *Store) Save(localPath, remotePath string, sched Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	if err := state.WriteJSON(s.path(localPath, remotePath), sched); err != nil {
		return fmt.Errorf("failed to save sync schedule: %w", err)
	}

	return nil
}

func (s *Store) path(localPath, remotePath string) string {
	return filepath.Join(s.dir, fmt.Sprintf("schedule-%s.json", state.PairKey(localPath, remotePath)))
}

// DefaultTick is how often the scheduler re-reads the schedule and
// checks whether a run is due.
const DefaultTick = 30 * time.Second

// Scheduler periodically checks a pair's schedule and triggers the
// run callback when a sync is due.
type Scheduler struct {
	Clock      clockwork.Clock
	Store      *Store
	LocalPath  string
	RemotePath string
	// Run performs one sync of the pair.
	Run func(ctx context.Context) error
	// Tick overrides DefaultTick when positive.
	Tick time.Duration
}

// Start blocks, firing runs until ctx is cancelled. The schedule file
// is re-read on every tick so edits take effect without a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	tick := s.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	logger := log.WithFields(log.Fields{
		"local":  s.LocalPath,
		"remote": s.RemotePath,
	})
	logger.Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")

			return ctx.Err()
		case <-clock.After(tick):
		}

		sched, err := s.Store.Load(s.LocalPath, s.RemotePath)
		if err != nil {
			logger.WithError(err).Warn("failed to load schedule; skipping tick")

			continue
		}

		now := clock.Now()
		if !sched.ShouldRunNow(now) {
			continue
		}

		logger.Info("scheduled sync starting")

		runErr := s.Run(ctx)
		if runErr != nil {
			logger.WithError(runErr).Error("scheduled sync failed")
		} else {
			logger.Info("scheduled sync completed")
		}

		// Stamp the attempt either way so a failing pair waits out the
		// interval instead of retrying every tick.
		sched.LastSync = clock.Now()
		if err := s.Store.Save(s.LocalPath, s.RemotePath, sched); err != nil {
			logger.WithError(err).Warn("failed to record last sync time")
		}
	}
}
