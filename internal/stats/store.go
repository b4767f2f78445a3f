package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediagate/internal/persist"
)

// AnonymousUser is the username recorded for unauthenticated callers.
// Anonymous actors are neither tracked nor throttled.
const AnonymousUser = "anonymous"

const defaultFlushDelay = 500 * time.Millisecond

// UserStats are the durable per-user counters. Counts only ever grow.
type UserStats struct {
	Requests   uint64 `json:"requests"`
	Violations uint64 `json:"violations"`
}

// Store keeps per-user request/violation counters in memory and
// persists them to a JSON file. Mutations schedule a deferred flush:
// writes arriving within the quiet window collapse into a single disk
// write. The store owns its map; callers never see the live copy.
type Store struct {
	mu         sync.Mutex
	users      map[string]*UserStats
	path       string
	flushDelay time.Duration
	flushTimer *time.Timer
	dirty      bool
	closed     bool
	logger     *zap.Logger
}

// Open loads persisted counters from path. A missing or unparsable file
// yields an empty store, never an error; only unexpected I/O faults are
// returned.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		users:      make(map[string]*UserStats),
		path:       path,
		flushDelay: defaultFlushDelay,
		logger:     logger.Named("userstats"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		return nil, fmt.Errorf("stats: read %s: %w", path, err)
	default:
		var loaded map[string]*UserStats
		if jsonErr := json.Unmarshal(data, &loaded); jsonErr != nil {
			s.logger.Warn("stats file unparsable, starting empty",
				zap.String("path", path),
				zap.Error(jsonErr),
			)
		} else {
			for user, us := range loaded {
				if user == "" || us == nil {
					continue
				}
				s.users[user] = us
			}
		}
	}

	return s, nil
}

// SetFlushDelay overrides the debounce quiet window. Intended for tests.
func (s *Store) SetFlushDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.flushDelay = d
	}
}

// RecordRequest increments the request counter for user.
// Anonymous or empty usernames are a no-op.
func (s *Store) RecordRequest(user string) {
	s.record(user, func(us *UserStats) { us.Requests++ })
}

// RecordViolation increments the violation counter for user.
// Anonymous or empty usernames are a no-op.
func (s *Store) RecordViolation(user string) {
	s.record(user, func(us *UserStats) { us.Violations++ })
}

func (s *Store) record(user string, bump func(*UserStats)) {
	if user == "" || user == AnonymousUser {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	us, ok := s.users[user]
	if !ok {
		us = &UserStats{}
		s.users[user] = us
	}
	bump(us)
	s.markDirtyLocked()
}

// Get returns a copy of the counters for user, zero-valued when the
// user was never recorded.
func (s *Store) Get(user string) UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us, ok := s.users[user]; ok {
		return *us
	}
	return UserStats{}
}

// All returns a copy of every tracked user's counters.
func (s *Store) All() map[string]UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]UserStats, len(s.users))
	for user, us := range s.users {
		out[user] = *us
	}
	return out
}

// Violator pairs a username with its counters for reporting.
type Violator struct {
	User  string    `json:"user"`
	Stats UserStats `json:"stats"`
	Rate  float64   `json:"rate"`
}

// TopViolators returns up to n users ordered by violation count,
// highest first. Ties break on username for stable output.
func (s *Store) TopViolators(n int) []Violator {
	s.mu.Lock()
	violators := make([]Violator, 0, len(s.users))
	for user, us := range s.users {
		if us.Violations == 0 {
			continue
		}
		violators = append(violators, Violator{
			User:  user,
			Stats: *us,
			Rate:  rate(*us),
		})
	}
	s.mu.Unlock()

	sort.Slice(violators, func(i, j int) bool {
		if violators[i].Stats.Violations != violators[j].Stats.Violations {
			return violators[i].Stats.Violations > violators[j].Stats.Violations
		}
		return violators[i].User < violators[j].User
	})

	if n > 0 && len(violators) > n {
		violators = violators[:n]
	}
	return violators
}

// ViolationRate returns violations/requests for user, 0 when the user
// has no recorded requests.
func (s *Store) ViolationRate(user string) float64 {
	return rate(s.Get(user))
}

func rate(us UserStats) float64 {
	if us.Requests == 0 {
		return 0
	}
	return float64(us.Violations) / float64(us.Requests)
}

// markDirtyLocked arms the debounce timer. Repeated mutations within
// the quiet window reuse the pending flush.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.flushDelay, func() {
		if err := s.Flush(); err != nil {
			s.logger.Error("background flush failed", zap.Error(err))
		}
	})
}

// Flush writes the counters to disk now if anything changed since the
// last write. The file is replaced atomically (temp + rename).
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	snapshot := make(map[string]UserStats, len(s.users))
	for user, us := range s.users {
		snapshot[user] = *us
	}
	path := s.path
	s.mu.Unlock()

	if err := persist.WriteJSONAtomic(path, snapshot); err != nil {
		// Leave a dirty mark so a later mutation or Flush retries.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("stats: persist %s: %w", path, err)
	}

	s.logger.Debug("stats flushed",
		zap.String("path", path),
		zap.Int("users", len(snapshot)),
	)
	return nil
}

// Close flushes pending counters and stops the debounce timer.
// The store rejects mutations afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush()
}
