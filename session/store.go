package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("invalid session ID")

const (
	DefaultIdleTimeout   = time.Hour
	DefaultSweepInterval = time.Hour
)

type Options struct {
	SystemPrompt  string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Logger        *log.Logger

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Store owns every live session. Nothing else keeps a reference to the
// session table.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	prompt   string
	idle     time.Duration
	interval time.Duration
	log      *log.Logger
	now      func() time.Time
	newID    func() string
}

func NewStore(opts Options) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		prompt:   opts.SystemPrompt,
		idle:     opts.IdleTimeout,
		interval: opts.SweepInterval,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.idle <= 0 {
		s.idle = DefaultIdleTimeout
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.log == nil {
		s.log = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Create registers a new session seeded with the system preamble.
func (s *Store) Create(mode Mode) string {
	sess := &Session{
		ID:           s.newID(),
		Mode:         mode,
		lastActivity: s.now(),
	}
	if s.prompt != "" {
		sess.turns = []TurnRecord{{Role: RoleSystem, Text: s.prompt}}
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Debug("session created", "id", sess.ID, "mode", mode)
	return sess.ID
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

func (s *Store) Touch(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.touch(s.now())
	return nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.log.Debug("session deleted", "id", id)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the threshold. Sessions inside a
// turn are skipped regardless of their timestamp.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.busy() {
			continue
		}
		if now.Sub(sess.LastActivity()) > s.idle {
			delete(s.sessions, id)
			removed++
			s.log.Info("swept", "id", id, "mode", sess.Mode)
		}
	}
	return removed
}

// Run sweeps on every interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.log.Info("sweep", "removed", n, "remaining", s.Len())
			}
		}
	}
}
