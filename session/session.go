package session

import (
	"sync"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode distinguishes push-to-talk connections from open-microphone calls.
type Mode int

const (
	OneShot Mode = iota
	Continuous
)

func (m Mode) String() string {
	if m == Continuous {
		return "continuous"
	}
	return "oneshot"
}

// TurnRecord is one entry of the conversation history.
type TurnRecord struct {
	Role Role
	Text string
}

// Session is the conversational state of a single connection.
type Session struct {
	ID   string
	Mode Mode

	mu           sync.Mutex
	turns        []TurnRecord
	lastActivity time.Time
	callActive   bool
	inTurn       int
}

// Turns returns a copy of the history, oldest first.
func (s *Session) Turns() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnRecord, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Append(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, TurnRecord{Role: role, Text: text})
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) CallActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callActive
}

// SetCallActive records the call state and reports whether it changed.
func (s *Session) SetCallActive(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callActive == active {
		return false
	}
	s.callActive = active
	return true
}

// BeginTurn marks the session busy so the idle sweep leaves it alone.
func (s *Session) BeginTurn() {
	s.mu.Lock()
	s.inTurn++
	s.mu.Unlock()
}

func (s *Session) EndTurn() {
	s.mu.Lock()
	if s.inTurn > 0 {
		s.inTurn--
	}
	s.mu.Unlock()
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTurn > 0
}
