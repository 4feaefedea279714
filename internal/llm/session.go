package llm

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// historyDepth caps how many turns a chat session keeps. Older turns
// fall off so prompts stay bounded.
const historyDepth = 8

// Message is one chat turn.
type Message struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type Session struct {
	// turn serializes whole chat turns: a second request for the same
	// session queues behind the first instead of racing it.
	turn sync.Mutex

	mu       sync.Mutex
	messages []Message
	lastUsed time.Time
}

// BeginTurn claims the session for one request/reply exchange.
func (s *Session) BeginTurn() { s.turn.Lock() }

// EndTurn releases the session for the next queued exchange.
func (s *Session) EndTurn() { s.turn.Unlock() }

func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	if len(s.messages) > historyDepth {
		s.messages = s.messages[len(s.messages)-historyDepth:]
	}
	s.lastUsed = m.At
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SessionStore keeps in-memory chat sessions. State does not survive a
// restart; clients hold the session id and resume with fresh context.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxIdle  time.Duration
}

// NewSessionStore creates a store that forgets sessions idle longer
// than maxIdle.
func NewSessionStore(maxIdle time.Duration) *SessionStore {
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		maxIdle:  maxIdle,
	}
}

// Acquire returns the session for id, creating it when id is empty or
// unknown, along with the id the caller should continue with.
func (st *SessionStore) Acquire(id string) (string, *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return id, s
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{lastUsed: time.Now()}
	st.sessions[id] = s
	return id, s
}

// Len returns the live session count.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep drops idle sessions. Run it on a ticker from the supervisor.
func (st *SessionStore) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastUsed)
		s.mu.Unlock()
		if idle > st.maxIdle {
			delete(st.sessions, id)
			dropped++
		}
	}
	return dropped
}
