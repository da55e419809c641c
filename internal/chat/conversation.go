package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zoterag/zoterag/internal/provider"
)

// Trim defaults. The controller passes a larger character budget; these
// are the store's own conservative bounds.
const (
	DefaultMaxMessages = 20
	DefaultMaxChars    = 8000
)

// NewSessionID mints an identifier for a fresh conversation.
func NewSessionID() string {
	return uuid.NewString()
}

// Store keeps conversation histories in memory, one message list per
// session. Sessions are created lazily and seeded with the system
// prompt, so the first Messages call on an unknown id returns a
// one-message history rather than nothing.
type Store struct {
	mu           sync.Mutex
	sessions     map[string][]provider.Message
	systemPrompt string
}

// NewStore returns an empty store seeding new sessions with the
// academic system prompt.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string][]provider.Message),
		systemPrompt: SystemPrompt(),
	}
}

// Messages returns a copy of the session history in chronological
// order, creating the session when it does not exist yet.
func (s *Store) Messages(sessionID string) []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.ensure(sessionID)
	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Append adds one turn to the session history.
func (s *Store) Append(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensure(sessionID)
	s.sessions[sessionID] = append(s.sessions[sessionID], provider.Message{Role: role, Content: content})
}

// Clear forgets a session.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
}

// Count reports how many sessions the store holds.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// ensure returns the session's message list, creating and seeding it
// when missing. Callers hold the mutex.
func (s *Store) ensure(sessionID string) []provider.Message {
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = []provider.Message{
			{Role: provider.RoleSystem, Content: s.systemPrompt},
		}
	}
	return s.sessions[sessionID]
}

// Trim bounds a history for the model's context window. The leading
// system message always survives. Conversation messages are kept newest
// first until one would overflow either cap, so the result is the most
// recent contiguous run that fits. Histories already within both caps
// come back unchanged.
func Trim(messages []provider.Message, maxMessages, maxChars int) []provider.Message {
	if len(messages) == 0 {
		return nil
	}

	var system *provider.Message
	conv := messages
	if messages[0].Role == provider.RoleSystem {
		system = &messages[0]
		conv = messages[1:]
	}

	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	if len(conv) <= maxMessages && total <= maxChars {
		return messages
	}

	chars := 0
	if system != nil {
		chars = len(system.Content)
	}
	kept := 0
	for i := len(conv) - 1; i >= 0; i-- {
		if kept >= maxMessages || chars+len(conv[i].Content) > maxChars {
			break
		}
		kept++
		chars += len(conv[i].Content)
	}

	out := make([]provider.Message, 0, kept+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, conv[len(conv)-kept:]...)
}
