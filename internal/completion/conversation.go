package completion

import (
	"slices"
	"strings"
	"sync"

	rolecast "github.com/eugener/rolecast/internal"
)

// Store holds conversation histories keyed by conversation id. Message 0 of
// every conversation is the system prompt.
//
// Store is safe for concurrent use, but two exchanges must not run against
// the same id at once: message order within a conversation is call order.
type Store struct {
	mu           sync.Mutex
	convs        map[string][]rolecast.Message
	counter      rolecast.TokenCounter
	systemPrompt string
	maxTokens    int
}

// NewStore creates a Store whose conversations start with systemPrompt and
// are truncated to maxTokens.
func NewStore(counter rolecast.TokenCounter, systemPrompt string, maxTokens int) *Store {
	return &Store{
		convs:        make(map[string][]rolecast.Message),
		counter:      counter,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

// Reset replaces the conversation with a single system message. An empty
// systemPrompt uses the store default. A system prompt over the cap from
// SystemPromptLimit is shortened so the latest message always has room.
func (s *Store) Reset(id, systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(id, systemPrompt)
}

func (s *Store) reset(id, systemPrompt string) {
	if systemPrompt == "" {
		systemPrompt = s.systemPrompt
	}
	systemPrompt = TruncateText(s.counter, systemPrompt, SystemPromptLimit(s.maxTokens))
	s.convs[id] = []rolecast.Message{{Role: rolecast.RoleSystem, Content: systemPrompt}}
}

// Append adds a message, creating the conversation if id is unseen.
func (s *Store) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		s.reset(id, "")
	}
	s.convs[id] = append(s.convs[id], rolecast.Message{Role: role, Content: content})
}

// Truncate fits the conversation into the token budget. The latest message
// is shortened to the budget first, then the oldest messages after the system
// prompt are dropped one at a time. If the system prompt and latest message
// still overflow, the latest message is shortened further.
func (s *Store) Truncate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.convs[id]
	if len(msgs) < 2 {
		return
	}
	n := len(msgs)
	last := msgs[n-1]
	last.Content = TruncateText(s.counter, last.Content, s.maxTokens)
	msgs[n-1] = last

	for len(msgs) > 2 && s.cost(msgs) > s.maxTokens {
		msgs = slices.Delete(msgs, 1, 2)
	}

	budget := s.maxTokens - s.counter.Count(msgs[0].Content)
	for s.cost(msgs) > s.maxTokens && msgs[len(msgs)-1].Content != "" {
		budget--
		msgs[len(msgs)-1].Content = TruncateText(s.counter, msgs[len(msgs)-1].Content, budget)
	}
	s.convs[id] = msgs
}

// DiscardUser removes the latest message if it is a user message, undoing
// the Append of an exchange that got no reply.
func (s *Store) DiscardUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.convs[id]
	if n := len(msgs); n > 1 && msgs[n-1].Role == rolecast.RoleUser {
		s.convs[id] = msgs[:n-1]
	}
}

// Delete forgets the conversation.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

// TokenCost counts the tokens of all message contents joined by newlines.
// It is 0 for an unknown id.
func (s *Store) TokenCost(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost(s.convs[id])
}

func (s *Store) cost(msgs []rolecast.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return s.counter.Count(strings.Join(parts, "\n"))
}

// Messages returns a copy of the conversation, or nil for an unknown id.
func (s *Store) Messages(id string) []rolecast.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.convs[id])
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
