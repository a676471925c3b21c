package convmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/supervisor/domain"
)

// MemStore is an in-memory ConversationStore/HistorySink, the default used
// by tests and the harness (spec §4.7). A per-conversation lock (via the
// package-wide mutex) serializes concurrent AppendMessage calls from two
// runs of the same conversationId, matching spec §3's "ConversationStore —
// conversation-scoped serialization" requirement, collapsed here to one
// mutex guarding the whole map since this backend is single-process only.
type MemStore struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{convs: make(map[string]*domain.Conversation)}
}

var _ ConversationStore = (*MemStore)(nil)
var _ HistorySink = (*MemStore)(nil)

func (s *MemStore) Create(ctx context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.convs[conv.ID]; exists {
		return nil
	}
	cp := conv
	cp.Messages = nil
	s.convs[conv.ID] = &cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	cp := *c
	cp.Messages = nil // Get never loads messages (spec §4.7 step 5's sibling invariant)
	return cp, nil
}

func (s *MemStore) List(ctx context.Context) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		cp := *c
		cp.Messages = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok || len(c.Messages) == 0 {
		return nil, nil
	}
	msgs := c.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		c = &domain.Conversation{ID: conversationID, CreatedAt: msg.CreatedAt}
		s.convs[conversationID] = c
	}
	c.Messages = append(c.Messages, msg)
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	} else {
		c.UpdatedAt = time.Now()
	}
	return nil
}

// RecordAssistantMessage implements HistorySink by delegating to
// AppendMessage.
func (s *MemStore) RecordAssistantMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	return s.AppendMessage(ctx, conversationID, msg)
}
