// Package convmemory implements Conversation Memory (spec §4.7): loading a
// conversation's recent messages, formatting them into the literal history
// block injected into an agent's first turn, and persisting the final
// assistant message once a run completes. Grounded on the teacher's
// runtime/agent/transcript ledger for the provider-message-building idiom,
// generalized here to a conversation-store-backed retrieval/injection layer
// since this spec persists conversations independently of provider replay.
package convmemory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relaymesh/supervisor/domain"
)

// DefaultHistoryLimit is the number of most-recent messages loaded per run
// (spec §4.7 step 1).
const DefaultHistoryLimit = 10

// ConversationStore persists Conversations and their Messages. Conversation
// and Message are stored separately (spec §3): listing conversations never
// loads their messages, and a zero-message conversation is retrievable
// immediately after creation (the empty-conversation-safe invariant).
type ConversationStore interface {
	// Create inserts a new, empty conversation.
	Create(ctx context.Context, conv domain.Conversation) error
	// Get returns the conversation record (without messages) for id. Returns
	// an error satisfying errors.Is(err, ErrNotFound) if id is unknown.
	Get(ctx context.Context, id string) (domain.Conversation, error)
	// List returns every conversation ordered by UpdatedAt descending (spec
	// §4.7 step 5), without loading messages.
	List(ctx context.Context) ([]domain.Conversation, error)
	// RecentMessages returns up to limit of the most recent messages for
	// conversationID, in chronological (oldest-first) order. Returns an
	// empty, nil-error slice for an unknown or empty conversation.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// AppendMessage appends msg to conversationID and bumps the
	// conversation's UpdatedAt, creating the conversation first if it does
	// not yet exist.
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error
}

// HistorySink receives the final assistant message (plus any reasoning
// trace) once a run completes, for persistence via a ConversationStore. Kept
// as a separate interface from ConversationStore so the Supervisor can be
// wired against a minimal surface without importing the full store contract
// (spec §1's "abstracted behind ConversationStore and HistorySink").
type HistorySink interface {
	RecordAssistantMessage(ctx context.Context, conversationID string, msg domain.Message) error
}

// ErrNotFound is returned by ConversationStore.Get for an unknown id.
var ErrNotFound = fmt.Errorf("convmemory: conversation not found")

// roleLabel uppercases a Role for the literal history format (spec §4.7
// step 2: "Role labels are uppercase (USER, ASSISTANT)").
func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "USER"
	case domain.RoleAssistant:
		return "ASSISTANT"
	case domain.RoleSystem:
		return "SYSTEM"
	default:
		return strings.ToUpper(string(r))
	}
}

// BuildHistoryPrefix formats messages into the "Previous conversation:" block
// (spec §4.7 step 2) that agentrunner.composeUserText prepends ahead of the
// "User's current message: {task}" line it owns. BuildHistoryPrefix itself
// stops after the last history line — it does not know the current task and
// must not append a second "User's current message:" trailer, or every
// agent prompt would carry the current turn twice (once from the prefix,
// once from composeUserText's own framing):
//
//	Previous conversation:
//	USER: ...
//	ASSISTANT: ...
//
// Returns "" when messages is empty, satisfying the empty-conversation-safe
// retrieval invariant — a brand new conversation must never inject a
// spurious "Previous conversation:" header, and an empty prefix tells
// composeUserText to send the subtask as-is.
func BuildHistoryPrefix(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation:")
	for _, m := range messages {
		fmt.Fprintf(&b, "\n%s: %s", roleLabel(m.Role), m.Content)
	}
	return b.String()
}

// LoadPrefix loads conversationID's most recent DefaultHistoryLimit messages
// from store and formats them with BuildHistoryPrefix. An empty
// conversationID (no conversation bound to this run) returns "" without
// touching the store, matching BuildHistoryPrefix's "no history" case.
func LoadPrefix(ctx context.Context, store ConversationStore, conversationID string) (string, error) {
	if conversationID == "" {
		return "", nil
	}
	messages, err := store.RecentMessages(ctx, conversationID, DefaultHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("convmemory: load recent messages: %w", err)
	}
	return BuildHistoryPrefix(messages), nil
}

// HasPriorAssistantMessage reports whether messages contains at least one
// assistant-authored message — the fast-path disable gate (spec §4.1,
// resolved per the Open Question in §8 to gate on the assistant turn, not
// the user turn).
func HasPriorAssistantMessage(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Role == domain.RoleAssistant {
			return true
		}
	}
	return false
}

// RecordTurn appends the user task to conversationID via store. It persists
// only the user side of the turn: the assistant side is the HistorySink's
// job (RecordAssistantMessage), kept as a separate call so a Supervisor
// wired with a HistorySink backed by a different store than convStore still
// gets the assistant message recorded exactly once. Calling both RecordTurn
// and RecordAssistantMessage against the *same* backing store — the common
// case, since HistorySink is usually the ConversationStore itself — appends
// the user message once here and the assistant message once there, instead
// of double-persisting the assistant turn.
func RecordTurn(ctx context.Context, store ConversationStore, conversationID string, userText string, now time.Time) error {
	if conversationID == "" {
		return nil
	}
	if err := store.AppendMessage(ctx, conversationID, domain.Message{
		ID:        newMessageID(now, "u"),
		Role:      domain.RoleUser,
		Content:   userText,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("convmemory: append user message: %w", err)
	}
	return nil
}

func newMessageID(now time.Time, kind string) string {
	return fmt.Sprintf("msg-%s-%d", kind, now.UnixNano())
}
