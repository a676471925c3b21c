package convmemory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymesh/supervisor/domain"
	"github.com/relaymesh/supervisor/telemetry"
)

// PgStore is a Postgres-backed ConversationStore/HistorySink matching
// SPEC_FULL.md §6.3's persisted-state layout: a conversations table separate
// from messages, the latter indexed by (conversation_id, created_at).
// Grounded on the pgxpool.Pool + timed-logging idiom used by the pack's
// Postgres stores (nevindra-oasis's store/postgres package), adapted from
// pgvector fact storage to ordered conversation/message persistence.
type PgStore struct {
	pool   *pgxpool.Pool
	logger telemetry.Logger
}

var _ ConversationStore = (*PgStore)(nil)
var _ HistorySink = (*PgStore)(nil)

// NewPgStore constructs a PgStore using an existing pool. The caller owns
// the pool and is responsible for closing it.
func NewPgStore(pool *pgxpool.Pool, logger telemetry.Logger) *PgStore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &PgStore{pool: pool, logger: logger}
}

// Init creates the conversations and messages tables plus the
// (conversation_id, created_at) index. Safe to call multiple times.
func (s *PgStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
			ON messages (conversation_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("convmemory: pgstore init: %w", err)
		}
	}
	return nil
}

func (s *PgStore) Create(ctx context.Context, conv domain.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		s.logger.Error(ctx, "convmemory: create conversation failed", "id", conv.ID, "error", err)
		return fmt.Errorf("convmemory: create conversation: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("convmemory: get conversation: %w", err)
	}
	return c, nil
}

func (s *PgStore) List(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("convmemory: list conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("convmemory: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, agent_id, reasoning, created_at
		 FROM (
		   SELECT id, role, content, agent_id, reasoning, created_at
		   FROM messages WHERE conversation_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("convmemory: recent messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.AgentID, &m.Reasoning, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("convmemory: scan message: %w", err)
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convmemory: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at)
		 VALUES ($1, '', $2, $2)
		 ON CONFLICT (id) DO UPDATE SET updated_at = $2`,
		conversationID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("convmemory: upsert conversation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, agent_id, reasoning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, msg.AgentID, msg.Reasoning, msg.CreatedAt)
	if err != nil {
		s.logger.Error(ctx, "convmemory: append message failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("convmemory: insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convmemory: commit tx: %w", err)
	}
	return nil
}

func (s *PgStore) RecordAssistantMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	return s.AppendMessage(ctx, conversationID, msg)
}
