package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"peersupport-platform/pkg/utils"
)

// Repository is the persistence contract for threads and messages.
//
// Messages are append-only; nothing edits or deletes a line once written.
// EnsureThread takes a fully-populated candidate row and returns the row that
// actually won: the candidate when this call created the thread, the existing
// row when another writer got there first.
type Repository interface {
	EnsureThread(ctx context.Context, cand Thread) (Thread, error)
	ThreadBetween(ctx context.Context, userA, userB string) (Thread, error)
	AppendMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

// NOTE: PostgresRepo assumes the following tables exist:
//
//	chat_threads  (id, user_a, user_b, created_at, last_message_at)
//	              UNIQUE (user_a, user_b)
//	chat_messages (id, thread_id, sender_id, kind, body, created_at)
//
// The unique pair constraint is what makes EnsureThread safe under
// concurrent first contact.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureThread(ctx context.Context, cand Thread) (Thread, error) {
	existing, err := r.ThreadBetween(ctx, cand.UserA, cand.UserB)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return Thread{}, err
	}

	const ins = `
INSERT INTO chat_threads (id, user_a, user_b, created_at, last_message_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err = r.db.ExecContext(ctx, ins, cand.ID, cand.UserA, cand.UserB, cand.CreatedAt, cand.LastMessageAt)
	if err == nil {
		return cand, nil
	}
	if utils.IsUniqueViolation(err) {
		// Concurrent first contact: the other writer's row wins.
		return r.ThreadBetween(ctx, cand.UserA, cand.UserB)
	}
	return Thread{}, fmt.Errorf("insert thread: %w", err)
}

func (r *PostgresRepo) ThreadBetween(ctx context.Context, userA, userB string) (Thread, error) {
	const q = `
SELECT id, user_a, user_b, created_at, last_message_at
FROM chat_threads
WHERE user_a = $1 AND user_b = $2
`
	var t Thread
	if err := r.db.QueryRowContext(ctx, q, userA, userB).Scan(
		&t.ID,
		&t.UserA,
		&t.UserB,
		&t.CreatedAt,
		&t.LastMessageAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Thread{}, ErrThreadNotFound
		}
		return Thread{}, err
	}
	return t, nil
}

// AppendMessage writes the line and bumps the thread's recency stamp in one
// transaction, so a thread list ordered by last_message_at never misses the
// line it advertises.
func (r *PostgresRepo) AppendMessage(ctx context.Context, m Message) error {
	const ins = `
INSERT INTO chat_messages (id, thread_id, sender_id, kind, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	const touch = `
UPDATE chat_threads
SET last_message_at = GREATEST(last_message_at, $2)
WHERE id = $1
`
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ins, m.ID, m.ThreadID, m.SenderID, string(m.Kind), m.Body, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, touch, m.ThreadID, m.CreatedAt); err != nil {
			return fmt.Errorf("touch thread: %w", err)
		}
		return nil
	})
}

// ListMessages returns the latest limit messages of a thread in chronological
// order. The query walks newest-first so the limit trims old history, then
// the page is reversed for rendering.
func (r *PostgresRepo) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	const q = `
SELECT id, thread_id, sender_id, kind, body, created_at
FROM chat_messages
WHERE thread_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = MessageKind(kind)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

var _ Repository = (*PostgresRepo)(nil)
