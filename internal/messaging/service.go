package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessage = errors.New("messaging: invalid message")
	ErrThreadNotFound = errors.New("messaging: thread not found")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service owns conversation threads between pairs of users.
//
// A thread comes into existence with its first line; there is no separate
// create-thread operation. Both user text and platform system lines land in
// the same history.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Append writes a user-authored text line to the thread between sender and
// recipient, creating the thread on first contact.
func (s *Service) Append(ctx context.Context, senderID, recipientID, body string) (Message, error) {
	return s.append(ctx, senderID, recipientID, body, KindText)
}

// AppendSystem writes a platform-generated line into the thread between the
// two users. The line is attributed to from, which decides the side it
// renders on.
func (s *Service) AppendSystem(ctx context.Context, from, to, body string) error {
	_, err := s.append(ctx, from, to, body, KindSystem)
	return err
}

func (s *Service) append(ctx context.Context, senderID, otherID, body string, kind MessageKind) (Message, error) {
	if senderID == "" || otherID == "" {
		return Message{}, fmt.Errorf("%w: both users are required", ErrInvalidMessage)
	}
	if senderID == otherID {
		return Message{}, fmt.Errorf("%w: users must differ", ErrInvalidMessage)
	}
	if body == "" {
		return Message{}, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	if s.repo == nil {
		return Message{}, errors.New("messaging: repository not configured")
	}

	now := s.clock().UTC()
	a, b := NormalizePair(senderID, otherID)
	th, err := s.repo.EnsureThread(ctx, Thread{
		ID:            uuid.NewString(),
		UserA:         a,
		UserB:         b,
		CreatedAt:     now,
		LastMessageAt: now,
	})
	if err != nil {
		return Message{}, fmt.Errorf("ensure thread: %w", err)
	}

	m := Message{
		ID:        uuid.NewString(),
		ThreadID:  th.ID,
		SenderID:  senderID,
		Kind:      kind,
		Body:      body,
		CreatedAt: now,
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// History returns the latest lines of the thread between two users in
// chronological order. A missing thread is an empty history, not an error.
func (s *Service) History(ctx context.Context, userX, userY string, limit int) ([]Message, error) {
	if userX == "" || userY == "" || userX == userY {
		return nil, fmt.Errorf("%w: both users are required", ErrInvalidMessage)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	a, b := NormalizePair(userX, userY)
	th, err := s.repo.ThreadBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("find thread: %w", err)
	}
	msgs, err := s.repo.ListMessages(ctx, th.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ThreadBetween returns the thread metadata for two users.
func (s *Service) ThreadBetween(ctx context.Context, userX, userY string) (Thread, error) {
	if userX == "" || userY == "" || userX == userY {
		return Thread{}, fmt.Errorf("%w: both users are required", ErrInvalidMessage)
	}
	a, b := NormalizePair(userX, userY)
	return s.repo.ThreadBetween(ctx, a, b)
}
