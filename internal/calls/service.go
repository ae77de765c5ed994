package calls

import (
	"context"
	"errors"
	"fmt"

	"peersupport-platform/internal/docstore"
)

var (
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrNotFound          = errors.New("calls: session not found")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
)

// ErrStoreUnavailable is what session operations surface when the document
// store cannot serve the request. Handlers map it to 503 and skip every
// follow-up side effect for the failed action.
var ErrStoreUnavailable = docstore.ErrUnavailable

// Service owns the call-session lifecycle on top of the document store.
//
// It validates requested transitions against the record as currently stored,
// but the write itself is an unconditional merge: concurrent legal writers are
// serialized by the store and the last write wins.
type Service struct {
	store   docstore.Store
	misslog *MissedCallLogger
}

// NewService wires the lifecycle service. misslog may be nil; missed calls
// then simply leave no thread line.
func NewService(store docstore.Store, misslog *MissedCallLogger) *Service {
	return &Service{store: store, misslog: misslog}
}

// CreateParams carries everything needed to place a call. The display names
// are labels for the invitation and call screens, captured as-is.
type CreateParams struct {
	CallerID     string
	ReceiverID   string
	CallerName   string
	ReceiverName string
	Kind         SessionKind
}

func (p CreateParams) validate() error {
	if p.CallerID == "" || p.ReceiverID == "" {
		return fmt.Errorf("%w: caller and receiver are required", ErrInvalidArgument)
	}
	if p.CallerID == p.ReceiverID {
		return fmt.Errorf("%w: caller and receiver must differ", ErrInvalidArgument)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown session kind %q", ErrInvalidArgument, p.Kind)
	}
	return nil
}

// Create persists a new session in status inviting. The store assigns the id
// and creation time; the returned session carries both.
func (s *Service) Create(ctx context.Context, p CreateParams) (CallSession, error) {
	if err := p.validate(); err != nil {
		return CallSession{}, err
	}
	if s.store == nil {
		return CallSession{}, errors.New("calls: store not configured")
	}
	doc, err := s.store.Create(ctx, sessionCollection, docstore.Fields{
		fieldCallerID:     p.CallerID,
		fieldReceiverID:   p.ReceiverID,
		fieldCallerName:   p.CallerName,
		fieldReceiverName: p.ReceiverName,
		fieldKind:         string(p.Kind),
		fieldStatus:       string(StatusInviting),
	})
	if err != nil {
		return CallSession{}, fmt.Errorf("create session: %w", err)
	}
	return sessionFromDoc(doc), nil
}

// Get returns the session by id.
func (s *Service) Get(ctx context.Context, sessionID string) (CallSession, error) {
	if sessionID == "" {
		return CallSession{}, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if s.store == nil {
		return CallSession{}, errors.New("calls: store not configured")
	}
	doc, err := s.store.Get(ctx, sessionCollection, sessionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return CallSession{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return CallSession{}, fmt.Errorf("get session: %w", err)
	}
	return sessionFromDoc(doc), nil
}

// SetStatus moves the session to the requested status and returns the record
// as written. Illegal moves, including any write on a terminal session, come
// back as ErrInvalidTransition.
//
// A terminal transition straight out of inviting means the call was never
// answered; that is the one site that writes the missed-call thread line, so
// the line appears at most once per session in normal operation.
func (s *Service) SetStatus(ctx context.Context, sessionID string, to SessionStatus) (CallSession, error) {
	cur, err := s.Get(ctx, sessionID)
	if err != nil {
		return CallSession{}, err
	}
	next, err := nextStatus(ctx, cur.Status, to)
	if err != nil {
		return CallSession{}, err
	}
	doc, err := s.store.Update(ctx, sessionCollection, sessionID, docstore.Fields{
		fieldStatus: string(next),
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return CallSession{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return CallSession{}, fmt.Errorf("update session status: %w", err)
	}
	updated := sessionFromDoc(doc)
	if cur.Status == StatusInviting && updated.Status.Terminal() {
		s.misslog.Log(ctx, updated)
	}
	return updated, nil
}
