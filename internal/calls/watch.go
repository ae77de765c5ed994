package calls

import (
	"context"
	"fmt"
	"sync"

	"peersupport-platform/internal/docstore"
)

// SessionEvent is one delivery from a session watch. Session is nil when the
// record was deleted. Snapshot marks the initial replay of the current state
// that precedes live changes.
type SessionEvent struct {
	Session  *CallSession
	Snapshot bool
}

// SessionWatch streams the full session record after every write.
type SessionWatch struct {
	events chan SessionEvent
	done   chan struct{}
	inner  *docstore.DocWatch
	once   sync.Once
}

func (w *SessionWatch) Events() <-chan SessionEvent { return w.events }

// Close detaches the watch from the store. Idempotent.
func (w *SessionWatch) Close() {
	w.once.Do(func() {
		close(w.done)
		w.inner.Close()
	})
}

// ObserveSession attaches a watch to one session. The first event replays the
// current record (nil if absent) with Snapshot set; every later write follows
// as a full-record event, so a cancellation racing the attach still reaches
// the watcher through the snapshot.
func (s *Service) ObserveSession(ctx context.Context, sessionID string) (*SessionWatch, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	inner, err := s.store.ObserveDoc(ctx, sessionCollection, sessionID)
	if err != nil {
		return nil, fmt.Errorf("observe session: %w", err)
	}
	w := &SessionWatch{
		events: make(chan SessionEvent),
		done:   make(chan struct{}),
		inner:  inner,
	}
	go func() {
		defer close(w.events)
		for ev := range inner.Events() {
			out := SessionEvent{Snapshot: ev.Snapshot}
			if ev.Doc != nil {
				cs := sessionFromDoc(*ev.Doc)
				out.Session = &cs
			}
			select {
			case w.events <- out:
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// IncomingWatch emits sessions that newly invite the watched user.
//
// Invitations already pending when the watch attaches are not resurfaced, and
// a given session fires at most once for the lifetime of the watch.
type IncomingWatch struct {
	sessions chan CallSession
	done     chan struct{}
	inner    *docstore.QueryWatch
	once     sync.Once
}

func (w *IncomingWatch) Sessions() <-chan CallSession { return w.sessions }

// Close detaches the watch from the store. Idempotent.
func (w *IncomingWatch) Close() {
	w.once.Do(func() {
		close(w.done)
		w.inner.Close()
	})
}

// WatchIncoming attaches an incoming-call watch for userID: it emits sessions
// created after the attach point with the user as receiver and status
// inviting.
func (s *Service) WatchIncoming(ctx context.Context, userID string) (*IncomingWatch, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	q := docstore.Where(fieldReceiverID, userID).Where(fieldStatus, string(StatusInviting))
	inner, err := s.store.ObserveQuery(ctx, sessionCollection, q)
	if err != nil {
		return nil, fmt.Errorf("watch incoming: %w", err)
	}
	w := &IncomingWatch{
		sessions: make(chan CallSession),
		done:     make(chan struct{}),
		inner:    inner,
	}
	go func() {
		defer close(w.sessions)
		for ch := range inner.Changes() {
			// Snapshot entries are invitations that predate the attach; a
			// session leaving the inviting set arrives as a remove. Neither
			// is a new call.
			if ch.Snapshot || ch.Kind != docstore.ChangeAdded {
				continue
			}
			select {
			case w.sessions <- sessionFromDoc(ch.Doc):
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}
