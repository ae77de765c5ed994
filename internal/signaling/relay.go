package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"peersupport-platform/internal/docstore"
)

var ErrInvalidSignal = errors.New("signaling: invalid signal")

// ErrStoreUnavailable is surfaced when the document store cannot serve the
// request.
var ErrStoreUnavailable = docstore.ErrUnavailable

// Relay carries handshake messages between the two ends of a session through
// the document store. It orders and delivers signals, nothing more; session
// membership checks belong to the HTTP layer.
type Relay struct {
	store docstore.Store
}

func NewRelay(store docstore.Store) *Relay {
	return &Relay{store: store}
}

// PushParams carries one signal to append.
type PushParams struct {
	SessionID string
	SenderID  string
	Kind      SignalKind
	Payload   string
}

func (p PushParams) validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidSignal)
	}
	if p.SenderID == "" {
		return fmt.Errorf("%w: sender id is required", ErrInvalidSignal)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, p.Kind)
	}
	if p.Payload == "" {
		return fmt.Errorf("%w: payload is required", ErrInvalidSignal)
	}
	return nil
}

// Push appends one signal to the session's channel. Delivery order for
// watchers is the store's append order.
func (r *Relay) Push(ctx context.Context, p PushParams) (SignalMessage, error) {
	if err := p.validate(); err != nil {
		return SignalMessage{}, err
	}
	if r.store == nil {
		return SignalMessage{}, errors.New("signaling: store not configured")
	}
	doc, err := r.store.Create(ctx, signalCollection(p.SessionID), docstore.Fields{
		fieldSenderID: p.SenderID,
		fieldKind:     string(p.Kind),
		fieldPayload:  p.Payload,
	})
	if err != nil {
		return SignalMessage{}, fmt.Errorf("push signal: %w", err)
	}
	return signalFromDoc(p.SessionID, doc), nil
}

type observeOptions struct {
	excludeSender string
}

// ObserveOption adjusts signal delivery for one watch.
type ObserveOption func(*observeOptions)

// WithoutSender drops signals authored by the given user, so a client does
// not hear its own messages echoed back.
func WithoutSender(userID string) ObserveOption {
	return func(o *observeOptions) { o.excludeSender = userID }
}

// SignalWatch streams signals appended after the attach point.
type SignalWatch struct {
	signals chan SignalMessage
	done    chan struct{}
	inner   *docstore.QueryWatch
	once    sync.Once
}

func (w *SignalWatch) Signals() <-chan SignalMessage { return w.signals }

// Close detaches the watch from the store. Idempotent.
func (w *SignalWatch) Close() {
	w.once.Do(func() {
		close(w.done)
		w.inner.Close()
	})
}

// Observe attaches to the session's signal channel. Signals appended before
// the attach never replay; delivery starts at the attach point and follows
// append order.
func (r *Relay) Observe(ctx context.Context, sessionID string, opts ...ObserveOption) (*SignalWatch, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidSignal)
	}
	var o observeOptions
	for _, opt := range opts {
		opt(&o)
	}

	inner, err := r.store.ObserveQuery(ctx, signalCollection(sessionID), docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("observe signals: %w", err)
	}
	w := &SignalWatch{
		signals: make(chan SignalMessage),
		done:    make(chan struct{}),
		inner:   inner,
	}
	go func() {
		defer close(w.signals)
		for ch := range inner.Changes() {
			// Signals are append-only, so anything but a live add is either
			// pre-attach history or noise.
			if ch.Snapshot || ch.Kind != docstore.ChangeAdded {
				continue
			}
			msg := signalFromDoc(sessionID, ch.Doc)
			if o.excludeSender != "" && msg.SenderID == o.excludeSender {
				continue
			}
			select {
			case w.signals <- msg:
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}
