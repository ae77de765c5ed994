package docstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Package docstore is the document-store boundary the call-session core is
// written against: create-with-generated-id, partial-merge updates, and
// per-document / per-query subscriptions with added/modified/removed changes.
// Two drivers exist: an in-process memory store and a Redis-backed store.

var (
	// ErrUnavailable means the store is unreachable or not configured.
	// Callers surface this to the initiating action; nothing retries.
	ErrUnavailable = errors.New("docstore: store unavailable")

	// ErrNotFound means the document does not exist in the collection.
	ErrNotFound = errors.New("docstore: document not found")
)

// Fields is a partial document payload. Values are JSON-safe; the call core
// only ever stores strings.
type Fields map[string]any

// Document is one stored record plus its store-assigned bookkeeping.
// Seq is monotonic per collection and fixes creation order; Rev increases on
// every write and lets subscribers drop stale deliveries.
type Document struct {
	ID        string
	Seq       int64
	Rev       int64
	CreatedAt time.Time
	Fields    Fields
}

// StringField returns the named field when it holds a string, else "".
func (d Document) StringField(key string) string {
	if v, ok := d.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a copy with its own Fields map.
func (d Document) Clone() Document {
	out := d
	out.Fields = cloneFields(d.Fields)
	return out
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ChangeKind tags one incremental query-result change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one query-watch delivery. Snapshot marks the initial-state batch
// delivered at attach time; consumers wanting change-feed semantics skip it.
type Change struct {
	Kind     ChangeKind
	Doc      Document
	Snapshot bool
}

// DocEvent is one single-document delivery. Doc is nil once the document has
// been deleted. Snapshot marks the initial delivery (current doc or nil).
type DocEvent struct {
	Doc      *Document
	Snapshot bool
}

// QueryWatch is a standing query subscription. The caller must drain Changes
// and call Close when done; a consumer that stops draining loses the watch
// (the channel is closed rather than letting the writer block).
type QueryWatch struct {
	ch   chan Change
	stop func()
	once sync.Once
}

func (w *QueryWatch) Changes() <-chan Change { return w.ch }

// Close detaches the subscription. Idempotent.
func (w *QueryWatch) Close() { w.once.Do(w.stop) }

// DocWatch is a standing single-document subscription. Same draining and
// Close contract as QueryWatch.
type DocWatch struct {
	ch   chan DocEvent
	stop func()
	once sync.Once
}

func (w *DocWatch) Events() <-chan DocEvent { return w.ch }

// Close detaches the subscription. Idempotent.
func (w *DocWatch) Close() { w.once.Do(w.stop) }

// Store is the document-store contract.
//
// Writes are last-write-wins; Update is an atomic partial merge and never a
// full-document rewrite. Watches deliver an initial snapshot followed by
// incremental changes, in store-assigned creation order for queries. A watch
// ends when its Close is called, the setup context is canceled, or the store
// shuts down; its channel is closed in every case.
type Store interface {
	Create(ctx context.Context, collection string, fields Fields) (Document, error)
	Update(ctx context.Context, collection, id string, fields Fields) (Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)

	// Delete exists for completeness and retention tooling; the call-session
	// core never deletes records.
	Delete(ctx context.Context, collection, id string) error

	ObserveDoc(ctx context.Context, collection, id string) (*DocWatch, error)
	ObserveQuery(ctx context.Context, collection string, q Query) (*QueryWatch, error)

	Close() error
}
