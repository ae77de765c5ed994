package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is the in-process driver. Single mutex; writes fan out to
// subscribers in write order. Suitable for tests and single-process setups.
type memoryStore struct {
	mu     sync.Mutex
	clock  func() time.Time
	buffer int
	closed bool
	cols   map[string]*memoryCollection
}

type memoryCollection struct {
	seq       int64
	docs      map[string]Document
	docSubs   []*memDocSub
	querySubs []*memQuerySub
}

type memDocSub struct {
	docID  string
	ch     chan DocEvent
	done   chan struct{}
	closed bool
}

type memQuerySub struct {
	tracker *matchTracker
	ch      chan Change
	done    chan struct{}
	closed  bool
}

func newMemoryStore(o options) *memoryStore {
	return &memoryStore{
		clock:  o.clock,
		buffer: o.buffer,
		cols:   make(map[string]*memoryCollection),
	}
}

// col returns the named collection, creating it if needed. Caller holds mu.
func (s *memoryStore) col(name string) *memoryCollection {
	c, ok := s.cols[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]Document)}
		s.cols[name] = c
	}
	return c
}

func (s *memoryStore) Create(ctx context.Context, collection string, fields Fields) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrUnavailable
	}

	c := s.col(collection)
	c.seq++
	doc := Document{
		ID:        uuid.NewString(),
		Seq:       c.seq,
		Rev:       1,
		CreatedAt: s.clock().UTC(),
		Fields:    cloneFields(fields),
	}
	c.docs[doc.ID] = doc
	s.fanOutWrite(c, doc)
	return doc.Clone(), nil
}

func (s *memoryStore) Update(ctx context.Context, collection, id string, fields Fields) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrUnavailable
	}

	c := s.col(collection)
	doc, ok := c.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}

	merged := doc.Clone()
	for k, v := range fields {
		merged.Fields[k] = v
	}
	merged.Rev++
	c.docs[id] = merged
	s.fanOutWrite(c, merged)
	return merged.Clone(), nil
}

func (s *memoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrUnavailable
	}

	doc, ok := s.col(collection).docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *memoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}

	c := s.col(collection)
	doc, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(c.docs, id)
	s.fanOutDelete(c, doc)
	return nil
}

func (s *memoryStore) ObserveDoc(ctx context.Context, collection, id string) (*DocWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}

	c := s.col(collection)
	sub := &memDocSub{
		docID: id,
		ch:    make(chan DocEvent, 1+s.buffer),
		done:  make(chan struct{}),
	}

	// Initial snapshot: the current document, or nil when absent.
	if doc, ok := c.docs[id]; ok {
		snap := doc.Clone()
		sub.ch <- DocEvent{Doc: &snap, Snapshot: true}
	} else {
		sub.ch <- DocEvent{Snapshot: true}
	}
	c.docSubs = append(c.docSubs, sub)
	s.mu.Unlock()

	w := &DocWatch{ch: sub.ch, stop: func() {
		s.mu.Lock()
		s.killDocSubLocked(c, sub)
		s.mu.Unlock()
	}}
	go watchUntilDone(ctx, sub.done, w.Close)
	return w, nil
}

func (s *memoryStore) ObserveQuery(ctx context.Context, collection string, q Query) (*QueryWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}

	c := s.col(collection)
	snapshot := make([]Document, 0)
	for _, doc := range c.docs {
		if q.Matches(doc) {
			snapshot = append(snapshot, doc.Clone())
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Seq < snapshot[j].Seq })

	sub := &memQuerySub{
		tracker: newMatchTracker(q),
		ch:      make(chan Change, len(snapshot)+s.buffer),
		done:    make(chan struct{}),
	}
	for _, doc := range snapshot {
		sub.tracker.Seed(doc)
		sub.ch <- Change{Kind: ChangeAdded, Doc: doc, Snapshot: true}
	}
	c.querySubs = append(c.querySubs, sub)
	s.mu.Unlock()

	w := &QueryWatch{ch: sub.ch, stop: func() {
		s.mu.Lock()
		s.killQuerySubLocked(c, sub)
		s.mu.Unlock()
	}}
	go watchUntilDone(ctx, sub.done, w.Close)
	return w, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.cols {
		for _, sub := range append([]*memDocSub(nil), c.docSubs...) {
			s.killDocSubLocked(c, sub)
		}
		for _, sub := range append([]*memQuerySub(nil), c.querySubs...) {
			s.killQuerySubLocked(c, sub)
		}
	}
	return nil
}

// fanOutWrite delivers a created/updated document to subscribers. Caller holds
// mu. Iterates over copies because a failed send removes the subscriber.
func (s *memoryStore) fanOutWrite(c *memoryCollection, doc Document) {
	for _, sub := range append([]*memDocSub(nil), c.docSubs...) {
		if sub.closed || sub.docID != doc.ID {
			continue
		}
		ev := doc.Clone()
		s.sendDoc(c, sub, DocEvent{Doc: &ev})
	}
	for _, sub := range append([]*memQuerySub(nil), c.querySubs...) {
		if sub.closed {
			continue
		}
		kind, ok := sub.tracker.Observe(doc)
		if !ok {
			continue
		}
		s.sendQuery(c, sub, Change{Kind: kind, Doc: doc.Clone()})
	}
}

// fanOutDelete delivers a deletion to subscribers. Caller holds mu.
func (s *memoryStore) fanOutDelete(c *memoryCollection, doc Document) {
	for _, sub := range append([]*memDocSub(nil), c.docSubs...) {
		if sub.closed || sub.docID != doc.ID {
			continue
		}
		s.sendDoc(c, sub, DocEvent{Doc: nil})
	}
	for _, sub := range append([]*memQuerySub(nil), c.querySubs...) {
		if sub.closed {
			continue
		}
		kind, ok := sub.tracker.Remove(doc)
		if !ok {
			continue
		}
		s.sendQuery(c, sub, Change{Kind: kind, Doc: doc.Clone()})
	}
}

// sendDoc delivers without blocking; an undrained subscriber loses the watch.
func (s *memoryStore) sendDoc(c *memoryCollection, sub *memDocSub, ev DocEvent) {
	select {
	case sub.ch <- ev:
	default:
		s.killDocSubLocked(c, sub)
	}
}

func (s *memoryStore) sendQuery(c *memoryCollection, sub *memQuerySub, ch Change) {
	select {
	case sub.ch <- ch:
	default:
		s.killQuerySubLocked(c, sub)
	}
}

func (s *memoryStore) killDocSubLocked(c *memoryCollection, sub *memDocSub) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	close(sub.done)
	for i, cand := range c.docSubs {
		if cand == sub {
			c.docSubs = append(c.docSubs[:i], c.docSubs[i+1:]...)
			break
		}
	}
}

func (s *memoryStore) killQuerySubLocked(c *memoryCollection, sub *memQuerySub) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	close(sub.done)
	for i, cand := range c.querySubs {
		if cand == sub {
			c.querySubs = append(c.querySubs[:i], c.querySubs[i+1:]...)
			break
		}
	}
}

// watchUntilDone closes the watch when the setup context ends first.
func watchUntilDone(ctx context.Context, done <-chan struct{}, closeFn func()) {
	select {
	case <-ctx.Done():
		closeFn()
	case <-done:
	}
}
