package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisStore keeps documents as JSON values, a per-collection seq counter and
// index ZSET, and publishes every change on a per-collection channel. The Lua
// scripts make each write atomic with its publish, and timestamps come from
// the Redis server clock, so "assigned by the store" is literal and concurrent
// status writes resolve in server receipt order.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	buffer int

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
}

func newRedisStore(o options) *redisStore {
	return &redisStore{
		rdb:    o.redisClient,
		prefix: o.keyPrefix,
		buffer: o.buffer,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (s *redisStore) docKey(col, id string) string { return s.prefix + ":doc:" + col + ":" + id }
func (s *redisStore) idxKey(col string) string     { return s.prefix + ":idx:" + col }
func (s *redisStore) seqKey(col string) string     { return s.prefix + ":seq:" + col }
func (s *redisStore) chgChannel(col string) string { return s.prefix + ":chg:" + col }

// wireDoc is the stored and published JSON shape.
type wireDoc struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	Rev         int64  `json:"rev"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Fields      Fields `json:"fields"`
}

func (w wireDoc) document() Document {
	return Document{
		ID:        w.ID,
		Seq:       w.Seq,
		Rev:       w.Rev,
		CreatedAt: time.UnixMilli(w.CreatedAtMs).UTC(),
		Fields:    w.Fields,
	}
}

type wireChange struct {
	Kind ChangeKind `json:"kind"`
	Doc  wireDoc    `json:"doc"`
}

var createScript = redis.NewScript(`
-- KEYS[1] = seq counter
-- KEYS[2] = document key
-- KEYS[3] = collection index (ZSET by seq)
-- KEYS[4] = change channel
-- ARGV[1] = document id
-- ARGV[2] = fields JSON
local seq = redis.call('INCR', KEYS[1])
local t = redis.call('TIME')
local created_ms = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local doc = {
  id = ARGV[1],
  seq = seq,
  rev = 1,
  created_at_ms = created_ms,
  fields = cjson.decode(ARGV[2]),
}
local raw = cjson.encode(doc)
redis.call('SET', KEYS[2], raw)
redis.call('ZADD', KEYS[3], seq, ARGV[1])
redis.call('PUBLISH', KEYS[4], cjson.encode({kind = 'added', doc = doc}))
return raw
`)

var mergeScript = redis.NewScript(`
-- KEYS[1] = document key
-- KEYS[2] = change channel
-- ARGV[1] = patch JSON (partial fields)
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local doc = cjson.decode(raw)
local patch = cjson.decode(ARGV[1])
for k, v in pairs(patch) do
  doc.fields[k] = v
end
doc.rev = doc.rev + 1
local out = cjson.encode(doc)
redis.call('SET', KEYS[1], out)
redis.call('PUBLISH', KEYS[2], cjson.encode({kind = 'modified', doc = doc}))
return out
`)

var deleteScript = redis.NewScript(`
-- KEYS[1] = document key
-- KEYS[2] = collection index
-- KEYS[3] = change channel
-- ARGV[1] = document id
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
local doc = cjson.decode(raw)
redis.call('PUBLISH', KEYS[3], cjson.encode({kind = 'removed', doc = doc}))
return 1
`)

func (s *redisStore) Create(ctx context.Context, collection string, fields Fields) (Document, error) {
	if s.isClosed() {
		return Document{}, ErrUnavailable
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: encode fields: %w", err)
	}
	id := uuid.NewString()
	keys := []string{
		s.seqKey(collection),
		s.docKey(collection, id),
		s.idxKey(collection),
		s.chgChannel(collection),
	}
	raw, err := createScript.Run(ctx, s.rdb, keys, id, string(payload)).Text()
	if err != nil {
		return Document{}, storeErr("create", err)
	}
	return decodeDoc([]byte(raw))
}

func (s *redisStore) Update(ctx context.Context, collection, id string, fields Fields) (Document, error) {
	if s.isClosed() {
		return Document{}, ErrUnavailable
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: encode fields: %w", err)
	}
	keys := []string{s.docKey(collection, id), s.chgChannel(collection)}
	raw, err := mergeScript.Run(ctx, s.rdb, keys, string(patch)).Text()
	if err != nil {
		return Document{}, storeErr("update", err)
	}
	return decodeDoc([]byte(raw))
}

func (s *redisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if s.isClosed() {
		return Document{}, ErrUnavailable
	}
	raw, err := s.rdb.Get(ctx, s.docKey(collection, id)).Bytes()
	if err != nil {
		return Document{}, storeErr("get", err)
	}
	return decodeDoc(raw)
}

func (s *redisStore) Delete(ctx context.Context, collection, id string) error {
	if s.isClosed() {
		return ErrUnavailable
	}
	keys := []string{s.docKey(collection, id), s.idxKey(collection), s.chgChannel(collection)}
	n, err := deleteScript.Run(ctx, s.rdb, keys, id).Int()
	if err != nil {
		return storeErr("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) ObserveDoc(ctx context.Context, collection, id string) (*DocWatch, error) {
	sub, err := s.subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}

	// Snapshot after the subscription is live; the pump drops any published
	// revision the snapshot already covers.
	var snapDoc *Document
	var seenRev int64
	raw, err := s.rdb.Get(ctx, s.docKey(collection, id)).Bytes()
	switch {
	case err == nil:
		doc, derr := decodeDoc(raw)
		if derr != nil {
			s.unsubscribe(sub)
			return nil, derr
		}
		snapDoc = &doc
		seenRev = doc.Rev
	case errors.Is(err, redis.Nil):
		// absent; snapshot delivers nil
	default:
		s.unsubscribe(sub)
		return nil, storeErr("observe doc", err)
	}

	out := make(chan DocEvent, 1+s.buffer)
	out <- DocEvent{Doc: snapDoc, Snapshot: true}

	w := &DocWatch{ch: out, stop: func() { s.unsubscribe(sub) }}
	go s.pumpDoc(ctx, sub, out, id, seenRev)
	return w, nil
}

func (s *redisStore) ObserveQuery(ctx context.Context, collection string, q Query) (*QueryWatch, error) {
	sub, err := s.subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.snapshotQuery(ctx, collection, q)
	if err != nil {
		s.unsubscribe(sub)
		return nil, err
	}

	tracker := newMatchTracker(q)
	out := make(chan Change, len(snapshot)+s.buffer)
	for _, doc := range snapshot {
		tracker.Seed(doc)
		out <- Change{Kind: ChangeAdded, Doc: doc, Snapshot: true}
	}

	w := &QueryWatch{ch: out, stop: func() { s.unsubscribe(sub) }}
	go s.pumpQuery(ctx, sub, out, tracker)
	return w, nil
}

// snapshotQuery reads the collection in seq order and filters by the query.
func (s *redisStore) snapshotQuery(ctx context.Context, collection string, q Query) ([]Document, error) {
	ids, err := s.rdb.ZRange(ctx, s.idxKey(collection), 0, -1).Result()
	if err != nil {
		return nil, storeErr("observe query", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeErr("observe query", err)
	}

	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue // deleted between ZRANGE and MGET
		}
		doc, derr := decodeDoc([]byte(str))
		if derr != nil {
			continue
		}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *redisStore) pumpDoc(ctx context.Context, sub *redis.PubSub, out chan DocEvent, id string, seenRev int64) {
	defer close(out)
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.unsubscribe(sub)
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			env, err := decodeChange([]byte(m.Payload))
			if err != nil || env.Doc.ID != id {
				continue
			}
			if env.Kind == ChangeRemoved {
				if !trySendDoc(out, DocEvent{}) {
					s.unsubscribe(sub)
					return
				}
				continue
			}
			if env.Doc.Rev <= seenRev {
				continue
			}
			seenRev = env.Doc.Rev
			doc := env.Doc.document()
			if !trySendDoc(out, DocEvent{Doc: &doc}) {
				s.unsubscribe(sub)
				return
			}
		}
	}
}

func (s *redisStore) pumpQuery(ctx context.Context, sub *redis.PubSub, out chan Change, tracker *matchTracker) {
	defer close(out)
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.unsubscribe(sub)
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			env, err := decodeChange([]byte(m.Payload))
			if err != nil {
				continue
			}
			doc := env.Doc.document()

			var kind ChangeKind
			var deliver bool
			if env.Kind == ChangeRemoved {
				kind, deliver = tracker.Remove(doc)
			} else {
				kind, deliver = tracker.Observe(doc)
			}
			if !deliver {
				continue
			}
			if !trySendChange(out, Change{Kind: kind, Doc: doc}) {
				s.unsubscribe(sub)
				return
			}
		}
	}
}

// subscribe opens a pub/sub subscription and waits for its confirmation so no
// change between snapshot read and pump start can be missed.
func (s *redisStore) subscribe(ctx context.Context, collection string) (*redis.PubSub, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}
	sub := s.rdb.Subscribe(ctx, s.chgChannel(collection))
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		s.unsubscribe(sub)
		return nil, storeErr("subscribe", err)
	}
	return sub, nil
}

func (s *redisStore) unsubscribe(sub *redis.PubSub) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	_ = sub.Close()
}

func (s *redisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*redis.PubSub, 0, len(s.subs))
	for sub := range s.subs {
		open = append(open, sub)
	}
	s.subs = make(map[*redis.PubSub]struct{})
	s.mu.Unlock()

	for _, sub := range open {
		_ = sub.Close()
	}
	return nil
}

func (s *redisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func trySendDoc(out chan DocEvent, ev DocEvent) bool {
	select {
	case out <- ev:
		return true
	default:
		return false
	}
}

func trySendChange(out chan Change, ch Change) bool {
	select {
	case out <- ch:
		return true
	default:
		return false
	}
}

func decodeDoc(raw []byte) (Document, error) {
	var w wireDoc
	if err := json.Unmarshal(raw, &w); err != nil {
		return Document{}, fmt.Errorf("docstore: decode document: %w", err)
	}
	return w.document(), nil
}

func decodeChange(raw []byte) (wireChange, error) {
	var w wireChange
	if err := json.Unmarshal(raw, &w); err != nil {
		return wireChange{}, fmt.Errorf("docstore: decode change: %w", err)
	}
	return w, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("docstore: %s: %w: %w", op, ErrUnavailable, err)
}
