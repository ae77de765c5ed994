package docstore

// Clause is one equality constraint on a string field.
type Clause struct {
	Field string
	Value string
}

// Query is a conjunction of equality clauses. That is the entire predicate
// language the call core needs (receiver + status); no index declarations,
// no range or ordering clauses.
type Query struct {
	Clauses []Clause
}

// Where starts a query with one equality clause.
func Where(field, value string) Query {
	return Query{Clauses: []Clause{{Field: field, Value: value}}}
}

// Where appends another equality clause.
func (q Query) Where(field, value string) Query {
	out := Query{Clauses: make([]Clause, 0, len(q.Clauses)+1)}
	out.Clauses = append(out.Clauses, q.Clauses...)
	out.Clauses = append(out.Clauses, Clause{Field: field, Value: value})
	return out
}

// Matches reports whether every clause holds for the document.
func (q Query) Matches(d Document) bool {
	for _, c := range q.Clauses {
		if d.StringField(c.Field) != c.Value {
			return false
		}
	}
	return true
}

// matchTracker turns raw document writes into membership changes against one
// standing query. It remembers which ids the subscriber currently sees and the
// last revision delivered per id, so replayed or stale deliveries are dropped.
type matchTracker struct {
	q    Query
	revs map[string]int64
}

func newMatchTracker(q Query) *matchTracker {
	return &matchTracker{q: q, revs: make(map[string]int64)}
}

// Seed records a snapshot document as already delivered.
func (t *matchTracker) Seed(d Document) {
	t.revs[d.ID] = d.Rev
}

// Observe classifies a created/updated document against the query.
// The second return is false when nothing should be delivered.
func (t *matchTracker) Observe(d Document) (ChangeKind, bool) {
	rev, known := t.revs[d.ID]
	matches := t.q.Matches(d)
	switch {
	case matches && !known:
		t.revs[d.ID] = d.Rev
		return ChangeAdded, true
	case matches && known:
		if d.Rev <= rev {
			return "", false
		}
		t.revs[d.ID] = d.Rev
		return ChangeModified, true
	case !matches && known:
		delete(t.revs, d.ID)
		return ChangeRemoved, true
	default:
		return "", false
	}
}

// Remove classifies a deleted document: removed if the subscriber saw it.
func (t *matchTracker) Remove(d Document) (ChangeKind, bool) {
	if _, known := t.revs[d.ID]; !known {
		return "", false
	}
	delete(t.revs, d.ID)
	return ChangeRemoved, true
}
