package docstore

import "testing"

func TestQueryMatchesEqualityConjunction(t *testing.T) {
	doc := Document{ID: "d1", Fields: Fields{"receiverId": "u2", "status": "inviting"}}

	q := Where("receiverId", "u2").Where("status", "inviting")
	if !q.Matches(doc) {
		t.Fatalf("expected match")
	}
	if Where("receiverId", "u3").Matches(doc) {
		t.Fatalf("expected mismatch on receiver")
	}
	if Where("receiverId", "u2").Where("status", "active").Matches(doc) {
		t.Fatalf("expected mismatch on status")
	}
	if Where("missing", "").Matches(doc) != true {
		// absent fields read as empty strings
		t.Fatalf("expected empty-string match for absent field")
	}
}

func TestMatchTrackerClassifiesMembership(t *testing.T) {
	tr := newMatchTracker(Where("status", "inviting"))

	d := Document{ID: "a", Rev: 1, Fields: Fields{"status": "inviting"}}
	kind, ok := tr.Observe(d)
	if !ok || kind != ChangeAdded {
		t.Fatalf("expected added, got %v %v", kind, ok)
	}

	// Same revision again (pub/sub replay) delivers nothing.
	if _, ok := tr.Observe(d); ok {
		t.Fatalf("expected stale revision to be dropped")
	}

	d.Rev = 2
	kind, ok = tr.Observe(d)
	if !ok || kind != ChangeModified {
		t.Fatalf("expected modified, got %v %v", kind, ok)
	}

	d.Rev = 3
	d.Fields = Fields{"status": "ended"}
	kind, ok = tr.Observe(d)
	if !ok || kind != ChangeRemoved {
		t.Fatalf("expected removed, got %v %v", kind, ok)
	}

	// No longer a member; further non-matching writes are silent.
	d.Rev = 4
	if _, ok := tr.Observe(d); ok {
		t.Fatalf("expected silence after removal")
	}
}

func TestMatchTrackerSeedSuppressesSnapshotReplay(t *testing.T) {
	tr := newMatchTracker(Where("status", "inviting"))
	d := Document{ID: "a", Rev: 5, Fields: Fields{"status": "inviting"}}
	tr.Seed(d)

	if _, ok := tr.Observe(d); ok {
		t.Fatalf("expected seeded doc replay to be dropped")
	}

	d.Rev = 6
	kind, ok := tr.Observe(d)
	if !ok || kind != ChangeModified {
		t.Fatalf("expected modified after seed, got %v %v", kind, ok)
	}
}

func TestMatchTrackerRemove(t *testing.T) {
	tr := newMatchTracker(Where("status", "inviting"))
	d := Document{ID: "a", Rev: 1, Fields: Fields{"status": "inviting"}}
	tr.Seed(d)

	kind, ok := tr.Remove(d)
	if !ok || kind != ChangeRemoved {
		t.Fatalf("expected removed, got %v %v", kind, ok)
	}
	if _, ok := tr.Remove(d); ok {
		t.Fatalf("expected second remove to be silent")
	}
}
