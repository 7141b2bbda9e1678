package record

import "testing"

func TestWithLastModifiedRoundTrip(t *testing.T) {
	r := Record{"id": "a", "title": "foo"}
	if _, ok := r.LastModified(); ok {
		t.Fatalf("expected no last_modified on fresh record")
	}

	r2 := r.WithLastModified(42)
	ts, ok := r2.LastModified()
	if !ok || ts != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", ts, ok)
	}

	// original untouched (records are immutable values)
	if _, ok := r.LastModified(); ok {
		t.Fatalf("original record was mutated")
	}

	r3 := r2.WithoutLastModified()
	if _, ok := r3.LastModified(); ok {
		t.Fatalf("expected last_modified stripped")
	}
}

func TestStatusDefaultsToSynced(t *testing.T) {
	r := Record{"id": "a"}
	if got := r.Status(); got != StatusSynced {
		t.Fatalf("got %q, want %q", got, StatusSynced)
	}

	r2 := r.WithStatus(StatusCreated)
	if got := r2.Status(); got != StatusCreated {
		t.Fatalf("got %q, want %q", got, StatusCreated)
	}
	if got := r.Status(); got != StatusSynced {
		t.Fatalf("original record was mutated")
	}
}

func TestIsTombstone(t *testing.T) {
	r := Record{"id": "a"}.WithStatus(StatusDeleted)
	if !r.IsTombstone() {
		t.Fatalf("expected tombstone")
	}
	if (Record{"id": "a"}).IsTombstone() {
		t.Fatalf("synced record should not be a tombstone")
	}
}

func TestEncodeForWireStripsStatusAndLocalFields(t *testing.T) {
	r := Record{"id": "a", "title": "foo", "read": true, "_status": "updated"}
	encoded := r.EncodeForWire([]string{"read"})

	if _, ok := encoded["_status"]; ok {
		t.Fatalf("_status leaked into wire encoding")
	}
	if _, ok := encoded["read"]; ok {
		t.Fatalf("local field leaked into wire encoding")
	}
	if encoded["title"] != "foo" {
		t.Fatalf("non-local field was dropped")
	}
}

func TestNonReservedEqualIgnoresReservedAndLocalFields(t *testing.T) {
	a := Record{"id": "a", "title": "foo", "read": true}.WithStatus(StatusCreated)
	b := Record{"id": "a", "title": "foo", "read": false}.WithLastModified(10).WithStatus(StatusSynced)

	if !NonReservedEqual(a, b, []string{"read"}) {
		t.Fatalf("expected records to be non-reserved-equal")
	}

	c := b.Clone()
	c["title"] = "bar"
	if NonReservedEqual(a, c, []string{"read"}) {
		t.Fatalf("expected records to differ on title")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := Record{"id": "a"}
	c := r.Clone()
	c["id"] = "b"
	if r["id"] != "a" {
		t.Fatalf("clone mutation leaked into original")
	}
}
