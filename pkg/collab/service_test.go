package collab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/db"
	"collab-sync/pkg/ot"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *db.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := db.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewService(store, auth.NewStoreChecker(store), opts...), store
}

func newDoc(t *testing.T, s *Service, owner, content string) string {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), owner, "doc", content)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc.ID
}

func TestHelloWorldScenario(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "Hello")

	res, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: 0,
		Operations: []ot.Operation{ot.Insert(5, " World")},
	})
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if res.Content != "Hello World" || res.Version != 1 {
		t.Fatalf("after insert: %+v", res)
	}

	res, err = s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: 1,
		Operations: []ot.Operation{ot.Delete(0, 5)},
	})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res.Content != " World" || res.Version != 2 {
		t.Fatalf("after delete: %+v", res)
	}

	entries, err := store.ListOpLog(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if entries[1].Type != "delete" || entries[1].Payload != "Hello" {
		t.Fatalf("delete entry = %+v", entries[1])
	}
}

func TestApplyReturnsOperationsUnchanged(t *testing.T) {
	s, _ := newTestService(t)
	id := newDoc(t, s, "alice", "abc")

	ops := []ot.Operation{ot.Delete(1, 100), ot.Insert(50, "!")}
	res, err := s.ApplyUserOperations(context.Background(), ApplyRequest{
		UserID: "alice", DocumentID: id, Operations: ops,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "a!" || res.Version != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Operations[0] != ops[0] || res.Operations[1] != ops[1] {
		t.Fatalf("operations rewritten: %v", res.Operations)
	}
}

func TestLogEntriesRecordEffectiveOperation(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "abcdef")

	_, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id,
		Operations: []ot.Operation{ot.Delete(4, 10), ot.Insert(99, "z")},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, _ := store.ListOpLog(ctx, id)
	want := []struct {
		base     uint64
		position int
		payload  string
	}{
		{0, 4, "ef"},
		{1, 4, "z"},
	}
	for i, w := range want {
		e := entries[i]
		if e.BaseVersion != w.base || e.Position != w.position || e.Payload != w.payload {
			t.Errorf("entry %d = %+v, want %+v", i, e, w)
		}
	}
}

func TestStaleBaseVersionConflicts(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	if _, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, Operations: []ot.Operation{ot.Insert(0, "a")},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: 0,
		Operations: []ot.Operation{ot.Insert(0, "b")},
	})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	state, _ := s.LoadDocumentState(ctx, id)
	if state.Content != "a" || state.Version != 1 {
		t.Fatalf("state changed on conflict: %+v", state)
	}
	if entries, _ := store.ListOpLog(ctx, id); len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
}

func TestConcurrentSubmissionsOneAccepted(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	const submitters = 8
	errs := make([]error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ApplyUserOperations(ctx, ApplyRequest{
				UserID: "alice", DocumentID: id, BaseVersion: 0,
				Operations: []ot.Operation{ot.Insert(0, fmt.Sprint(i))},
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case apperr.Is(err, apperr.Conflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("%d submissions accepted, want 1", accepted)
	}
	state, _ := s.LoadDocumentState(ctx, id)
	if state.Version != 1 {
		t.Fatalf("version = %d, want 1", state.Version)
	}
	if s.locks.len() != 0 {
		t.Fatalf("%d locks left behind", s.locks.len())
	}
}

func TestVersionMonotonicity(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	var version uint64
	for _, n := range []int{1, 3, 2, 5} {
		ops := make([]ot.Operation, n)
		for i := range ops {
			ops[i] = ot.Insert(0, "x")
		}
		res, err := s.ApplyUserOperations(ctx, ApplyRequest{
			UserID: "alice", DocumentID: id, BaseVersion: version, Operations: ops,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Version != version+uint64(n) {
			t.Fatalf("version = %d, want %d", res.Version, version+uint64(n))
		}
		version = res.Version
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	s, store := newTestService(t, WithSnapshotInterval(1))
	ctx := context.Background()
	id := newDoc(t, s, "alice", "abc")

	res, err := s.ApplyUserOperations(ctx, ApplyRequest{UserID: "alice", DocumentID: id})
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != 0 || res.Content != "abc" {
		t.Fatalf("result = %+v", res)
	}
	entries, _ := store.ListOpLog(ctx, id)
	snaps, _ := store.ListSnapshots(ctx, id)
	if len(entries) != 0 || len(snaps) != 0 {
		t.Fatalf("empty batch wrote %d entries, %d snapshots", len(entries), len(snaps))
	}
}

func TestSnapshotCadence(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	// single ops: versions 1..45 cross 20 and 40
	var version uint64
	for version < 45 {
		res, err := s.ApplyUserOperations(ctx, ApplyRequest{
			UserID: "alice", DocumentID: id, BaseVersion: version,
			Operations: []ot.Operation{ot.Insert(int(version), "x")},
		})
		if err != nil {
			t.Fatal(err)
		}
		version = res.Version
	}

	snaps, err := store.ListSnapshots(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 || snaps[0].Version != 40 || snaps[1].Version != 20 {
		t.Fatalf("snapshots = %+v", snaps)
	}
	if len(snaps[1].SnapshotText) != 20 {
		t.Fatalf("snapshot at 20 holds %q", snaps[1].SnapshotText)
	}

	// a batch that jumps over a multiple does not snapshot
	if _, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: version,
		Operations: []ot.Operation{ot.Insert(0, "a"), ot.Insert(0, "b"), ot.Insert(0, "c"), ot.Insert(0, "d"), ot.Insert(0, "e"), ot.Insert(0, "f")},
	}); err != nil {
		t.Fatal(err)
	}
	if snaps, _ := store.ListSnapshots(ctx, id); len(snaps) != 2 {
		t.Fatalf("got %d snapshots after version 51, want 2", len(snaps))
	}
}

func TestPermissions(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	submit := func(user string) error {
		_, err := s.ApplyUserOperations(ctx, ApplyRequest{
			UserID: user, DocumentID: id, Operations: []ot.Operation{ot.Insert(0, "x")},
		})
		return err
	}

	if err := submit("bob"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("stranger: expected Forbidden, got %v", err)
	}
	if err := s.GrantRole(ctx, "alice", id, "bob", auth.RoleView); err != nil {
		t.Fatal(err)
	}
	if err := submit("bob"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("viewer: expected Forbidden, got %v", err)
	}
	if err := s.GrantRole(ctx, "bob", id, "carol", auth.RoleEdit); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("non-owner grant: expected Forbidden, got %v", err)
	}
	if err := s.GrantRole(ctx, "alice", id, "bob", auth.RoleEdit); err != nil {
		t.Fatal(err)
	}
	if err := submit("bob"); err != nil {
		t.Fatalf("editor: %v", err)
	}

	_, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: "missing", Operations: []ot.Operation{ot.Insert(0, "x")},
	})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("missing document: expected NotFound, got %v", err)
	}
}

func TestInvalidOperationsRejected(t *testing.T) {
	s, _ := newTestService(t)
	id := newDoc(t, s, "alice", "abc")

	_, err := s.ApplyUserOperations(context.Background(), ApplyRequest{
		UserID: "alice", DocumentID: id, Operations: []ot.Operation{{Type: "retain", Index: 0}},
	})
	if !apperr.Is(err, apperr.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestLoadDocumentStateNotFound(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.LoadDocumentState(context.Background(), "missing"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOutOfRangePositionsAreClamped(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "Hello")

	res, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: 0,
		Operations: []ot.Operation{ot.Insert(-3, ">"), ot.Delete(-1, -2), ot.Insert(99, "!")},
	})
	if err != nil {
		t.Fatalf("ApplyUserOperations: %v", err)
	}
	if res.Content != ">Hello!" || res.Version != 3 {
		t.Fatalf("result = %+v", res)
	}

	entries, err := s.OpLog(ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Position != 0 || entries[0].Payload != ">" || entries[2].Position != 6 {
		t.Fatalf("log = %+v", entries)
	}
	replayed, err := s.Replay(ctx, id)
	if err != nil || replayed != ">Hello!" {
		t.Fatalf("Replay = %q, %v", replayed, err)
	}
}
