package collab

import (
	"context"
	"testing"

	"collab-sync/pkg/apperr"
	"collab-sync/pkg/auth"
	"collab-sync/pkg/ot"
)

func TestReplayReproducesContent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "The quick brown fox")

	batches := [][]ot.Operation{
		{ot.Delete(4, 6), ot.Insert(4, "slow ")},
		{ot.Insert(100, " jumps")},
		{ot.Delete(2, 2)},
		{ot.Insert(9, "😀"), ot.Delete(11, 1)},
		{ot.Delete(0, 1000)},
		{ot.Insert(0, "again")},
	}
	var version uint64
	for _, ops := range batches {
		res, err := s.ApplyUserOperations(ctx, ApplyRequest{
			UserID: "alice", DocumentID: id, BaseVersion: version, Operations: ops,
		})
		if err != nil {
			t.Fatal(err)
		}
		version = res.Version

		replayed, err := s.Replay(ctx, id)
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		if replayed != res.Content {
			t.Fatalf("replay = %q, content = %q", replayed, res.Content)
		}
	}
}

func TestRestoreSnapshot(t *testing.T) {
	s, _ := newTestService(t, WithSnapshotInterval(2))
	ctx := context.Background()
	id := newDoc(t, s, "alice", "")

	res, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id,
		Operations: []ot.Operation{ot.Insert(0, "the cat"), ot.Insert(7, " sat")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyUserOperations(ctx, ApplyRequest{
		UserID: "alice", DocumentID: id, BaseVersion: res.Version,
		Operations: []ot.Operation{ot.Delete(4, 3), ot.Insert(4, "dog")},
	}); err != nil {
		t.Fatal(err)
	}

	snaps, err := s.ListSnapshots(ctx, "alice", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 || snaps[1].SnapshotText != "the cat sat" {
		t.Fatalf("snapshots = %+v", snaps)
	}

	restored, err := s.RestoreSnapshot(ctx, "alice", id, snaps[1].ID)
	if err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if restored.Content != "the cat sat" || restored.Version != 6 {
		t.Fatalf("restored = %+v", restored)
	}
	replayed, _ := s.Replay(ctx, id)
	if replayed != "the cat sat" {
		t.Fatalf("replay after restore = %q", replayed)
	}

	if _, err := s.RestoreSnapshot(ctx, "alice", id, 9999); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestHistoryRequiresAccess(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "abc")

	if _, err := s.ListSnapshots(ctx, "bob", id); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("ListSnapshots: expected Forbidden, got %v", err)
	}
	if _, err := s.OpLog(ctx, "bob", id); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("OpLog: expected Forbidden, got %v", err)
	}
	if err := s.GrantRole(ctx, "alice", id, "bob", auth.RoleView); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpLog(ctx, "bob", id); err != nil {
		t.Fatalf("OpLog as viewer: %v", err)
	}
	if _, err := s.RestoreSnapshot(ctx, "bob", id, 1); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("RestoreSnapshot as viewer: expected Forbidden, got %v", err)
	}
}

func TestDeleteDocumentOwnerOnly(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	id := newDoc(t, s, "alice", "abc")
	if err := s.GrantRole(ctx, "alice", id, "bob", auth.RoleEdit); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDocument(ctx, "bob", id); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if err := s.DeleteDocument(ctx, "alice", id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDocument(ctx, "alice", id); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
