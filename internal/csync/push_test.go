package csync_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cardsync/internal/csync"
	"cardsync/internal/model"
)

// newLocalContact stores a dirty contact linked to the connection but not
// yet created remotely.
func (h *harness) newLocalContact(t *testing.T, id, name, email string) *model.Contact {
	t.Helper()
	key := h.conn.SourceKey()
	c := &model.Contact{
		ID:    id,
		State: model.StateActive,
		Dirty: true,
		Fields: []model.Field{
			{Kind: model.FieldName, Value: name, Origin: key},
			{Kind: model.FieldEmail, Label: "work", Value: email, Origin: key},
		},
		Sources:   []model.SourceRef{{Key: key}},
		CreatedAt: h.clock.Now(),
		UpdatedAt: h.clock.Now(),
	}
	if err := h.store.SaveContact(context.Background(), c); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}
	return c
}

func TestSyncService_Push(t *testing.T) {
	ctx := context.Background()

	t.Run("creates remote members for new contacts", func(t *testing.T) {
		h := newHarness(t)
		h.newLocalContact(t, "local-1", "Grace Hopper", "grace@example.org")

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if result.Created != 1 {
			t.Errorf("Push() created = %d, want 1", result.Created)
		}

		c, err := h.store.GetContact(ctx, "local-1")
		if err != nil {
			t.Fatalf("GetContact() error = %v", err)
		}
		if c.Dirty {
			t.Error("contact still dirty after push")
		}
		ref := c.SourceRef(h.conn.SourceKey())
		if ref.NativeID == "" || ref.Token == "" {
			t.Errorf("ref after create = %+v, want native id and token", ref)
		}
		if raw := h.dir.Raw(h.conn.ID, ref.NativeID); !bytes.Contains(raw, []byte("Grace Hopper")) {
			t.Errorf("remote record missing pushed name: %q", raw)
		}
	})

	t.Run("updates an existing member conditionally", func(t *testing.T) {
		h := newHarness(t)
		ids := h.seedMembers(1)
		if _, err := h.svc.Pull(ctx, h.conn.ID); err != nil {
			t.Fatalf("Pull() error = %v", err)
		}
		c := h.contactBySource(t, ids[0])
		h.markDirty(t, c, "Edited Locally")

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if result.Updated != 1 {
			t.Errorf("Push() updated = %d, want 1", result.Updated)
		}

		if raw := h.dir.Raw(h.conn.ID, ids[0]); !bytes.Contains(raw, []byte("Edited Locally")) {
			t.Errorf("remote record not updated: %q", raw)
		}
		c = h.contactBySource(t, ids[0])
		if c.Dirty {
			t.Error("contact still dirty after push")
		}
		if ref := c.SourceRef(h.conn.SourceKey()); ref.Token != h.dir.Token(h.conn.ID, ids[0]) {
			t.Errorf("ref token = %q, want current remote token", ref.Token)
		}
	})

	t.Run("push is idempotent", func(t *testing.T) {
		h := newHarness(t)
		ids := h.seedMembers(1)
		if _, err := h.svc.Pull(ctx, h.conn.ID); err != nil {
			t.Fatalf("Pull() error = %v", err)
		}
		h.markDirty(t, h.contactBySource(t, ids[0]), "Edited Locally")

		if _, err := h.svc.Push(ctx, h.conn.ID); err != nil {
			t.Fatalf("first Push() error = %v", err)
		}
		writes := h.dir.Writes

		// A second push has nothing to send.
		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("second Push() error = %v", err)
		}
		if result.Created != 0 || result.Updated != 0 {
			t.Errorf("second Push() = %+v, want no writes", result)
		}
		if h.dir.Writes != writes {
			t.Errorf("directory writes = %d, want %d", h.dir.Writes, writes)
		}
	})

	t.Run("dirty contact with unchanged content is skipped", func(t *testing.T) {
		h := newHarness(t)
		ids := h.seedMembers(1)
		if _, err := h.svc.Pull(ctx, h.conn.ID); err != nil {
			t.Fatalf("Pull() error = %v", err)
		}

		// Dirty flag set but the serialized record is identical.
		c := h.contactBySource(t, ids[0])
		c.Dirty = true
		if err := h.store.SaveContact(ctx, c); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if result.Skipped != 1 {
			t.Errorf("Push() skipped = %d, want 1", result.Skipped)
		}
		if h.dir.Writes != 0 {
			t.Errorf("directory writes = %d, want 0", h.dir.Writes)
		}
		if c = h.contactBySource(t, ids[0]); c.Dirty {
			t.Error("contact still dirty after skipped push")
		}
	})

	t.Run("stale token records a conflict and keeps the contact dirty", func(t *testing.T) {
		h := newHarness(t)
		ids := h.seedMembers(1)
		if _, err := h.svc.Pull(ctx, h.conn.ID); err != nil {
			t.Fatalf("Pull() error = %v", err)
		}
		h.markDirty(t, h.contactBySource(t, ids[0]), "Local Edit")

		// The remote moved after our last pull.
		remoteToken := h.dir.Seed(h.conn.ID, ids[0], vcardRecord("Remote Edit", "person1@example.org"))

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if len(result.Conflicts) != 1 {
			t.Fatalf("Push() conflicts = %d, want 1", len(result.Conflicts))
		}

		// Neither side was overwritten.
		if raw := h.dir.Raw(h.conn.ID, ids[0]); !bytes.Contains(raw, []byte("Remote Edit")) {
			t.Errorf("remote record was overwritten: %q", raw)
		}
		c := h.contactBySource(t, ids[0])
		if got := fieldValue(c, model.FieldName); got != "Local Edit" {
			t.Errorf("local name = %q, want %q", got, "Local Edit")
		}
		if !c.Dirty {
			t.Error("contact no longer dirty after conflicted push")
		}

		cf, err := h.store.GetConflict(ctx, result.Conflicts[0])
		if err != nil || cf == nil {
			t.Fatalf("GetConflict() = %v, %v", cf, err)
		}
		if cf.RemoteToken != remoteToken {
			t.Errorf("conflict token = %q, want %q", cf.RemoteToken, remoteToken)
		}
	})

	t.Run("transport failures are collected per contact", func(t *testing.T) {
		h := newHarness(t)
		h.newLocalContact(t, "local-1", "One", "one@example.org")
		h.newLocalContact(t, "local-2", "Two", "two@example.org")
		h.dir.FailPut = true

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v, want collected record errors", err)
		}
		if len(result.Errors) != 2 {
			t.Fatalf("Push() errors = %d, want 2", len(result.Errors))
		}
		var terr *csync.TransportError
		if !errors.As(result.Errors[0].Err, &terr) {
			t.Errorf("record error = %v, want *TransportError", result.Errors[0].Err)
		}

		// Both contacts stay dirty for the next attempt.
		for _, id := range []string{"local-1", "local-2"} {
			c, _ := h.store.GetContact(ctx, id)
			if !c.Dirty {
				t.Errorf("contact %s no longer dirty after failed push", id)
			}
		}
	})

	t.Run("credential rejection aborts the batch", func(t *testing.T) {
		h := newHarness(t)
		h.newLocalContact(t, "local-1", "One", "one@example.org")
		h.dir.Unauth = true

		_, err := h.svc.Push(ctx, h.conn.ID)
		if !errors.Is(err, csync.ErrNotAuthenticated) {
			t.Errorf("Push() error = %v, want ErrNotAuthenticated", err)
		}
	})

	t.Run("explicit contact ids narrow the selection", func(t *testing.T) {
		h := newHarness(t)
		h.newLocalContact(t, "local-1", "One", "one@example.org")
		h.newLocalContact(t, "local-2", "Two", "two@example.org")

		result, err := h.svc.Push(ctx, h.conn.ID, "local-1")
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if result.Created != 1 {
			t.Errorf("Push() created = %d, want 1", result.Created)
		}

		c, _ := h.store.GetContact(ctx, "local-2")
		if !c.Dirty {
			t.Error("unselected contact was pushed")
		}
	})

	t.Run("hidden contacts are never pushed", func(t *testing.T) {
		h := newHarness(t)
		c := h.newLocalContact(t, "local-1", "One", "one@example.org")
		if err := h.svc.HideContact(ctx, c.ID); err != nil {
			t.Fatalf("HideContact() error = %v", err)
		}

		result, err := h.svc.Push(ctx, h.conn.ID)
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		if result.Created != 0 || h.dir.Writes != 0 {
			t.Errorf("hidden contact was pushed: result = %+v, writes = %d", result, h.dir.Writes)
		}
	})
}
