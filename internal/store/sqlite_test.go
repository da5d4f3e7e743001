package store_test

import (
	"context"
	"testing"
	"time"

	"cardsync/internal/model"
	"cardsync/internal/testutil"
)

var testKey = model.SourceKey{Kind: model.SourceCardDAV, ConnectionID: "conn-1"}

func testContact(id string) *model.Contact {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &model.Contact{
		ID:    id,
		State: model.StateActive,
		Dirty: true,
		Fields: []model.Field{
			{Kind: model.FieldName, Value: "Ada Lovelace", Origin: testKey},
			{Kind: model.FieldEmail, Label: "work", Value: "ada@example.org", Origin: testKey},
			{Kind: model.FieldNote, Value: "user note"},
		},
		Sources: []model.SourceRef{
			{Key: testKey, NativeID: "ada.vcf", Token: "etag-1", ContentHash: "abc123"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_Contacts(t *testing.T) {
	ctx := context.Background()

	t.Run("save and get round trip", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		want := testContact("c-1")

		if err := s.SaveContact(ctx, want); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
		got, err := s.GetContact(ctx, "c-1")
		if err != nil {
			t.Fatalf("GetContact() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetContact() = nil")
		}

		if got.State != want.State || got.Dirty != want.Dirty {
			t.Errorf("got state=%s dirty=%v, want state=%s dirty=%v", got.State, got.Dirty, want.State, want.Dirty)
		}
		if len(got.Fields) != len(want.Fields) {
			t.Fatalf("fields = %d, want %d", len(got.Fields), len(want.Fields))
		}
		for i, f := range got.Fields {
			if f != want.Fields[i] {
				t.Errorf("field[%d] = %+v, want %+v", i, f, want.Fields[i])
			}
		}
		if len(got.Sources) != 1 || got.Sources[0] != want.Sources[0] {
			t.Errorf("sources = %+v, want %+v", got.Sources, want.Sources)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
			t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.UpdatedAt, want.CreatedAt, want.UpdatedAt)
		}
	})

	t.Run("get missing returns nil without error", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		got, err := s.GetContact(ctx, "missing")
		if err != nil {
			t.Fatalf("GetContact() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetContact() = %+v, want nil", got)
		}
	})

	t.Run("save replaces fields and sources", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		c := testContact("c-1")
		if err := s.SaveContact(ctx, c); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}

		c.Fields = c.Fields[:1]
		c.Sources[0].Token = "etag-2"
		if err := s.SaveContact(ctx, c); err != nil {
			t.Fatalf("second SaveContact() error = %v", err)
		}

		got, err := s.GetContact(ctx, "c-1")
		if err != nil {
			t.Fatalf("GetContact() error = %v", err)
		}
		if len(got.Fields) != 1 {
			t.Errorf("fields after replace = %d, want 1", len(got.Fields))
		}
		if got.Sources[0].Token != "etag-2" {
			t.Errorf("token = %q, want etag-2", got.Sources[0].Token)
		}
	})

	t.Run("find by source", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveContact(ctx, testContact("c-1")); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}

		got, err := s.FindContactBySource(ctx, testKey, "ada.vcf")
		if err != nil {
			t.Fatalf("FindContactBySource() error = %v", err)
		}
		if got == nil || got.ID != "c-1" {
			t.Errorf("FindContactBySource() = %+v, want c-1", got)
		}

		got, err = s.FindContactBySource(ctx, testKey, "missing.vcf")
		if err != nil {
			t.Fatalf("FindContactBySource() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindContactBySource() = %+v, want nil", got)
		}

		otherKey := model.SourceKey{Kind: model.SourceCardDAV, ConnectionID: "conn-other"}
		got, err = s.FindContactBySource(ctx, otherKey, "ada.vcf")
		if err != nil {
			t.Fatalf("FindContactBySource() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindContactBySource() with other connection = %+v, want nil", got)
		}
	})

	t.Run("list by source", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		linked := testContact("c-1")
		if err := s.SaveContact(ctx, linked); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
		unlinked := testContact("c-2")
		unlinked.Sources = nil
		if err := s.SaveContact(ctx, unlinked); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}

		got, err := s.ListContactsBySource(ctx, testKey)
		if err != nil {
			t.Fatalf("ListContactsBySource() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "c-1" {
			t.Errorf("ListContactsBySource() = %d contacts, want only c-1", len(got))
		}

		all, err := s.ListContacts(ctx)
		if err != nil {
			t.Fatalf("ListContacts() error = %v", err)
		}
		if len(all) != 2 {
			t.Errorf("ListContacts() = %d, want 2", len(all))
		}
	})

	t.Run("multiple unpushed contacts may share an empty native id", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		for _, id := range []string{"c-1", "c-2"} {
			c := testContact(id)
			c.Sources = []model.SourceRef{{Key: testKey}}
			if err := s.SaveContact(ctx, c); err != nil {
				t.Fatalf("SaveContact(%s) error = %v", id, err)
			}
		}
	})
}

func TestSQLiteStore_Connections(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	conn := &model.SyncConnection{
		ID:              "conn-1",
		Name:            "work dav",
		Kind:            model.SourceCardDAV,
		Endpoint:        "https://dav.example.org",
		AddressBookPath: "/contacts/default/",
		Username:        "ada",
		SealedPassword:  []byte("sealed bytes"),
		CreatedAt:       now,
	}

	t.Run("save, get, list, delete", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveConnection(ctx, conn); err != nil {
			t.Fatalf("SaveConnection() error = %v", err)
		}

		got, err := s.GetConnection(ctx, "conn-1")
		if err != nil {
			t.Fatalf("GetConnection() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetConnection() = nil")
		}
		if got.Name != conn.Name || got.Kind != conn.Kind || got.Username != conn.Username {
			t.Errorf("GetConnection() = %+v, want %+v", got, conn)
		}
		if string(got.SealedPassword) != "sealed bytes" {
			t.Errorf("sealed password = %q", got.SealedPassword)
		}
		if got.LastSyncAt != nil {
			t.Errorf("LastSyncAt = %v, want nil", got.LastSyncAt)
		}

		conns, err := s.ListConnections(ctx)
		if err != nil {
			t.Fatalf("ListConnections() error = %v", err)
		}
		if len(conns) != 1 {
			t.Errorf("ListConnections() = %d, want 1", len(conns))
		}

		if err := s.DeleteConnection(ctx, "conn-1"); err != nil {
			t.Fatalf("DeleteConnection() error = %v", err)
		}
		got, err = s.GetConnection(ctx, "conn-1")
		if err != nil {
			t.Fatalf("GetConnection() after delete error = %v", err)
		}
		if got != nil {
			t.Errorf("GetConnection() after delete = %+v, want nil", got)
		}
	})

	t.Run("upsert updates last sync time", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveConnection(ctx, conn); err != nil {
			t.Fatalf("SaveConnection() error = %v", err)
		}

		synced := now.Add(time.Hour)
		conn.LastSyncAt = &synced
		if err := s.SaveConnection(ctx, conn); err != nil {
			t.Fatalf("second SaveConnection() error = %v", err)
		}
		conn.LastSyncAt = nil

		got, err := s.GetConnection(ctx, "conn-1")
		if err != nil {
			t.Fatalf("GetConnection() error = %v", err)
		}
		if got.LastSyncAt == nil || !got.LastSyncAt.Equal(synced) {
			t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, synced)
		}
	})
}

func TestSQLiteStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	newConflict := func(id, contactID string) *model.Conflict {
		return &model.Conflict{
			ID:          id,
			ContactID:   contactID,
			Source:      testKey,
			RemoteRaw:   []byte("BEGIN:VCARD..."),
			RemoteToken: "etag-9",
			CreatedAt:   now,
		}
	}

	t.Run("save, get and find open", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveContact(ctx, testContact("c-1")); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
		cf := newConflict("cf-1", "c-1")
		if err := s.SaveConflict(ctx, cf); err != nil {
			t.Fatalf("SaveConflict() error = %v", err)
		}

		got, err := s.GetConflict(ctx, "cf-1")
		if err != nil {
			t.Fatalf("GetConflict() error = %v", err)
		}
		if got == nil || got.ContactID != "c-1" || got.RemoteToken != "etag-9" {
			t.Errorf("GetConflict() = %+v", got)
		}
		if string(got.RemoteRaw) != "BEGIN:VCARD..." {
			t.Errorf("remote raw = %q", got.RemoteRaw)
		}

		open, err := s.FindOpenConflict(ctx, "c-1", testKey)
		if err != nil {
			t.Fatalf("FindOpenConflict() error = %v", err)
		}
		if open == nil || open.ID != "cf-1" {
			t.Errorf("FindOpenConflict() = %+v, want cf-1", open)
		}
	})

	t.Run("resolved conflicts leave the open set", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveContact(ctx, testContact("c-1")); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
		cf := newConflict("cf-1", "c-1")
		if err := s.SaveConflict(ctx, cf); err != nil {
			t.Fatalf("SaveConflict() error = %v", err)
		}

		resolved := now.Add(time.Hour)
		cf.ResolvedAt = &resolved
		if err := s.SaveConflict(ctx, cf); err != nil {
			t.Fatalf("resolving SaveConflict() error = %v", err)
		}

		open, err := s.FindOpenConflict(ctx, "c-1", testKey)
		if err != nil {
			t.Fatalf("FindOpenConflict() error = %v", err)
		}
		if open != nil {
			t.Errorf("FindOpenConflict() = %+v, want nil", open)
		}

		list, err := s.ListOpenConflicts(ctx, "")
		if err != nil {
			t.Fatalf("ListOpenConflicts() error = %v", err)
		}
		if len(list) != 0 {
			t.Errorf("ListOpenConflicts() = %d, want 0", len(list))
		}

		got, err := s.GetConflict(ctx, "cf-1")
		if err != nil {
			t.Fatalf("GetConflict() error = %v", err)
		}
		if got.ResolvedAt == nil || !got.ResolvedAt.Equal(resolved) {
			t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, resolved)
		}
	})

	t.Run("list scoped by connection", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.SaveContact(ctx, testContact("c-1")); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
		other := testContact("c-2")
		other.Sources = []model.SourceRef{{Key: model.SourceKey{Kind: model.SourceCardDAV, ConnectionID: "conn-2"}, NativeID: "x.vcf"}}
		if err := s.SaveContact(ctx, other); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}

		if err := s.SaveConflict(ctx, newConflict("cf-1", "c-1")); err != nil {
			t.Fatalf("SaveConflict() error = %v", err)
		}
		cf2 := newConflict("cf-2", "c-2")
		cf2.Source = model.SourceKey{Kind: model.SourceCardDAV, ConnectionID: "conn-2"}
		if err := s.SaveConflict(ctx, cf2); err != nil {
			t.Fatalf("SaveConflict() error = %v", err)
		}

		all, err := s.ListOpenConflicts(ctx, "")
		if err != nil {
			t.Fatalf("ListOpenConflicts() error = %v", err)
		}
		if len(all) != 2 {
			t.Errorf("ListOpenConflicts(all) = %d, want 2", len(all))
		}

		scoped, err := s.ListOpenConflicts(ctx, "conn-2")
		if err != nil {
			t.Fatalf("ListOpenConflicts() error = %v", err)
		}
		if len(scoped) != 1 || scoped[0].ID != "cf-2" {
			t.Errorf("ListOpenConflicts(conn-2) = %+v, want cf-2", scoped)
		}
	})
}
