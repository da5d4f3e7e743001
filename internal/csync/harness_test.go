package csync_test

import (
	"context"
	"fmt"
	"testing"

	"cardsync/internal/csync"
	"cardsync/internal/directory"
	"cardsync/internal/model"
	"cardsync/internal/normalizer"
	"cardsync/internal/photos"
	"cardsync/internal/store"
	"cardsync/internal/testutil"
)

// harness wires a SyncService against an in-memory store and directory.
type harness struct {
	store  *store.SQLiteStore
	dir    *directory.MemoryDirectory
	photos *photos.MemoryStore
	clock  *testutil.ManualClock
	svc    *csync.SyncService
	conn   *model.SyncConnection // carddav connection
	imp    *model.SyncConnection // linkedin import connection
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s := testutil.NewTestStore(t)
	dir := directory.NewMemoryDirectory()
	ps := photos.NewMemoryStore()
	clock := testutil.EpochClock()

	svc := csync.NewSyncService(s, dir, normalizer.New(), ps, csync.NewNopLogger(), clock, testutil.NewSequenceIDs(), 2)

	h := &harness{store: s, dir: dir, photos: ps, clock: clock, svc: svc}
	ctx := context.Background()

	h.conn = &model.SyncConnection{
		ID:              "conn-dav",
		Name:            "test server",
		Kind:            model.SourceCardDAV,
		Endpoint:        "https://dav.example.org",
		AddressBookPath: "/contacts/default/",
		Username:        "tester",
		CreatedAt:       clock.Now(),
	}
	if err := s.SaveConnection(ctx, h.conn); err != nil {
		t.Fatalf("saving carddav connection: %v", err)
	}

	h.imp = &model.SyncConnection{
		ID:        "conn-li",
		Name:      "test import",
		Kind:      model.SourceLinkedIn,
		CreatedAt: clock.Now(),
	}
	if err := s.SaveConnection(ctx, h.imp); err != nil {
		t.Fatalf("saving import connection: %v", err)
	}

	return h
}

// vcardRecord builds a minimal vCard with a name and an email address.
func vcardRecord(name, email string) []byte {
	return []byte("BEGIN:VCARD\r\n" +
		"VERSION:4.0\r\n" +
		"FN:" + name + "\r\n" +
		"EMAIL;TYPE=work:" + email + "\r\n" +
		"END:VCARD\r\n")
}

// seedMembers stages n generated members in the remote directory and returns
// their native IDs.
func (h *harness) seedMembers(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("card-%d.vcf", i+1)
		name := fmt.Sprintf("Person %d", i+1)
		email := fmt.Sprintf("person%d@example.org", i+1)
		h.dir.Seed(h.conn.ID, id, vcardRecord(name, email))
		ids[i] = id
	}
	return ids
}

// contactBySource fails the test unless the contact exists.
func (h *harness) contactBySource(t *testing.T, nativeID string) *model.Contact {
	t.Helper()
	c, err := h.store.FindContactBySource(context.Background(), h.conn.SourceKey(), nativeID)
	if err != nil {
		t.Fatalf("FindContactBySource(%s) error = %v", nativeID, err)
	}
	if c == nil {
		t.Fatalf("FindContactBySource(%s) = nil, want contact", nativeID)
	}
	return c
}

// markDirty edits the contact's name through the service, which sets the
// dirty flag.
func (h *harness) markDirty(t *testing.T, c *model.Contact, newName string) {
	t.Helper()
	updated, err := h.svc.SetField(context.Background(), c.ID, model.FieldName, "", newName)
	if err != nil {
		t.Fatalf("SetField() error = %v", err)
	}
	*c = *updated
}
