package directory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"cardsync/internal/csync"
	"cardsync/internal/model"
)

// memberState is one record held by the in-memory directory.
type memberState struct {
	raw   []byte
	token string
}

// MemoryDirectory is an in-memory implementation of csync.Directory. It
// behaves like a CardDAV server with ETag concurrency: every write bumps
// the member's token, and conditional updates fail with
// ErrPreconditionFailed on a stale token. Safe for concurrent use.
//
// It counts writes, which tests use to assert push idempotence.
type MemoryDirectory struct {
	mu      sync.Mutex
	books   map[string]map[string]*memberState // connectionID -> nativeID -> state
	nextID  int
	nextTag int

	Writes   int  // CreateMember + successful UpdateMember calls
	FailList bool // when set, ListMembers fails with a TransportError
	FailPut  bool // when set, writes fail with a TransportError
	Unauth   bool // when set, every call fails with ErrNotAuthenticated
}

var _ csync.Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{books: make(map[string]map[string]*memberState)}
}

// Seed inserts a member directly, bypassing concurrency control, and
// returns its token. Use in tests to stage remote state.
func (d *MemoryDirectory) Seed(connectionID, nativeID string, raw []byte) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	book := d.book(connectionID)
	token := d.bumpToken()
	book[nativeID] = &memberState{raw: raw, token: token}
	return token
}

// SeedToken inserts a member with a caller-chosen token. Use in tests to
// replay a member at a known concurrency token.
func (d *MemoryDirectory) SeedToken(connectionID, nativeID, token string, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.book(connectionID)[nativeID] = &memberState{raw: raw, token: token}
}

// Remove deletes a member directly. Use in tests to simulate remote
// deletion.
func (d *MemoryDirectory) Remove(connectionID, nativeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.book(connectionID), nativeID)
}

// Token returns a member's current token, or "" if absent.
func (d *MemoryDirectory) Token(connectionID, nativeID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.book(connectionID)[nativeID]; ok {
		return m.token
	}
	return ""
}

// Raw returns a member's current record, or nil if absent.
func (d *MemoryDirectory) Raw(connectionID, nativeID string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.book(connectionID)[nativeID]; ok {
		return m.raw
	}
	return nil
}

func (d *MemoryDirectory) book(connectionID string) map[string]*memberState {
	if d.books[connectionID] == nil {
		d.books[connectionID] = make(map[string]*memberState)
	}
	return d.books[connectionID]
}

func (d *MemoryDirectory) bumpToken() string {
	d.nextTag++
	return "etag-" + strconv.Itoa(d.nextTag)
}

func (d *MemoryDirectory) ListMembers(_ context.Context, conn *model.SyncConnection) ([]csync.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Unauth {
		return nil, csync.ErrNotAuthenticated
	}
	if d.FailList {
		return nil, &csync.TransportError{Op: "list members", Err: fmt.Errorf("directory unreachable")}
	}

	var members []csync.Member
	for id, m := range d.book(conn.ID) {
		members = append(members, csync.Member{NativeID: id, Token: m.token, Raw: m.raw})
	}
	return members, nil
}

func (d *MemoryDirectory) FetchMember(_ context.Context, conn *model.SyncConnection, nativeID string) (*csync.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Unauth {
		return nil, csync.ErrNotAuthenticated
	}

	m, ok := d.book(conn.ID)[nativeID]
	if !ok {
		return nil, &csync.TransportError{Op: "fetch member", Err: fmt.Errorf("member not found: %s", nativeID)}
	}
	return &csync.Member{NativeID: nativeID, Token: m.token, Raw: m.raw}, nil
}

func (d *MemoryDirectory) CreateMember(_ context.Context, conn *model.SyncConnection, raw []byte) (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Unauth {
		return "", "", csync.ErrNotAuthenticated
	}
	if d.FailPut {
		return "", "", &csync.TransportError{Op: "create member", Err: fmt.Errorf("directory unreachable")}
	}

	d.nextID++
	nativeID := "member-" + strconv.Itoa(d.nextID)
	token := d.bumpToken()
	d.book(conn.ID)[nativeID] = &memberState{raw: append([]byte(nil), raw...), token: token}
	d.Writes++
	return nativeID, token, nil
}

func (d *MemoryDirectory) UpdateMember(_ context.Context, conn *model.SyncConnection, nativeID string, raw []byte, expectedToken string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Unauth {
		return "", csync.ErrNotAuthenticated
	}
	if d.FailPut {
		return "", &csync.TransportError{Op: "update member", Err: fmt.Errorf("directory unreachable")}
	}

	m, ok := d.book(conn.ID)[nativeID]
	if !ok {
		return "", &csync.TransportError{Op: "update member", Err: fmt.Errorf("member not found: %s", nativeID)}
	}
	if m.token != expectedToken {
		return "", csync.ErrPreconditionFailed
	}

	m.raw = append([]byte(nil), raw...)
	m.token = d.bumpToken()
	d.Writes++
	return m.token, nil
}
