package csync

import (
	"context"

	"cardsync/internal/model"
)

// Member is one remote address-book entry: its native identifier, the
// remote's concurrency token and the raw wire-format record.
type Member struct {
	NativeID string
	Token    string
	Raw      []byte
}

// Directory is the network collaborator for a remote address book. The wire
// protocol (envelopes, authentication transport) lives entirely behind this
// interface; the core only sees members and tokens.
//
// Errors: implementations return ErrPreconditionFailed when a conditional
// update loses the token race, ErrNotAuthenticated on credential rejection,
// and wrap anything network-shaped in a *TransportError.
type Directory interface {
	// ListMembers fetches the connection's full current member list with
	// each member's concurrency token.
	ListMembers(ctx context.Context, conn *model.SyncConnection) ([]Member, error)

	// FetchMember fetches a single member by native identifier.
	FetchMember(ctx context.Context, conn *model.SyncConnection, nativeID string) (*Member, error)

	// CreateMember creates a new remote member from the raw record and
	// returns the assigned native identifier and initial token.
	CreateMember(ctx context.Context, conn *model.SyncConnection, raw []byte) (nativeID, token string, err error)

	// UpdateMember conditionally replaces a member. The update is applied
	// only while the remote still holds expectedToken; otherwise it fails
	// with ErrPreconditionFailed and the remote record is left untouched.
	UpdateMember(ctx context.Context, conn *model.SyncConnection, nativeID string, raw []byte, expectedToken string) (token string, err error)
}
