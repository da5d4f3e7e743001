package csync

import (
	"context"

	"cardsync/internal/model"
)

// Store is the canonical contact store. Lookup methods return (nil, nil)
// when no row matches. SaveContact must be atomic per contact: a
// read-modify-write on one contact never observes another writer's partial
// update of the same contact.
type Store interface {
	// Contact operations

	// GetContact returns a contact by its local identifier.
	GetContact(ctx context.Context, id string) (*model.Contact, error)

	// FindContactBySource returns the contact linked to the given source
	// under the source's native identifier.
	FindContactBySource(ctx context.Context, key model.SourceKey, nativeID string) (*model.Contact, error)

	// ListContacts returns all contacts in every lifecycle state.
	ListContacts(ctx context.Context) ([]*model.Contact, error)

	// ListContactsBySource returns all contacts carrying a ref for the
	// given source.
	ListContactsBySource(ctx context.Context, key model.SourceKey) ([]*model.Contact, error)

	// SaveContact inserts or fully replaces a contact.
	SaveContact(ctx context.Context, c *model.Contact) error

	// Connection operations

	GetConnection(ctx context.Context, id string) (*model.SyncConnection, error)
	ListConnections(ctx context.Context) ([]*model.SyncConnection, error)
	SaveConnection(ctx context.Context, conn *model.SyncConnection) error
	DeleteConnection(ctx context.Context, id string) error

	// Conflict operations

	// SaveConflict inserts or replaces a conflict artifact.
	SaveConflict(ctx context.Context, cf *model.Conflict) error

	// GetConflict returns a conflict by id.
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)

	// FindOpenConflict returns the unresolved conflict for a contact and
	// source, so repeated pulls update one artifact instead of piling up.
	FindOpenConflict(ctx context.Context, contactID string, key model.SourceKey) (*model.Conflict, error)

	// ListOpenConflicts returns unresolved conflicts, optionally scoped to
	// one connection (empty connectionID means all).
	ListOpenConflicts(ctx context.Context, connectionID string) ([]*model.Conflict, error)

	// Close closes the underlying database.
	Close() error
}
