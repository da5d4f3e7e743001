package csync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"cardsync/internal/model"
)

// SyncService is the orchestration layer for contact synchronization. It
// coordinates the store, the remote directory, the wire-format normalizer
// and the photo cache to run pull/push reconciliation and import merges.
//
// The caller must serialize pulls and pushes per connection; concurrent
// pull+push on the same connection is not supported.
type SyncService struct {
	store       Store
	directory   Directory
	normalizer  Normalizer
	photos      PhotoStore // optional, may be nil
	logger      Logger
	clock       Clock
	idgen       IDGenerator
	pushWorkers int
}

// NewSyncService creates a SyncService with the provided dependencies.
// photos may be nil to disable the photo cache. pushWorkers bounds the
// number of concurrent per-contact push units; values < 1 mean serial.
func NewSyncService(store Store, directory Directory, normalizer Normalizer, photos PhotoStore, logger Logger, clock Clock, idgen IDGenerator, pushWorkers int) *SyncService {
	if pushWorkers < 1 {
		pushWorkers = 1
	}
	return &SyncService{
		store:       store,
		directory:   directory,
		normalizer:  normalizer,
		photos:      photos,
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		pushWorkers: pushWorkers,
	}
}

// connection loads and validates a sync connection.
func (s *SyncService) connection(ctx context.Context, connectionID string) (*model.SyncConnection, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("unknown connection: %s", connectionID)
	}
	return conn, nil
}

// contentHash returns the hex SHA-256 of a serialized record.
func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// serializedHash serializes the contact scoped to src and hashes the result.
func (s *SyncService) serializedHash(c *model.Contact, src model.SourceKey) (string, error) {
	raw, err := s.normalizer.Serialize(c, src)
	if err != nil {
		return "", fmt.Errorf("serializing contact %s: %w", c.ID, err)
	}
	return contentHash(raw), nil
}

// mergeStatus reports what applyRemote did with a member.
type mergeStatus int

const (
	mergeCreated mergeStatus = iota
	mergeUpdated
	mergeUnchanged
	mergeConflict
)

// applyRemote folds one remote member into the local store. It implements
// the per-record pull merge, which the push reconciler reuses when a
// conditional update loses the token race.
//
// Returns the resulting contact, what happened, and the conflict ID when
// status is mergeConflict.
func (s *SyncService) applyRemote(ctx context.Context, conn *model.SyncConnection, m Member) (*model.Contact, mergeStatus, string, error) {
	key := conn.SourceKey()

	local, err := s.store.FindContactBySource(ctx, key, m.NativeID)
	if err != nil {
		return nil, 0, "", fmt.Errorf("looking up contact by source: %w", err)
	}

	if local == nil {
		c, err := s.createFromMember(ctx, key, m)
		if err != nil {
			return nil, 0, "", err
		}
		return c, mergeCreated, "", nil
	}

	ref := local.SourceRef(key)
	if ref != nil && ref.Token == m.Token {
		if local.State == model.StateOrphaned {
			// The member is back under the same token, typically after a
			// transient listing gap. The orphan flag no longer applies.
			local.State = model.StateActive
			local.UpdatedAt = s.clock.Now()
			if err := s.store.SaveContact(ctx, local); err != nil {
				return nil, 0, "", fmt.Errorf("saving contact %s: %w", local.ID, err)
			}
			return local, mergeUpdated, "", nil
		}
		return local, mergeUnchanged, "", nil
	}

	if local.Dirty {
		id, err := s.recordConflict(ctx, local, key, m)
		if err != nil {
			return nil, 0, "", err
		}
		return local, mergeConflict, id, nil
	}

	parsed, err := s.normalizer.Parse(m.Raw)
	if err != nil {
		return nil, 0, "", err
	}

	local.ReplaceFieldsFrom(key, stampOrigin(parsed.Fields, key))
	if local.State == model.StateOrphaned {
		// The member came back; the orphan flag no longer applies.
		local.State = model.StateActive
	}
	hash, err := s.serializedHash(local, key)
	if err != nil {
		return nil, 0, "", err
	}
	local.SetSourceRef(model.SourceRef{Key: key, NativeID: m.NativeID, Token: m.Token, ContentHash: hash})
	local.UpdatedAt = s.clock.Now()

	if err := s.store.SaveContact(ctx, local); err != nil {
		return nil, 0, "", fmt.Errorf("saving contact %s: %w", local.ID, err)
	}

	s.cachePhotos(ctx, local)
	return local, mergeUpdated, "", nil
}

// createFromMember creates a new local contact from a remote member.
func (s *SyncService) createFromMember(ctx context.Context, key model.SourceKey, m Member) (*model.Contact, error) {
	parsed, err := s.normalizer.Parse(m.Raw)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &model.Contact{
		ID:        s.idgen.New(),
		State:     model.StateActive,
		Dirty:     false,
		Fields:    stampOrigin(parsed.Fields, key),
		CreatedAt: now,
		UpdatedAt: now,
	}
	hash, err := s.serializedHash(c, key)
	if err != nil {
		return nil, err
	}
	c.SetSourceRef(model.SourceRef{Key: key, NativeID: m.NativeID, Token: m.Token, ContentHash: hash})

	if err := s.store.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("saving new contact: %w", err)
	}

	s.cachePhotos(ctx, c)
	return c, nil
}

// recordConflict persists the remote state that collided with local edits.
// An open conflict for the same contact and source is updated in place so
// repeated pulls keep exactly one artifact current.
func (s *SyncService) recordConflict(ctx context.Context, c *model.Contact, key model.SourceKey, m Member) (string, error) {
	cf, err := s.store.FindOpenConflict(ctx, c.ID, key)
	if err != nil {
		return "", fmt.Errorf("looking up open conflict: %w", err)
	}
	if cf == nil {
		cf = &model.Conflict{
			ID:        s.idgen.New(),
			ContactID: c.ID,
			Source:    key,
			CreatedAt: s.clock.Now(),
		}
	}
	cf.RemoteRaw = m.Raw
	cf.RemoteToken = m.Token
	if err := s.store.SaveConflict(ctx, cf); err != nil {
		return "", fmt.Errorf("saving conflict: %w", err)
	}
	s.logger.Warn("sync conflict recorded", "contact", c.ID, "source", key.String(), "conflict", cf.ID)
	return cf.ID, nil
}

// stampOrigin attributes parsed fields to the source they came from.
func stampOrigin(fields []model.Field, key model.SourceKey) []model.Field {
	out := make([]model.Field, len(fields))
	for i, f := range fields {
		f.Origin = key
		out[i] = f
	}
	return out
}

// cachePhotos stores inline photo data in the photo cache, content-addressed
// by checksum. Failures are logged and ignored: the cache is derived state.
func (s *SyncService) cachePhotos(ctx context.Context, c *model.Contact) {
	if s.photos == nil {
		return
	}
	for _, f := range c.Fields {
		if f.Kind != model.FieldPhoto {
			continue
		}
		data, ok := decodeInlinePhoto(f.Value)
		if !ok {
			continue
		}
		checksum := contentHash(data)
		exists, err := s.photos.Exists(ctx, checksum)
		if err != nil || exists {
			continue
		}
		if err := s.photos.Put(ctx, checksum, bytes.NewReader(data), int64(len(data))); err != nil {
			s.logger.Warn("caching photo failed", "contact", c.ID, "error", err)
			continue
		}
		s.logger.Debug("photo cached", "contact", c.ID, "checksum", checksum)
	}
}

// decodeInlinePhoto extracts raw bytes from an inline photo value, either
// a data URI or the bare base64 payload older vCards carry. Referenced
// (http/https) photo values are not fetched.
func decodeInlinePhoto(value string) ([]byte, bool) {
	if value == "" || strings.Contains(value, "://") {
		return nil, false
	}
	if strings.HasPrefix(value, "data:") {
		i := strings.Index(value, ";base64,")
		if i < 0 {
			return nil, false
		}
		value = value[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	return data, true
}

// PhotoChecksums returns the checksums of the contact's cached inline photos.
func PhotoChecksums(c *model.Contact) []string {
	var out []string
	for _, f := range c.Fields {
		if f.Kind != model.FieldPhoto {
			continue
		}
		if data, ok := decodeInlinePhoto(f.Value); ok {
			out = append(out, contentHash(data))
		}
	}
	return out
}

// ListContacts returns all contacts.
func (s *SyncService) ListContacts(ctx context.Context) ([]*model.Contact, error) {
	return s.store.ListContacts(ctx)
}

// GetContact returns one contact by id.
func (s *SyncService) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := s.store.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("unknown contact: %s", id)
	}
	return c, nil
}

// SetField applies a local edit to one contact field and marks the contact
// for push. Singleton kinds replace the existing value in place, keeping
// its origin so the edit flows back to the source it came from; other kinds
// append an unattributed field. Returns the updated contact.
func (s *SyncService) SetField(ctx context.Context, id string, kind model.FieldKind, label, value string) (*model.Contact, error) {
	if value == "" {
		return nil, fmt.Errorf("empty value for %s field", kind)
	}
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}

	replaced := false
	if kind.Singleton() {
		for i := range c.Fields {
			if c.Fields[i].Kind != kind {
				continue
			}
			c.Fields[i].Value = value
			if label != "" {
				c.Fields[i].Label = label
			}
			replaced = true
			break
		}
	}
	if !replaced {
		c.Fields = append(c.Fields, model.Field{Kind: kind, Label: label, Value: value})
	}

	c.Dirty = true
	c.UpdatedAt = s.clock.Now()
	if err := s.store.SaveContact(ctx, c); err != nil {
		return nil, fmt.Errorf("saving contact %s: %w", id, err)
	}
	s.logger.Info("contact edited", "contact", id, "kind", string(kind))
	return c, nil
}

// HideContact soft-deletes a contact. Hidden contacts are excluded from
// pushes and from pull-driven orphan decisions; they are never purged.
func (s *SyncService) HideContact(ctx context.Context, id string) error {
	return s.setState(ctx, id, model.StateHidden)
}

// UnhideContact returns a hidden contact to the active state.
func (s *SyncService) UnhideContact(ctx context.Context, id string) error {
	return s.setState(ctx, id, model.StateActive)
}

func (s *SyncService) setState(ctx context.Context, id string, state model.LifecycleState) error {
	c, err := s.GetContact(ctx, id)
	if err != nil {
		return err
	}
	if c.State == state {
		return nil
	}
	c.State = state
	c.UpdatedAt = s.clock.Now()
	if err := s.store.SaveContact(ctx, c); err != nil {
		return fmt.Errorf("saving contact %s: %w", id, err)
	}
	s.logger.Info("contact state changed", "contact", id, "state", string(state))
	return nil
}

// ListConflicts returns unresolved conflicts, optionally scoped to one
// connection.
func (s *SyncService) ListConflicts(ctx context.Context, connectionID string) ([]*model.Conflict, error) {
	return s.store.ListOpenConflicts(ctx, connectionID)
}

// ResolveConflict settles a recorded conflict. keep selects the winner:
//
//	"remote": the conflict's remote record replaces this source's local
//	fields and the contact is clean again.
//	"local": the local edits stand; the stored token is advanced to the
//	conflict's remote token so the next push wins the conditional update.
func (s *SyncService) ResolveConflict(ctx context.Context, conflictID, keep string) error {
	cf, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("loading conflict: %w", err)
	}
	if cf == nil {
		return fmt.Errorf("unknown conflict: %s", conflictID)
	}
	if cf.ResolvedAt != nil {
		return fmt.Errorf("conflict already resolved: %s", conflictID)
	}

	c, err := s.GetContact(ctx, cf.ContactID)
	if err != nil {
		return err
	}
	ref := c.SourceRef(cf.Source)
	if ref == nil {
		return fmt.Errorf("contact %s has no ref for source %s", c.ID, cf.Source.String())
	}

	switch keep {
	case "remote":
		parsed, err := s.normalizer.Parse(cf.RemoteRaw)
		if err != nil {
			return err
		}
		c.ReplaceFieldsFrom(cf.Source, stampOrigin(parsed.Fields, cf.Source))
		hash, err := s.serializedHash(c, cf.Source)
		if err != nil {
			return err
		}
		c.SetSourceRef(model.SourceRef{Key: cf.Source, NativeID: ref.NativeID, Token: cf.RemoteToken, ContentHash: hash})
		c.Dirty = false
	case "local":
		ref.Token = cf.RemoteToken
	default:
		return fmt.Errorf("invalid resolution %q: must be \"local\" or \"remote\"", keep)
	}

	c.UpdatedAt = s.clock.Now()
	if err := s.store.SaveContact(ctx, c); err != nil {
		return fmt.Errorf("saving contact %s: %w", c.ID, err)
	}

	now := s.clock.Now()
	cf.ResolvedAt = &now
	if err := s.store.SaveConflict(ctx, cf); err != nil {
		return fmt.Errorf("marking conflict resolved: %w", err)
	}
	s.logger.Info("conflict resolved", "conflict", cf.ID, "keep", keep)
	return nil
}
