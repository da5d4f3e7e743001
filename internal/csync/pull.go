package csync

import (
	"context"
	"fmt"

	"cardsync/internal/model"
)

// Pull reconciles the local store against the remote address book of one
// connection. The member-list fetch is all-or-nothing: a transport failure
// there aborts the pull with no writes. Per-member failures (typically
// malformed records) are collected and never abort the batch.
func (s *SyncService) Pull(ctx context.Context, connectionID string) (*PullResult, error) {
	conn, err := s.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	key := conn.SourceKey()
	s.logger.Info("pull started", "connection", conn.ID)

	members, err := s.directory.ListMembers(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("fetching member list: %w", err)
	}

	result := &PullResult{}
	seen := make(map[string]bool, len(members))

	for _, m := range members {
		seen[m.NativeID] = true

		c, status, conflictID, err := s.applyRemote(ctx, conn, m)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{NativeID: m.NativeID, Err: err})
			s.logger.Warn("member skipped", "native_id", m.NativeID, "error", err)
			continue
		}
		switch status {
		case mergeCreated:
			result.Created++
			s.logger.Debug("contact created from remote", "contact", c.ID, "native_id", m.NativeID)
		case mergeUpdated:
			result.Updated++
		case mergeUnchanged:
			result.Unchanged++
		case mergeConflict:
			result.Conflicts = append(result.Conflicts, conflictID)
		}
	}

	orphaned, err := s.markOrphans(ctx, key, seen)
	if err != nil {
		return nil, err
	}
	result.Orphaned = orphaned

	now := s.clock.Now()
	conn.LastSyncAt = &now
	if err := s.store.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("updating connection: %w", err)
	}

	s.logger.Info("pull complete", "connection", conn.ID,
		"created", result.Created, "updated", result.Updated,
		"unchanged", result.Unchanged, "orphaned", result.Orphaned,
		"conflicts", len(result.Conflicts), "errors", len(result.Errors))
	return result, nil
}

// markOrphans flags contacts linked to this source whose native identifier
// was absent from the fetched member list. Contacts are never deleted on
// pull: a vanished remote counterpart may be a transient outage, so the
// contact is parked for user review instead. Hidden contacts are a user
// override and keep their state.
func (s *SyncService) markOrphans(ctx context.Context, key model.SourceKey, seen map[string]bool) (int, error) {
	linked, err := s.store.ListContactsBySource(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("listing linked contacts: %w", err)
	}

	orphaned := 0
	for _, c := range linked {
		ref := c.SourceRef(key)
		if ref == nil || seen[ref.NativeID] {
			continue
		}
		if ref.NativeID == "" {
			// A ref without a native identifier is a local contact
			// awaiting its first push, not a vanished member.
			continue
		}
		if c.State != model.StateActive {
			continue
		}
		c.State = model.StateOrphaned
		c.UpdatedAt = s.clock.Now()
		if err := s.store.SaveContact(ctx, c); err != nil {
			return orphaned, fmt.Errorf("saving orphaned contact %s: %w", c.ID, err)
		}
		orphaned++
		s.logger.Warn("contact orphaned", "contact", c.ID, "native_id", ref.NativeID)
	}
	return orphaned, nil
}
