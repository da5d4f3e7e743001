package csync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"cardsync/internal/model"
)

// pushOutcome classifies what one per-contact push unit did.
type pushOutcome struct {
	contactID  string
	created    bool
	updated    bool
	skipped    bool
	conflictID string
	err        error
}

// Push writes locally dirty contacts to the remote address book of one
// connection under optimistic concurrency control. With no contactIDs the
// selection is every dirty, non-hidden contact linked to the connection;
// otherwise the given set, filtered by the same predicate.
//
// Each contact is an independent unit of work: transport failures are
// collected per contact and the batch continues. Only a credential
// rejection aborts the remaining batch.
func (s *SyncService) Push(ctx context.Context, connectionID string, contactIDs ...string) (*PushResult, error) {
	conn, err := s.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	key := conn.SourceKey()
	s.logger.Info("push started", "connection", conn.ID)

	selected, err := s.selectForPush(ctx, key, contactIDs)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		outcomes []pushOutcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.pushWorkers)

	for _, c := range selected {
		g.Go(func() error {
			out := s.pushOne(gctx, conn, c)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			if errors.Is(out.err, ErrNotAuthenticated) {
				// Hopeless for every remaining unit; stop the batch.
				return out.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &PushResult{}
	for _, out := range outcomes {
		switch {
		case out.err != nil:
			result.Errors = append(result.Errors, RecordError{ContactID: out.contactID, Err: out.err})
		case out.conflictID != "":
			result.Conflicts = append(result.Conflicts, out.conflictID)
		case out.created:
			result.Created++
		case out.updated:
			result.Updated++
		case out.skipped:
			result.Skipped++
		}
	}

	s.logger.Info("push complete", "connection", conn.ID,
		"created", result.Created, "updated", result.Updated,
		"skipped", result.Skipped, "conflicts", len(result.Conflicts),
		"errors", len(result.Errors))
	return result, nil
}

// selectForPush returns the contacts eligible for a push to the given
// source: dirty, not hidden, linked to the source.
func (s *SyncService) selectForPush(ctx context.Context, key model.SourceKey, contactIDs []string) ([]*model.Contact, error) {
	var candidates []*model.Contact
	if len(contactIDs) == 0 {
		linked, err := s.store.ListContactsBySource(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("listing linked contacts: %w", err)
		}
		candidates = linked
	} else {
		for _, id := range contactIDs {
			c, err := s.store.GetContact(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("loading contact %s: %w", id, err)
			}
			if c != nil {
				candidates = append(candidates, c)
			}
		}
	}

	var selected []*model.Contact
	for _, c := range candidates {
		if !c.Dirty || c.State == model.StateHidden || c.SourceRef(key) == nil {
			continue
		}
		selected = append(selected, c)
	}
	return selected, nil
}

// pushOne pushes a single contact. Its store write is a single atomic
// SaveContact, so units never race on the same row.
func (s *SyncService) pushOne(ctx context.Context, conn *model.SyncConnection, c *model.Contact) pushOutcome {
	key := conn.SourceKey()
	out := pushOutcome{contactID: c.ID}

	raw, err := s.normalizer.Serialize(c, key)
	if err != nil {
		out.err = err
		return out
	}
	hash := contentHash(raw)
	ref := c.SourceRef(key)

	// Deterministic serialization makes no-op pushes detectable: the
	// remote already holds exactly this record.
	if ref.NativeID != "" && ref.ContentHash == hash {
		c.Dirty = false
		c.UpdatedAt = s.clock.Now()
		if err := s.store.SaveContact(ctx, c); err != nil {
			out.err = fmt.Errorf("saving contact: %w", err)
			return out
		}
		out.skipped = true
		s.logger.Debug("push skipped, remote up to date", "contact", c.ID)
		return out
	}

	if ref.NativeID == "" {
		nativeID, token, err := s.directory.CreateMember(ctx, conn, raw)
		if err != nil {
			out.err = err
			return out
		}
		c.SetSourceRef(model.SourceRef{Key: key, NativeID: nativeID, Token: token, ContentHash: hash})
		c.Dirty = false
		c.UpdatedAt = s.clock.Now()
		if err := s.store.SaveContact(ctx, c); err != nil {
			out.err = fmt.Errorf("saving contact: %w", err)
			return out
		}
		out.created = true
		s.logger.Debug("remote member created", "contact", c.ID, "native_id", nativeID)
		return out
	}

	token, err := s.directory.UpdateMember(ctx, conn, ref.NativeID, raw, ref.Token)
	if errors.Is(err, ErrPreconditionFailed) {
		// The remote moved underneath us. Never overwrite: fold the
		// current remote state through the pull merge, which records a
		// conflict because the contact is dirty. Dirty stays set so the
		// next push retries once the user resolves.
		m, ferr := s.directory.FetchMember(ctx, conn, ref.NativeID)
		if ferr != nil {
			out.err = fmt.Errorf("re-fetching conflicted member: %w", ferr)
			return out
		}
		_, status, conflictID, merr := s.applyRemote(ctx, conn, *m)
		if merr != nil {
			out.err = merr
			return out
		}
		if status == mergeConflict {
			out.conflictID = conflictID
		}
		return out
	}
	if err != nil {
		out.err = err
		return out
	}

	c.SetSourceRef(model.SourceRef{Key: key, NativeID: ref.NativeID, Token: token, ContentHash: hash})
	c.Dirty = false
	c.UpdatedAt = s.clock.Now()
	if err := s.store.SaveContact(ctx, c); err != nil {
		out.err = fmt.Errorf("saving contact: %w", err)
		return out
	}
	out.updated = true
	s.logger.Debug("remote member updated", "contact", c.ID, "native_id", ref.NativeID)
	return out
}
