package csync

import (
	"context"
	"fmt"
	"strings"

	"cardsync/internal/model"
)

// MergeImport folds a batch of scraped profiles into the canonical store.
// Matched profiles enrich the existing contact: the scraped source ref is
// added and only gaps are filled: a field populated from a directory
// source is never overwritten, scraped data is the lower-trust source.
// Unmatched profiles create new contacts.
//
// Imported data flows one way (network to store): the merger never marks a
// contact dirty, so nothing scraped is ever pushed to a directory server.
func (s *SyncService) MergeImport(ctx context.Context, batch []model.ScrapedProfile, connectionID string) (*MergeResult, error) {
	conn, err := s.connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	key := conn.SourceKey()
	s.logger.Info("import merge started", "connection", conn.ID, "batch", len(batch))

	// The match pool is every known contact, hidden ones included: a
	// profile matching a hidden contact must not resurface as a duplicate.
	pool, err := s.store.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}

	result := &MergeResult{}
	for _, p := range batch {
		candidate := contactFromProfile(p, key)
		if len(candidate.Fields) == 0 {
			result.Errors = append(result.Errors, RecordError{
				NativeID: p.ProfileURL,
				Err:      &ParseError{Reason: "scraped profile carries no usable fields"},
			})
			continue
		}

		if id, ok := Match(candidate, pool); ok {
			target := findByID(pool, id)
			enriched, err := s.enrich(ctx, target, candidate, key, p.ProfileURL)
			if err != nil {
				result.Errors = append(result.Errors, RecordError{ContactID: id, Err: err})
				continue
			}
			if enriched {
				result.Enriched++
			} else {
				result.Unchanged++
			}
			continue
		}

		created, err := s.createFromProfile(ctx, candidate, key, p.ProfileURL)
		if err != nil {
			result.Errors = append(result.Errors, RecordError{NativeID: p.ProfileURL, Err: err})
			continue
		}
		pool = append(pool, created)
		result.Created++
	}

	s.logger.Info("import merge complete", "connection", conn.ID,
		"created", result.Created, "enriched", result.Enriched,
		"unchanged", result.Unchanged, "errors", len(result.Errors))
	return result, nil
}

func findByID(pool []*model.Contact, id string) *model.Contact {
	for _, c := range pool {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// enrich adds the scraped source ref and fills field gaps on an existing
// contact. Returns false when the contact already had everything.
func (s *SyncService) enrich(ctx context.Context, c *model.Contact, candidate *model.Contact, key model.SourceKey, profileURL string) (bool, error) {
	changed := false

	if ref := c.SourceRef(key); ref == nil || ref.NativeID != profileURL {
		c.SetSourceRef(model.SourceRef{Key: key, NativeID: profileURL})
		changed = true
	}

	for _, f := range candidate.Fields {
		if s.fillGap(c, f) {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	c.UpdatedAt = s.clock.Now()
	if err := s.store.SaveContact(ctx, c); err != nil {
		return false, fmt.Errorf("saving enriched contact %s: %w", c.ID, err)
	}
	s.logger.Debug("contact enriched", "contact", c.ID, "profile", profileURL)
	return true, nil
}

// fillGap adds one scraped field if it fills a gap: singleton kinds only
// when the contact has none of that kind, multi-valued kinds only when the
// normalized value is new. Existing fields are never touched.
func (s *SyncService) fillGap(c *model.Contact, f model.Field) bool {
	if f.Kind.Singleton() {
		if c.HasField(f.Kind) {
			return false
		}
		c.Fields = append(c.Fields, f)
		return true
	}

	for _, existing := range c.Fields {
		if existing.Kind != f.Kind {
			continue
		}
		if normalizeForKind(f.Kind, existing.Value) == normalizeForKind(f.Kind, f.Value) {
			return false
		}
	}
	c.Fields = append(c.Fields, f)
	return true
}

func normalizeForKind(kind model.FieldKind, value string) string {
	switch kind {
	case model.FieldEmail:
		return NormalizeEmail(value)
	case model.FieldPhone:
		return NormalizePhone(value)
	default:
		return NormalizeText(value)
	}
}

// createFromProfile persists a new contact sourced purely from a scrape.
func (s *SyncService) createFromProfile(ctx context.Context, candidate *model.Contact, key model.SourceKey, profileURL string) (*model.Contact, error) {
	now := s.clock.Now()
	candidate.ID = s.idgen.New()
	candidate.State = model.StateActive
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	candidate.SetSourceRef(model.SourceRef{Key: key, NativeID: profileURL})

	if err := s.store.SaveContact(ctx, candidate); err != nil {
		return nil, fmt.Errorf("saving imported contact: %w", err)
	}
	s.logger.Debug("contact created from import", "contact", candidate.ID, "profile", profileURL)
	return candidate, nil
}

// contactFromProfile builds the candidate contact used for matching and as
// the field source for enrichment. All fields are attributed to the scrape.
func contactFromProfile(p model.ScrapedProfile, key model.SourceKey) *model.Contact {
	c := &model.Contact{}
	add := func(kind model.FieldKind, label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		c.Fields = append(c.Fields, model.Field{Kind: kind, Label: label, Value: value, Origin: key})
	}

	add(model.FieldName, "", p.FullName)
	add(model.FieldOrg, "", p.Organization)
	add(model.FieldNote, "title", p.Title)
	add(model.FieldAddress, "location", p.Location)
	add(model.FieldURL, "profile", p.ProfileURL)
	for _, e := range p.Emails {
		add(model.FieldEmail, "work", e)
	}
	for _, ph := range p.Phones {
		add(model.FieldPhone, "work", ph)
	}
	return c
}
