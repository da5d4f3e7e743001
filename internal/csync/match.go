package csync

import (
	"strings"

	"cardsync/internal/model"
)

// Match decides whether candidate represents the same person as an existing
// contact in pool. The policy is an ordered rule cascade, first hit wins,
// no cross-rule scoring:
//
//  1. exact match on a normalized email address
//  2. exact match on a normalized phone number
//  3. exact match on normalized full name AND organization (both non-empty)
//
// Returns the matched contact's ID, or ok=false when no rule fires.
func Match(candidate *model.Contact, pool []*model.Contact) (string, bool) {
	if id, ok := matchByValues(candidate, pool, model.FieldEmail, NormalizeEmail); ok {
		return id, true
	}
	if id, ok := matchByValues(candidate, pool, model.FieldPhone, NormalizePhone); ok {
		return id, true
	}
	return matchByNameOrg(candidate, pool)
}

func matchByValues(candidate *model.Contact, pool []*model.Contact, kind model.FieldKind, norm func(string) string) (string, bool) {
	want := make(map[string]bool)
	for _, f := range candidate.Fields {
		if f.Kind != kind {
			continue
		}
		if v := norm(f.Value); v != "" {
			want[v] = true
		}
	}
	if len(want) == 0 {
		return "", false
	}
	for _, c := range pool {
		for _, f := range c.Fields {
			if f.Kind == kind && want[norm(f.Value)] {
				return c.ID, true
			}
		}
	}
	return "", false
}

func matchByNameOrg(candidate *model.Contact, pool []*model.Contact) (string, bool) {
	name := NormalizeText(firstValue(candidate, model.FieldName))
	org := NormalizeText(firstValue(candidate, model.FieldOrg))
	if name == "" || org == "" {
		return "", false
	}
	for _, c := range pool {
		if NormalizeText(firstValue(c, model.FieldName)) == name &&
			NormalizeText(firstValue(c, model.FieldOrg)) == org {
			return c.ID, true
		}
	}
	return "", false
}

func firstValue(c *model.Contact, kind model.FieldKind) string {
	for _, f := range c.Fields {
		if f.Kind == kind {
			return f.Value
		}
	}
	return ""
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// phoneSignificantDigits is how many trailing digits identify a line.
// Comparing on the tail makes "+1 (415) 555-2671" and "415-555-2671" the
// same number while keeping the rule deterministic.
const phoneSignificantDigits = 9

// NormalizePhone reduces a phone number to a comparable key: digits only,
// international prefixes ("+", "00") stripped, truncated to the trailing
// significant digits when long enough.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	hadPlus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if !hadPlus {
		digits = strings.TrimPrefix(digits, "00")
	}
	if len(digits) > phoneSignificantDigits {
		digits = digits[len(digits)-phoneSignificantDigits:]
	}
	return digits
}

// NormalizeText lowercases a name or organization and collapses runs of
// whitespace to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
