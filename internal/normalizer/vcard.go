// Package normalizer converts between the vCard wire format and the
// canonical contact model using emersion/go-vcard.
package normalizer

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-vcard"

	"cardsync/internal/csync"
	"cardsync/internal/model"
)

// VCardNormalizer implements csync.Normalizer for vCard 3.0/4.0 records.
type VCardNormalizer struct{}

var _ csync.Normalizer = (*VCardNormalizer)(nil)

func New() *VCardNormalizer { return &VCardNormalizer{} }

// propertyKinds maps vCard property names to canonical field kinds, in the
// order fields are produced on parse.
var propertyKinds = []struct {
	prop string
	kind model.FieldKind
}{
	{vcard.FieldFormattedName, model.FieldName},
	{vcard.FieldOrganization, model.FieldOrg},
	{vcard.FieldTelephone, model.FieldPhone},
	{vcard.FieldEmail, model.FieldEmail},
	{vcard.FieldAddress, model.FieldAddress},
	{vcard.FieldPhoto, model.FieldPhoto},
	{vcard.FieldURL, model.FieldURL},
	{vcard.FieldNote, model.FieldNote},
}

// Parse decodes one vCard record into a contact. Produced fields carry no
// origin; the caller stamps attribution. Fails with *csync.ParseError when
// the record is not a vCard or lacks the mandatory formatted name.
func (n *VCardNormalizer) Parse(raw []byte) (*model.Contact, error) {
	card, err := vcard.NewDecoder(bytes.NewReader(raw)).Decode()
	if err != nil {
		return nil, &csync.ParseError{Reason: "invalid vcard", Err: err}
	}
	if strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)) == "" {
		return nil, &csync.ParseError{Reason: "missing formatted name (FN)"}
	}

	c := &model.Contact{}
	for _, pk := range propertyKinds {
		for _, f := range card[pk.prop] {
			value := f.Value
			if pk.prop == vcard.FieldOrganization {
				// ORG is structured; the organization name is the
				// first component.
				value = strings.SplitN(value, ";", 2)[0]
			}
			if strings.TrimSpace(value) == "" {
				continue
			}
			c.Fields = append(c.Fields, model.Field{
				Kind:  pk.kind,
				Label: strings.ToLower(f.Params.Get(vcard.ParamType)),
				Value: value,
			})
			if pk.kind.Singleton() && c.HasField(pk.kind) {
				break // keep the first of singleton kinds
			}
		}
	}
	return c, nil
}

// Serialize encodes the subset of fields attributable to src (originating
// from it or unattributed) as a vCard 4.0 record. Output is canonical:
// property lines are emitted in sorted order, so the same contact and
// source always produce byte-identical records.
func (n *VCardNormalizer) Serialize(c *model.Contact, src model.SourceKey) ([]byte, error) {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, "4.0")
	if c.ID != "" {
		card.SetValue(vcard.FieldUID, "urn:uuid:"+c.ID)
	}

	name := ""
	for _, f := range c.FieldsFor(src) {
		prop, ok := kindProperty(f.Kind)
		if !ok {
			continue
		}
		if f.Kind == model.FieldName {
			if name != "" {
				continue
			}
			name = f.Value
		}
		field := &vcard.Field{Value: f.Value, Params: make(vcard.Params)}
		if f.Label != "" {
			field.Params.Add(vcard.ParamType, f.Label)
		}
		card.Add(prop, field)
	}
	if name == "" {
		return nil, fmt.Errorf("serializing contact %s: no name field for source %s", c.ID, src.String())
	}

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("encoding vcard: %w", err)
	}
	return canonicalize(buf.Bytes()), nil
}

func kindProperty(kind model.FieldKind) (string, bool) {
	for _, pk := range propertyKinds {
		if pk.kind == kind {
			return pk.prop, true
		}
	}
	return "", false
}

// canonicalize rewrites an encoded vCard with its property lines sorted.
// The encoder emits properties in a fixed name order, but repeated values
// of one property follow the contact's field order, which shifts as fields
// are replaced and appended. Sorting makes equal content hash equal
// regardless of that order.
func canonicalize(raw []byte) []byte {
	lines := strings.Split(string(raw), "\r\n")

	var begin, version, end string
	props := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case line == "":
		case strings.HasPrefix(line, "BEGIN:"):
			begin = line
		case strings.HasPrefix(line, "VERSION:"):
			version = line
		case strings.HasPrefix(line, "END:"):
			end = line
		default:
			props = append(props, line)
		}
	}
	sort.Strings(props)

	var out strings.Builder
	out.WriteString(begin)
	out.WriteString("\r\n")
	out.WriteString(version)
	out.WriteString("\r\n")
	for _, line := range props {
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	out.WriteString(end)
	out.WriteString("\r\n")
	return []byte(out.String())
}
