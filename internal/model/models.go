package model

import (
	"fmt"
	"time"
)

// SourceKind identifies the class of remote system a contact is linked to.
type SourceKind string

const (
	SourceCardDAV  SourceKind = "carddav"
	SourceLinkedIn SourceKind = "linkedin"
)

// SourceKey identifies one concrete remote source: a kind plus the
// connection it belongs to. The zero value means "no attribution"
// (user-entered data).
type SourceKey struct {
	Kind         SourceKind
	ConnectionID string
}

// IsZero reports whether the key carries no attribution.
func (k SourceKey) IsZero() bool {
	return k.Kind == "" && k.ConnectionID == ""
}

func (k SourceKey) String() string {
	if k.IsZero() {
		return "local"
	}
	return string(k.Kind) + ":" + k.ConnectionID
}

// LifecycleState is the tri-state contact lifecycle. A hidden contact is a
// terminal user override; an orphaned contact disappeared remotely and is
// pending review. Neither is ever deleted by sync.
type LifecycleState string

const (
	StateActive   LifecycleState = "active"
	StateHidden   LifecycleState = "hidden"
	StateOrphaned LifecycleState = "orphaned"
)

// FieldKind classifies a contact field semantically.
type FieldKind string

const (
	FieldName    FieldKind = "name"
	FieldOrg     FieldKind = "org"
	FieldPhone   FieldKind = "phone"
	FieldEmail   FieldKind = "email"
	FieldAddress FieldKind = "address"
	FieldPhoto   FieldKind = "photo"
	FieldURL     FieldKind = "url"
	FieldNote    FieldKind = "note"
)

// singletonKinds are field kinds a contact carries at most one of.
var singletonKinds = map[FieldKind]bool{
	FieldName:  true,
	FieldOrg:   true,
	FieldPhoto: true,
}

// Singleton reports whether a contact holds at most one field of this kind.
func (k FieldKind) Singleton() bool { return singletonKinds[k] }

// ParseFieldKind validates a user-supplied field kind.
func ParseFieldKind(s string) (FieldKind, error) {
	switch k := FieldKind(s); k {
	case FieldName, FieldOrg, FieldPhone, FieldEmail, FieldAddress, FieldPhoto, FieldURL, FieldNote:
		return k, nil
	}
	return "", fmt.Errorf("unknown field kind %q", s)
}

// Field is one typed value on a contact, tagged with a semantic label
// (e.g. "work", "cell") and the source it originated from.
type Field struct {
	Kind   FieldKind
	Label  string
	Value  string
	Origin SourceKey
}

// SourceRef links a contact to its native identity on one remote source.
// Token is the source's concurrency token (ETag) from the last successful
// sync; ContentHash is the SHA-256 of the last serialization exchanged with
// that source, used to detect no-op pushes.
type SourceRef struct {
	Key         SourceKey
	NativeID    string
	Token       string
	ContentHash string
}

// Contact is the canonical, source-independent contact record.
type Contact struct {
	ID        string
	State     LifecycleState
	Dirty     bool
	Fields    []Field
	Sources   []SourceRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceRef returns the contact's ref for the given source key, or nil.
func (c *Contact) SourceRef(key SourceKey) *SourceRef {
	for i := range c.Sources {
		if c.Sources[i].Key == key {
			return &c.Sources[i]
		}
	}
	return nil
}

// SetSourceRef adds or replaces the ref for ref.Key. A contact carries at
// most one ref per source key.
func (c *Contact) SetSourceRef(ref SourceRef) {
	for i := range c.Sources {
		if c.Sources[i].Key == ref.Key {
			c.Sources[i] = ref
			return
		}
	}
	c.Sources = append(c.Sources, ref)
}

// FieldsFor returns the fields attributable to the given source: fields
// originating from it plus fields with no attribution.
func (c *Contact) FieldsFor(key SourceKey) []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.Origin == key || f.Origin.IsZero() {
			out = append(out, f)
		}
	}
	return out
}

// ReplaceFieldsFrom removes all fields originating from key and appends the
// given fields in their place. Fields from other origins and unattributed
// fields are preserved.
func (c *Contact) ReplaceFieldsFrom(key SourceKey, fields []Field) {
	kept := c.Fields[:0]
	for _, f := range c.Fields {
		if f.Origin != key {
			kept = append(kept, f)
		}
	}
	c.Fields = append(kept, fields...)
}

// HasField reports whether the contact carries any field of the given kind.
func (c *Contact) HasField(kind FieldKind) bool {
	for _, f := range c.Fields {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// SyncConnection is one configured remote source. SealedPassword is the
// remote credential encrypted at rest; the sync core never sees plaintext.
type SyncConnection struct {
	ID              string
	Name            string
	Kind            SourceKind
	Endpoint        string
	AddressBookPath string
	Username        string
	SealedPassword  []byte
	LastSyncAt      *time.Time
	CreatedAt       time.Time
}

// SourceKey returns the source key for contacts linked to this connection.
func (sc *SyncConnection) SourceKey() SourceKey {
	return SourceKey{Kind: sc.Kind, ConnectionID: sc.ID}
}

// Conflict records a remote change that collided with a locally dirty
// contact. The raw remote record is retained so resolution can apply it
// without another fetch.
type Conflict struct {
	ID          string
	ContactID   string
	Source      SourceKey
	RemoteRaw   []byte
	RemoteToken string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// ScrapedProfile is one contact record scraped from a social network,
// as delivered by an import batch file.
type ScrapedProfile struct {
	ProfileURL   string   `json:"profile_url"`
	FullName     string   `json:"full_name"`
	Organization string   `json:"organization"`
	Title        string   `json:"title"`
	Emails       []string `json:"emails"`
	Phones       []string `json:"phones"`
	Location     string   `json:"location"`
}
