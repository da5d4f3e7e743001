package csync

import "cardsync/internal/model"

// Normalizer converts between the wire contact format and the canonical
// model. Parse produces fields with zero Origin; the reconciler stamps
// attribution since only it knows which source the record came from.
//
// Serialize must be deterministic: the same contact and source always yield
// byte-identical output, so a no-op push can be detected by content hash.
// It emits only fields attributable to src (originating from it or carrying
// no attribution) and never leaks fields owned by a different source.
type Normalizer interface {
	Parse(raw []byte) (*model.Contact, error)
	Serialize(c *model.Contact, src model.SourceKey) ([]byte, error)
}
