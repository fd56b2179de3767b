package metric

import (
	"fmt"
	"strings"
)

const keySeparator = "+"

// ObservationKey is a canonical (sorted, de-duplicated) set of kinds.
// Two keys built from the same kinds in any order have the same String.
type ObservationKey struct {
	kinds []Kind
	id    string
}

// NewObservationKey canonicalizes kinds into a key.
func NewObservationKey(kinds ...Kind) (ObservationKey, error) {
	if len(kinds) == 0 {
		return ObservationKey{}, ErrEmptyKey
	}
	seen := make(map[Kind]struct{}, len(kinds))
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return ObservationKey{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sortKinds(out)
	parts := make([]string, len(out))
	for i, k := range out {
		parts[i] = string(k)
	}
	return ObservationKey{kinds: out, id: strings.Join(parts, keySeparator)}, nil
}

// String is the stable storage form, e.g. "heart_rate+step_count".
func (k ObservationKey) String() string { return k.id }

// Kinds returns a copy of the member kinds in sorted order.
func (k ObservationKey) Kinds() []Kind {
	out := make([]Kind, len(k.kinds))
	copy(out, k.kinds)
	return out
}

// Len is the number of distinct kinds.
func (k ObservationKey) Len() int { return len(k.kinds) }

// IsZero reports whether k was never built.
func (k ObservationKey) IsZero() bool { return k.id == "" }

// Contains reports membership.
func (k ObservationKey) Contains(kind Kind) bool {
	for _, m := range k.kinds {
		if m == kind {
			return true
		}
	}
	return false
}
