package metadata

import "strings"

// Filter narrows a search to records matching every set constraint. Nil/zero
// fields impose no constraint; the zero Filter accepts everything.
type Filter struct {
	// Types accepts records whose Type is a member of the set.
	Types []ContextType

	// Source requires exact equality with the record's source tag.
	Source *string

	// SourcePrefix requires the record's source tag to start with the prefix.
	SourcePrefix *string

	// TimestampAfter and TimestampBefore bound the record's timestamp inclusively.
	TimestampAfter  *int64
	TimestampBefore *int64

	// ImportanceGTE requires importance at or above the bound.
	ImportanceGTE *float32

	// TagsContains requires every listed tag to appear as a substring of the
	// record's raw tags JSON.
	TagsContains []string

	// NamespaceID and EntityID require exact equality.
	NamespaceID *string
	EntityID    *string

	// AttributesMatch requires every listed key to be present with an equal value.
	AttributesMatch map[string]string
}

// Matches checks if the provided record matches all set constraints.
func (f *Filter) Matches(m *Metadata) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Source != nil && m.Source != *f.Source {
		return false
	}
	if f.SourcePrefix != nil && !strings.HasPrefix(m.Source, *f.SourcePrefix) {
		return false
	}
	if f.TimestampAfter != nil && m.Timestamp < *f.TimestampAfter {
		return false
	}
	if f.TimestampBefore != nil && m.Timestamp > *f.TimestampBefore {
		return false
	}
	if f.ImportanceGTE != nil && m.Importance < *f.ImportanceGTE {
		return false
	}

	for _, tag := range f.TagsContains {
		if !strings.Contains(m.TagsJSON, tag) {
			return false
		}
	}

	if f.NamespaceID != nil && m.NamespaceID != *f.NamespaceID {
		return false
	}
	if f.EntityID != nil && m.EntityID != *f.EntityID {
		return false
	}

	for k, v := range f.AttributesMatch {
		got, ok := m.Attributes[k]
		if !ok || got != v {
			return false
		}
	}

	return true
}
