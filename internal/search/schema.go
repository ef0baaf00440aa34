package search

// FieldKind selects how a field is analyzed
type FieldKind int

const (
	// FieldText is standard full-text analysis
	FieldText FieldKind = iota
	// FieldAsYouType is full-text analysis plus edge n-grams for prefix matching
	FieldAsYouType
)

func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "text"
	case FieldAsYouType:
		return "search_as_you_type"
	default:
		return "unknown"
	}
}

// FieldSpec declares one searchable field
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// Schema is the set of searchable fields of an index. Fields not listed are
// kept in the source document but not searched.
type Schema struct {
	Fields []FieldSpec
}
