package search

// Query is one of PhraseQuery, MultiMatchQuery, PrefixQuery or MatchAllQuery
type Query interface {
	isQuery()
}

// PhraseQuery matches documents whose field contains Text as a phrase
type PhraseQuery struct {
	Field string
	Text  string
}

// FieldBoost is a searched field with its relative weight
type FieldBoost struct {
	Field string
	Boost float64
}

// MultiMatchQuery scores Text against several fields and keeps the best field
// match per document
type MultiMatchQuery struct {
	Text   string
	Fields []FieldBoost
}

// PrefixQuery treats every term of Text as a full term except the last one,
// which matches as a prefix. Used for search-as-you-type suggestions.
type PrefixQuery struct {
	Text   string
	Fields []string
}

// MatchAllQuery matches every document
type MatchAllQuery struct{}

func (PhraseQuery) isQuery()     {}
func (MultiMatchQuery) isQuery() {}
func (PrefixQuery) isQuery()     {}
func (MatchAllQuery) isQuery()   {}
