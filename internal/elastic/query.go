package elastic

import (
	"fmt"
	"strconv"

	"github.com/davidschrooten/training-search/internal/search"
)

// translateQuery builds the query DSL for q
func translateQuery(q search.Query) (map[string]any, error) {
	switch q := q.(type) {
	case nil, search.MatchAllQuery:
		return map[string]any{"match_all": map[string]any{}}, nil

	case search.PhraseQuery:
		return map[string]any{
			"match_phrase": map[string]any{q.Field: q.Text},
		}, nil

	case search.MultiMatchQuery:
		if len(q.Fields) == 0 {
			return nil, fmt.Errorf("multi match query without fields")
		}
		fields := make([]string, len(q.Fields))
		for i, f := range q.Fields {
			fields[i] = boostedField(f)
		}
		return map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"type":   "best_fields",
				"fields": fields,
			},
		}, nil

	case search.PrefixQuery:
		return map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"type":   "bool_prefix",
				"fields": append([]string{}, q.Fields...),
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported query type %T", q)
	}
}

// boostedField renders name^3 style field boosts
func boostedField(f search.FieldBoost) string {
	if f.Boost <= 0 || f.Boost == 1 {
		return f.Field
	}
	return f.Field + "^" + strconv.FormatFloat(f.Boost, 'f', -1, 64)
}

// translateSchema builds the index creation body
func translateSchema(schema search.Schema) (map[string]any, error) {
	properties := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		switch f.Kind {
		case search.FieldText, search.FieldAsYouType:
			properties[f.Name] = map[string]any{"type": f.Kind.String()}
		default:
			return nil, fmt.Errorf("field %s: unsupported kind %v", f.Name, f.Kind)
		}
	}
	return map[string]any{
		"mappings": map[string]any{"properties": properties},
	}, nil
}
