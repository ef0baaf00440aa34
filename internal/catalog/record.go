package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Indexed field names of a catalog record
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldTags        = "tags"
	FieldAuthors     = "authors"
	FieldType        = "type"
	FieldLicense     = "license"
	FieldURL         = "url"
)

// StringList is a field that arrives either as a single string or as a list of
// strings. The zero value means the field was absent.
type StringList struct {
	values []string
	many   bool
}

// Single returns a StringList holding one bare string
func Single(s string) StringList {
	return StringList{values: []string{s}}
}

// Many returns a StringList holding a sequence
func Many(values ...string) StringList {
	return StringList{values: append([]string{}, values...), many: true}
}

// IsZero reports whether the field was absent
func (l StringList) IsZero() bool {
	return !l.many && len(l.values) == 0
}

// IsMany reports whether the field arrived as a sequence
func (l StringList) IsMany() bool {
	return l.many
}

// Values returns the canonical sequence form. A single string becomes a one
// element sequence, an absent field an empty one.
func (l StringList) Values() []string {
	out := make([]string, len(l.values))
	copy(out, l.values)
	return out
}

// UnmarshalYAML accepts a scalar, a sequence of scalars, or null
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = StringList{}
			return nil
		}
		*l = Single(node.Value)
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind == yaml.AliasNode {
				item = item.Alias
			}
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list item must be a string", item.Line)
			}
			if item.Tag == "!!null" {
				continue
			}
			values = append(values, item.Value)
		}
		*l = StringList{values: values, many: true}
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// Record is one catalog entry
type Record struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Tags        StringList `yaml:"tags"`
	Authors     StringList `yaml:"authors"`
	Type        StringList `yaml:"type"`
	License     StringList `yaml:"license"`
	URL         StringList `yaml:"url"`

	// Extra holds the remaining keys of the entry (publication_date,
	// submission_date, ...). They are kept in the source document but not searched.
	Extra map[string]any `yaml:"-"`
}

var knownFields = map[string]bool{
	FieldName:        true,
	FieldDescription: true,
	FieldTags:        true,
	FieldAuthors:     true,
	FieldType:        true,
	FieldLicense:     true,
	FieldURL:         true,
}

// Validate checks the fields required for indexing
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	return nil
}

// Document returns the normalized document submitted to the search engine.
// List fields are always sequences; absent optional fields are omitted.
func (r *Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Extra)+len(knownFields))
	for k, v := range r.Extra {
		doc[k] = v
	}

	doc[FieldName] = r.Name
	if r.Description != "" {
		doc[FieldDescription] = r.Description
	}

	lists := []struct {
		field string
		value StringList
	}{
		{FieldTags, r.Tags},
		{FieldAuthors, r.Authors},
		{FieldType, r.Type},
		{FieldLicense, r.License},
		{FieldURL, r.URL},
	}
	for _, l := range lists {
		if !l.value.IsZero() {
			doc[l.field] = l.value.Values()
		}
	}

	return doc
}

// decodeRecord decodes a mapping node into a Record, collecting unknown keys
func decodeRecord(node *yaml.Node) (Record, error) {
	var rec Record
	if err := node.Decode(&rec); err != nil {
		return Record{}, err
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if knownFields[key.Value] {
			continue
		}
		keepTimestamps(value)
		var v any
		if err := value.Decode(&v); err != nil {
			return Record{}, fmt.Errorf("field %q: %w", key.Value, err)
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[key.Value] = v
	}

	return rec, nil
}

// keepTimestamps retags timestamp scalars as strings so dates keep the text
// they were written with instead of becoming time.Time
func keepTimestamps(node *yaml.Node) {
	if node == nil {
		return
	}
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!timestamp" {
		node.Tag = "!!str"
		return
	}
	for _, child := range node.Content {
		keepTimestamps(child)
	}
}
