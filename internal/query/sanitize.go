package query

import "strings"

// reserved holds the characters the query parser of the engine treats as
// operators. Each becomes a word separator so "a+b:c" searches "a b c".
var reserved = strings.NewReplacer("+", " ", ":", " ")

// Sanitize neutralizes reserved characters in a user query
func Sanitize(q string) string {
	return reserved.Replace(q)
}
