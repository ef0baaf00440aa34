package elastic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/davidschrooten/training-search/internal/search"
)

// Error types reported by Elasticsearch that map onto search sentinels
const (
	typeIndexExists    = "resource_already_exists_exception"
	typeIndexNotFound  = "index_not_found_exception"
	typeContextMissing = "search_context_missing_exception"
)

// Error is an error response from Elasticsearch
type Error struct {
	Status    int
	Type      string
	Reason    string
	RootCause []string
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// Unwrap maps the error onto the search sentinels so callers can use
// errors.Is without knowing the backend
func (e *Error) Unwrap() error {
	switch {
	case e.hasType(typeIndexExists):
		return search.ErrIndexExists
	case e.hasType(typeContextMissing):
		return search.ErrCursorExpired
	case e.hasType(typeIndexNotFound):
		return search.ErrIndexNotFound
	case e.Status == http.StatusServiceUnavailable:
		return search.ErrUnavailable
	}
	return nil
}

func (e *Error) hasType(t string) bool {
	if e.Type == t {
		return true
	}
	for _, c := range e.RootCause {
		if c == t {
			return true
		}
	}
	return false
}

type errorBody struct {
	Status int `json:"status"`
	Error  struct {
		Type      string `json:"type"`
		Reason    string `json:"reason"`
		RootCause []struct {
			Type string `json:"type"`
		} `json:"root_cause"`
	} `json:"error"`
}

// decodeError builds an Error from a failed response. Bodies that are not
// the usual error document only carry the status.
func decodeError(res *esapi.Response) error {
	e := &Error{Status: res.StatusCode}
	if res.Body == nil {
		return e
	}

	data, err := io.ReadAll(res.Body)
	if err != nil || len(data) == 0 {
		return e
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		e.Reason = string(data)
		return e
	}
	e.Type = body.Error.Type
	e.Reason = body.Error.Reason
	for _, c := range body.Error.RootCause {
		e.RootCause = append(e.RootCause, c.Type)
	}
	return e
}
