package catalog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies catalog fetch failures
type ErrorKind string

const (
	// NetworkError covers transport failures and non-2xx responses
	NetworkError ErrorKind = "network"
	// ParseError covers bodies that are not a YAML document
	ParseError ErrorKind = "parse"
)

var (
	// ErrMissingName is returned by Record.Validate for records without a name
	ErrMissingName = errors.New("catalog: record has no name")
	// ErrUnexpectedStatus is wrapped by network errors caused by a non-2xx response
	ErrUnexpectedStatus = errors.New("catalog: unexpected status")
)

// FetchError is returned by Fetcher.Fetch
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("catalog %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("catalog %s error fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsKind reports whether err is a FetchError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
