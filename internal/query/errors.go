package query

import "fmt"

// Error wraps a failed engine call with the operation that issued it
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
