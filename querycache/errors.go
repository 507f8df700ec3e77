package querycache

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("query cache is closed")

// QueryError is the final failure of a read after classification and retries.
type QueryError struct {
	Key   Key
	Class ErrorClass
	// fetch calls made, including the first one
	Attempts int
	Err      error
}

func (e *QueryError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("query %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("query %s failed: %v", e.Key, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) IsAuthError() bool {
	return e.Class == ClassAuth
}

func IsAuthError(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.IsAuthError()
	}
	return Classify(err) == ClassAuth
}
