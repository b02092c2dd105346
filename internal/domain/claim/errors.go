package claim

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a missing or unparseable claim identifier.
var ErrInvalidRequest = errors.New("invalid request")

// ErrDataSource marks a connection, query or lookup failure.
var ErrDataSource = errors.New("data source error")

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// DataSourceError wraps a failure from the claim store. The wrapped error is
// logged but never returned to API clients.
type DataSourceError struct {
	Op      string
	ClaimID string
	Err     error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s claim %q: %v", e.Op, e.ClaimID, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDataSource) match any DataSourceError.
func (e *DataSourceError) Is(target error) bool { return target == ErrDataSource }

func dataSourceError(op, claimID string, err error) error {
	return &DataSourceError{Op: op, ClaimID: claimID, Err: err}
}
