package sink

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrStatus matches any non-2xx answer from the store.
var ErrStatus = eris.New("sink: unexpected status")

// StatusError carries a non-2xx answer from the store.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink: %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is reports ErrStatus as a match.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}
