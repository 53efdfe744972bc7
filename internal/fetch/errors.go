package fetch

import (
	"errors"
	"fmt"
)

// TransportError marks a fault in the transport layer: connect or TLS
// failure, a broken or idle socket, or a non-2xx response. Transport faults
// are the only class of error the retry budgets apply to.
type TransportError struct {
	URL    string
	Status int // 0 when the failure happened before a response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
