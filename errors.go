package ndgr

import (
	"errors"

	"github.com/Kocoro-lab/ndgr/internal/fetch"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

var (
	// ErrProgramEnded is returned by StreamComments when the program is
	// already over before any streaming happened. Historical programs are
	// served by DownloadBackwardComments.
	ErrProgramEnded = errors.New("ndgr: program has already ended")

	// ErrUnknownAlias is returned for a channel alias absent from the
	// alias table.
	ErrUnknownAlias = errors.New("ndgr: unknown channel alias")

	// ErrInvalidHandle is returned for a handle that is neither a program
	// identifier, a channel handle, nor a known alias form.
	ErrInvalidHandle = errors.New("ndgr: invalid program handle")

	// ErrNoCredentials is returned when timeshift activation is required
	// but the session never logged in.
	ErrNoCredentials = errors.New("ndgr: timeshift activation requires a logged-in session")

	// ErrLoginRejected is returned when the account service refuses the
	// supplied credentials.
	ErrLoginRejected = errors.New("ndgr: login rejected")
)

// IsTransportError reports whether err is a transport-layer fault that
// exhausted its retry budget.
func IsTransportError(err error) bool { return fetch.IsTransport(err) }

// IsProtocolError reports whether err marks data that violated the
// fabric's contract. Protocol errors are fatal and never retried.
func IsProtocolError(err error) bool { return protocol.IsViolation(err) }
