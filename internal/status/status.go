package status

import (
	"errors"
	"fmt"

	"ticket-verifier/models"
)

var (
	ErrNotFound          = errors.New("ticket: ticket not found")
	ErrUnauthorized      = errors.New("ticket: not authorized")
	ErrAlreadyUsed       = errors.New("ticket: ticket already used")
	ErrTransient         = errors.New("authority: temporarily unavailable")
	ErrCameraUnavailable = errors.New("scanner: camera unavailable")

	ErrBusy          = errors.New("session: request in flight")
	ErrInvalidPhase  = errors.New("session: action not available")
	ErrSessionClosed = errors.New("session: closed")
	ErrRateLimited   = errors.New("manual entry: too many attempts")
)

// Kind is the operator-facing classification of a failure.
type Kind string

const (
	KindNone              Kind = ""
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindAlreadyUsed       Kind = "already_used"
	KindTransient         Kind = "transient"
	KindCameraUnavailable Kind = "camera_unavailable"
	KindRateLimited       Kind = "rate_limited"
)

// KindOf maps err onto the taxonomy. Unknown errors are treated as transient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrAlreadyUsed):
		return KindAlreadyUsed
	case errors.Is(err, ErrCameraUnavailable):
		return KindCameraUnavailable
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindTransient
	}
}

// AuthorityError carries the HTTP detail of a failed authority call.
type AuthorityError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthorityError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %v: %s", e.Op, e.StatusCode, e.Err, e.Message)
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// AlreadyUsedError is returned by a verify call that lost the compare-and-swap.
// Record is the ticket as the authority reported it, nil when the body had none.
type AlreadyUsedError struct {
	Record *models.TicketRecord
}

func (e *AlreadyUsedError) Error() string { return ErrAlreadyUsed.Error() }

func (e *AlreadyUsedError) Unwrap() error { return ErrAlreadyUsed }
