package status

import (
	"errors"
	"fmt"
)

var (
	ErrSiteNotFound      = errors.New("site: site not found")
	ErrEntryNotFound     = errors.New("queue: entry not found")
	ErrEmergencyNotFound = errors.New("emergency: emergency not found")

	ErrSiteExists        = errors.New("site: site already exists")
	ErrSiteUnavailable   = errors.New("site: site not accepting bookings")
	ErrDuplicateBooking  = errors.New("queue: active booking already exists")
	ErrInvalidTransition = errors.New("status: invalid status transition")
	ErrEmptyQueue        = errors.New("queue: no waiting entries")
	ErrVersionConflict   = errors.New("store: version conflict")
	ErrDuplicateToken    = errors.New("queue: token already issued")
	ErrInvalidInput      = errors.New("request: invalid input")
	ErrNoSites           = errors.New("site: no sites configured")
)

// DuplicateBookingError carries the token of the booking that is still active.
type DuplicateBookingError struct {
	SiteID        string
	ExistingToken string
}

func (e *DuplicateBookingError) Error() string {
	return fmt.Sprintf("queue: active booking already exists for site %s (token %s)", e.SiteID, e.ExistingToken)
}

func (e *DuplicateBookingError) Is(target error) bool {
	return target == ErrDuplicateBooking
}

type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
	KindEmptyQueue
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindEmptyQueue:
		return "empty_queue"
	case KindInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

// KindOf classifies err. Unknown errors are treated as transient store failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrSiteNotFound), errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrEmergencyNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateBooking), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrVersionConflict), errors.Is(err, ErrDuplicateToken), errors.Is(err, ErrSiteExists):
		return KindConflict
	case errors.Is(err, ErrSiteUnavailable), errors.Is(err, ErrNoSites):
		return KindUnavailable
	case errors.Is(err, ErrEmptyQueue):
		return KindEmptyQueue
	case errors.Is(err, ErrInvalidInput):
		return KindInvalid
	default:
		return KindTransient
	}
}

// Invalid wraps ErrInvalidInput with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
