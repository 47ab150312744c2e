package media

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

// Reason classifies capture failures for the UI.
type Reason string

const (
	ReasonPermissionDenied  Reason = "permission-denied"
	ReasonDeviceUnavailable Reason = "device-unavailable"
	ReasonNotSupported      Reason = "not-supported"
)

// Capturers wrap these so the manager can classify failures.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrNotSupported      = errors.New("not supported")
	ErrNoTrack           = errors.New("no live track")
)

type Error struct {
	Op     string
	Kind   domain.MediaKind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("media %s %s: %s: %v", e.Op, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("media %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf maps any capture error onto a Reason. Unknown errors count as device-unavailable.
func ReasonOf(err error) Reason {
	var me *Error
	switch {
	case errors.As(err, &me):
		return me.Reason
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrNotSupported):
		return ReasonNotSupported
	default:
		return ReasonDeviceUnavailable
	}
}

func wrap(op string, kind domain.MediaKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Reason: ReasonOf(err), Err: err}
}
