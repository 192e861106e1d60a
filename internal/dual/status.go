package dual

import (
	"context"
	"errors"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

var (
	// ErrDepthExceeded is returned when the layout hierarchy is nested deeper
	// than the configured maximum.
	ErrDepthExceeded = errors.New("hierarchy depth exceeded")

	// ErrAborted is returned when the association was cancelled.
	ErrAborted = errors.New("association aborted")

	// ErrInconsistent reports unresolved physical and electrical counts that
	// cannot pair up. Solve handles it: the cell is flagged, its pass ends
	// with StatusInconsistent and the error does not propagate.
	ErrInconsistent = errors.New("unresolved counts do not match")
)

// Status is the outcome of a cell pass or a whole run.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusAborted

	// StatusInconsistent is a cell pass that finished with unresolved counts
	// that cannot pair up. It is never the status of a whole run.
	StatusInconsistent
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusInconsistent:
		return "inconsistent"
	}
	return "ok"
}

// StatusOf maps an error returned by the driver to a Status. Residual
// unassociated objects are not errors, so a nil error is always StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusAborted
	}
	return StatusFailed
}

// CellStatus is the outcome of one pass over desc.
func CellStatus(desc *model.Descriptor, err error) Status {
	if err == nil && desc.Inconsistent {
		return StatusInconsistent
	}
	return StatusOf(err)
}
