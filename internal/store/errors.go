package store

import (
	"context"
	"errors"

	pkgerrors "github.com/angelmondragon/licensegate/pkg/errors"
)

// Failure classifies an unexpected store error for the caller. Deadline
// overruns become CodeTimeout; everything else is CodeInternal. The step
// lands in the error details for logging only.
func Failure(err error, step string) error {
	code := pkgerrors.CodeInternal
	if errors.Is(err, context.DeadlineExceeded) {
		code = pkgerrors.CodeTimeout
	}
	return pkgerrors.Wrap(code, err, step).WithDetails(map[string]any{"step": step})
}
