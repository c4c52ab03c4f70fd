package entities

import "errors"

// Error taxonomy of the allocation engine. Call sites wrap these with
// fmt.Errorf("...: %w", err) and callers classify with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrBatchTerminated    = errors.New("batch terminated")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNotFound           = errors.New("not found")
	ErrDemandClosed       = errors.New("demand closed")
)

// Classify maps an error onto a stable taxonomy label suitable for metrics
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrBatchTerminated):
		return "batch_terminated"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDemandClosed):
		return "demand_closed"
	default:
		return "internal"
	}
}
