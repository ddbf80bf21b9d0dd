// Package hints labels errors that end a pass early without being failures.
//
// A trigger that arrives while a pass is already running, here or in another
// process holding the published tree, returns an error so the caller stops,
// but the front-end should report it politely instead of alerting. Producers
// wrap such errors with Wrap; consumers test with IsHint without
// importing the producer's sentinels.
package hints

import "errors"

type hintErr struct {
	err error
}

func (h *hintErr) Error() string {
	if h == nil || h.err == nil {
		return "unknown hint"
	}
	return h.err.Error()
}
func (h *hintErr) IsHint() bool  { return true }
func (h *hintErr) Unwrap() error { return h.err }

// Wrap promotes err to a hint. Wrap(nil) is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &hintErr{err: err}
}

// IsHint reports whether any error in the chain behaves like a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}
