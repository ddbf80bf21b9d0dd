// Package syncerr defines the error taxonomy shared by the sync and
// ingestion passes. Callers inspect errors with errors.As / errors.Is.
package syncerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-gallery/pkg/hints"
)

// ErrGuardRejected is returned when a pass of the same kind is already
// running. It is a hint: the trigger is refused, nothing failed.
var ErrGuardRejected = hints.Wrap(errors.New("a pass of this kind is already running"))

// FetchError reports a failed step while landing the source tree
// (clone, pull, status, publish, archive extraction).
type FetchError struct {
	Step     string
	ExitCode int // -1 when the step never produced an exit code
	Output   string
	Err      error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s failed", e.Step)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// AssetError reports a failed filesystem or image operation for one content unit.
type AssetError struct {
	Unit string
	Op   string
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("unit %s: %s %s: %v", e.Unit, e.Op, e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// IndexError reports a failure to load or save a tag index.
type IndexError struct {
	Op   string
	Path string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("tag index %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// WithUnit stamps err with the unit name when it is an AssetError that lacks one.
func WithUnit(unit string, err error) error {
	var ae *AssetError
	if errors.As(err, &ae) && ae.Unit == "" {
		ae.Unit = unit
	}
	return err
}
