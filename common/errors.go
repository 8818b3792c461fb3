package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrElementNotFound means no element matched a locator.
	ErrElementNotFound = errors.New("element not found")
	// ErrElementNotVisible means the single matching element is not rendered
	// visibly: it has an empty box or visibility:hidden.
	ErrElementNotVisible = errors.New("element is not visible")
	// ErrStrictModeViolation means a locator expected to match one element
	// matched several.
	ErrStrictModeViolation = errors.New("strict mode violation")
	// ErrNavigation wraps failures to load a URL.
	ErrNavigation = errors.New("navigation failed")
	// ErrPageClosed is returned by operations on a closed page.
	ErrPageClosed = errors.New("page is closed")
	// ErrBrowserNotFound means no browser executable could be found.
	ErrBrowserNotFound = errors.New("browser executable not found")
)

// TimeoutError is returned when an operation did not complete in time.
// It unwraps to the last condition observed before giving up.
type TimeoutError struct {
	Op    string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
	}
	return fmt.Sprintf("%s: timed out after %s: %v", e.Op, e.After, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Is makes a TimeoutError match context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded //nolint:errorlint
}

// Timeout reports true, like net.Error.
func (e *TimeoutError) Timeout() bool { return true }
