package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	cdpext "github.com/chromedp/cdproto/cdp"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/cdp"
	"github.com/reclamefabriek/dashcheck/common/js"
	"github.com/reclamefabriek/dashcheck/log"
)

var _ api.Locator = &Locator{}

// pollIntervals is the back-off between locator checks; the last value
// repeats.
var pollIntervals = []time.Duration{ //nolint:gochecknoglobals
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Locator finds elements by accessibility role and name. It is resolved
// anew on every call.
type Locator struct {
	page *Page
	role string
	opts api.GetByRoleOptions

	logger *log.Logger
}

// NewLocator returns a role locator on page.
func NewLocator(page *Page, role string, opts api.GetByRoleOptions, logger *log.Logger) *Locator {
	return &Locator{
		page:   page,
		role:   role,
		opts:   opts,
		logger: logger,
	}
}

func (l *Locator) String() string {
	if l.opts.Name == "" {
		return fmt.Sprintf("getByRole(%q)", l.role)
	}
	if l.opts.Exact {
		return fmt.Sprintf("getByRole(%q, name=%q, exact)", l.role, l.opts.Name)
	}
	return fmt.Sprintf("getByRole(%q, name=%q)", l.role, l.opts.Name)
}

// resolve returns the DOM nodes of the matching, not ignored, elements.
func (l *Locator) resolve(ctx context.Context) ([]cdpext.BackendNodeID, error) {
	if l.page.isClosed() {
		return nil, ErrPageClosed
	}
	nodes, err := l.page.accessibility.QueryByRole(ctx, l.role)
	if err != nil {
		return nil, err
	}

	var ids []cdpext.BackendNodeID
	for _, n := range nodes {
		// Ignored nodes are hidden from assistive technology, e.g. by
		// display:none, and never match.
		if n.Ignored || n.BackendDOMNodeID == 0 {
			continue
		}
		if !matchesName(axString(n.Name), l.opts.Name, l.opts.Exact) {
			continue
		}
		ids = append(ids, n.BackendDOMNodeID)
	}

	return ids, nil
}

// Count returns the number of matching elements.
func (l *Locator) Count(ctx context.Context) (int, error) {
	ids, err := l.resolve(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// IsVisible reports whether the single matching element is visible,
// without waiting. No match is not visible; several matches are an error.
func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	err := l.check(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrElementNotFound), errors.Is(err, ErrElementNotVisible):
		return false, nil
	default:
		return false, err
	}
}

// WaitVisible polls until exactly one element matches and is visible.
// A strict mode violation or a lost connection fails right away; anything
// else is retried until timeout, and the resulting TimeoutError wraps the
// last observed cause.
func (l *Locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = api.DefaultAssertionTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l.logger.Debugf("Locator:WaitVisible", "%s timeout:%s", l, timeout)

	lastErr := ErrElementNotFound
	for attempt := 0; ; attempt++ {
		err := l.check(tctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrStrictModeViolation),
			errors.Is(err, ErrPageClosed),
			errors.Is(err, cdp.ErrConnectionClosed):
			return err
		case tctx.Err() == nil:
			lastErr = err
		}
		l.logger.Tracef("Locator:WaitVisible", "%s attempt:%d: %v", l, attempt, err)

		wait := pollIntervals[len(pollIntervals)-1]
		if attempt < len(pollIntervals) {
			wait = pollIntervals[attempt]
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-tctx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{
				Op:    fmt.Sprintf("waiting for %s to be visible", l),
				After: timeout,
				Err:   lastErr,
			}
		}
	}
}

// check returns nil when exactly one element matches and it is visible.
func (l *Locator) check(ctx context.Context) error {
	ids, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	switch len(ids) {
	case 0:
		return ErrElementNotFound
	case 1:
	default:
		return fmt.Errorf("%w: %s resolved to %d elements", ErrStrictModeViolation, l, len(ids))
	}

	var visible bool
	if err := l.page.runtime.CallOnNode(ctx, ids[0], js.IsVisibleFunction, &visible); err != nil {
		return err
	}
	if !visible {
		return ErrElementNotVisible
	}

	return nil
}
