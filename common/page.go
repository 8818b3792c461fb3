/*
 *
 * dashcheck - headless verification of the Reclame Fabriek dashboard
 * Copyright (C) 2025 Reclame Fabriek
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	cdppage "github.com/chromedp/cdproto/page"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/cdp"
	"github.com/reclamefabriek/dashcheck/cdp/domains"
	"github.com/reclamefabriek/dashcheck/log"
)

var _ api.Page = &Page{}

// lifecycleEventNames maps navigation milestones to the names used by
// Page.lifecycleEvent.
var lifecycleEventNames = map[api.LifecycleEvent]string{ //nolint:gochecknoglobals
	api.LifecycleEventLoad:             "load",
	api.LifecycleEventDOMContentLoaded: "DOMContentLoaded",
	api.LifecycleEventNetworkIdle:      "networkIdle",
}

// Page is a browser tab attached over a flattened CDP session.
type Page struct {
	browser *Browser
	session *cdp.Session

	page          domains.Page
	accessibility domains.Accessibility
	runtime       domains.Runtime
	screenshotter *Screenshotter

	closed int32

	urlMu sync.RWMutex
	url   string

	logger *log.Logger
}

// NewPage enables the CDP domains a page needs on session.
func NewPage(ctx context.Context, session *cdp.Session, browser *Browser, logger *log.Logger) (*Page, error) {
	p := &Page{
		browser:       browser,
		session:       session,
		page:          domains.NewPage(session),
		accessibility: domains.NewAccessibility(session),
		runtime:       domains.NewRuntime(session),
		url:           "about:blank",
		logger:        logger,
	}
	p.screenshotter = NewScreenshotter(p.page, logger)

	if err := p.page.Enable(ctx); err != nil {
		return nil, err
	}
	if err := p.page.SetLifecycleEventsEnabled(ctx, true); err != nil {
		return nil, err
	}
	if err := p.accessibility.Enable(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

// Goto navigates to url and waits for the lifecycle event named in opts.
// Browser side failures such as a refused connection are reported as
// ErrNavigation.
func (p *Page) Goto(ctx context.Context, url string, opts *api.GotoOptions) error {
	if p.isClosed() {
		return ErrPageClosed
	}
	if opts == nil {
		opts = api.NewGotoOptions()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = api.DefaultNavigationTimeout
	}
	waitUntil := opts.WaitUntil
	if waitUntil == "" {
		waitUntil = api.LifecycleEventLoad
	}
	eventName, ok := lifecycleEventNames[waitUntil]
	if !ok {
		return fmt.Errorf("unknown wait until value %q", waitUntil)
	}

	p.logger.Debugf("Page:Goto", "sid:%v url:%q waitUntil:%s timeout:%s", p.session.ID(), url, waitUntil, timeout)

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before navigating so the event can't be missed.
	events, unsubscribe := p.session.Subscribe(cdproto.EventPageLifecycleEvent)
	defer unsubscribe()

	timeoutErr := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{
			Op:    fmt.Sprintf("navigating to %q", url),
			After: timeout,
			Err:   ErrNavigation,
		}
	}

	_, loaderID, err := p.page.Navigate(tctx, url)
	var navErr *domains.NavigationError
	switch {
	case errors.As(err, &navErr):
		return fmt.Errorf("%w: %v", ErrNavigation, navErr)
	case err != nil && tctx.Err() != nil:
		return timeoutErr()
	case err != nil:
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}

	// Same document navigations don't create a new loader.
	if loaderID == "" {
		p.setURL(url)
		return nil
	}

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: %v", ErrNavigation, cdp.ErrConnectionClosed)
			}
			le, isLE := evt.Data.(*cdppage.EventLifecycleEvent)
			if !isLE || le.LoaderID != loaderID || le.Name != eventName {
				continue
			}
			p.setURL(url)
			p.logger.Debugf("Page:Goto", "sid:%v url:%q reached %s", p.session.ID(), url, eventName)
			return nil
		case <-tctx.Done():
			return timeoutErr()
		}
	}
}

// GetByRole returns a locator for elements exposed in the accessibility
// tree with the given role, e.g. "heading".
func (p *Page) GetByRole(role string, opts *api.GetByRoleOptions) api.Locator {
	if opts == nil {
		opts = &api.GetByRoleOptions{}
	}
	return NewLocator(p, role, *opts, p.logger)
}

// Screenshot captures the page.
func (p *Page) Screenshot(ctx context.Context, opts *api.ScreenshotOptions) ([]byte, error) {
	if p.isClosed() {
		return nil, ErrPageClosed
	}
	if opts == nil {
		opts = api.NewScreenshotOptions()
	}
	return p.screenshotter.screenshot(ctx, opts)
}

// URL returns the URL of the last completed navigation.
func (p *Page) URL() string {
	p.urlMu.RLock()
	defer p.urlMu.RUnlock()
	return p.url
}

func (p *Page) setURL(url string) {
	p.urlMu.Lock()
	defer p.urlMu.Unlock()
	p.url = url
}

// Close closes the tab. Closing a closed page is a no-op.
func (p *Page) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	p.logger.Debugf("Page:Close", "sid:%v", p.session.ID())

	if p.browser != nil {
		p.browser.forgetPage(p.session.TargetID())
	}

	cctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := p.page.Close(cctx); err != nil && !errors.Is(err, cdp.ErrConnectionClosed) {
		return err
	}

	return nil
}

func (p *Page) markClosed() {
	atomic.StoreInt32(&p.closed, 1)
}

func (p *Page) isClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
