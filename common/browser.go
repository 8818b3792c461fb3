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
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/browserprocess"
	"github.com/reclamefabriek/dashcheck/cdp"
	"github.com/reclamefabriek/dashcheck/cdp/domains"
	"github.com/reclamefabriek/dashcheck/log"
)

var _ api.Browser = &Browser{}

const (
	BrowserStateOpen int64 = iota
	BrowserStateClosing
	BrowserStateClosed
)

// closeTimeout bounds how long Close waits for the browser to exit on its
// own before the process is killed.
const closeTimeout = 5 * time.Second

// Browser is a browser process driven over CDP.
type Browser struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	state int64

	browserProc *BrowserProcess
	launchOpts  *api.LaunchOptions

	cdpClient *cdp.Client
	version   domains.Version

	pagesMu sync.RWMutex
	pages   map[target.ID]*Page

	logger *log.Logger
}

// NewBrowser connects to the browser process and returns it. Cancelling ctx
// disconnects and kills the browser.
func NewBrowser(
	ctx context.Context,
	cancel context.CancelFunc,
	browserProc *BrowserProcess,
	launchOpts *api.LaunchOptions,
	logger *log.Logger,
) (*Browser, error) {
	b := newBrowser(ctx, cancel, browserProc, launchOpts, logger)
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// newBrowser returns a ready to use Browser without connecting to an actual browser.
func newBrowser(
	ctx context.Context,
	cancelFn context.CancelFunc,
	browserProc *BrowserProcess,
	launchOpts *api.LaunchOptions,
	logger *log.Logger,
) *Browser {
	return &Browser{
		ctx:         ctx,
		cancelFn:    cancelFn,
		state:       BrowserStateOpen,
		browserProc: browserProc,
		launchOpts:  launchOpts,
		cdpClient:   cdp.NewClient(ctx, logger),
		pages:       make(map[target.ID]*Page),
		logger:      logger,
	}
}

func (b *Browser) connect() (err error) {
	b.logger.Debugf("Browser:connect", "wsURL:%q", b.browserProc.WsURL())
	if err = b.cdpClient.Connect(b.browserProc.WsURL()); err != nil {
		return fmt.Errorf("connecting to browser DevTools URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.launchTimeout())
	defer cancel()
	if b.version, err = b.cdpClient.Browser.GetVersion(ctx); err != nil {
		return err
	}
	b.logger.Debugf("Browser:connect", "connected to %s (protocol %s)", b.version.Product, b.version.ProtocolVersion)

	return nil
}

func (b *Browser) launchTimeout() time.Duration {
	if b.launchOpts != nil && b.launchOpts.Timeout > 0 {
		return b.launchOpts.Timeout
	}
	return api.DefaultLaunchTimeout
}

// NewPage opens a new tab on about:blank.
func (b *Browser) NewPage(ctx context.Context) (api.Page, error) {
	if atomic.LoadInt64(&b.state) != BrowserStateOpen {
		return nil, errors.New("browser is closed")
	}

	tid, err := b.cdpClient.Target.CreateTarget(ctx, "about:blank")
	if err != nil {
		return nil, fmt.Errorf("creating a new page: %w", err)
	}
	sid, err := b.cdpClient.Target.AttachToTarget(ctx, tid)
	if err != nil {
		return nil, fmt.Errorf("creating a new page: %w", err)
	}
	b.logger.Debugf("Browser:NewPage", "tid:%v sid:%v", tid, sid)

	p, err := NewPage(ctx, b.cdpClient.Session(sid, tid), b, b.logger)
	if err != nil {
		return nil, err
	}

	b.pagesMu.Lock()
	b.pages[tid] = p
	b.pagesMu.Unlock()

	return p, nil
}

func (b *Browser) forgetPage(tid target.ID) {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()
	delete(b.pages, tid)
}

// Version returns the browser product, e.g. "HeadlessChrome/120.0.6099.109".
func (b *Browser) Version() string {
	return b.version.Product
}

// UserAgent returns the browser's default user agent.
func (b *Browser) UserAgent() string {
	return b.version.UserAgent
}

// Pid returns the browser process ID.
func (b *Browser) Pid() int {
	return b.browserProc.Pid()
}

// UserDataDir returns the browser's user data directory.
func (b *Browser) UserDataDir() string {
	return b.browserProc.UserDataDir()
}

// IsConnected reports whether the CDP connection is up.
func (b *Browser) IsConnected() bool {
	select {
	case <-b.cdpClient.Done():
		return false
	default:
		return atomic.LoadInt64(&b.state) == BrowserStateOpen
	}
}

// Close asks the browser to exit, waits for the process to end, and kills
// it if it doesn't in time. The user data directory is removed.
func (b *Browser) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&b.state, BrowserStateOpen, BrowserStateClosing) {
		return nil
	}
	defer atomic.StoreInt64(&b.state, BrowserStateClosed)

	b.pagesMu.Lock()
	for tid, p := range b.pages {
		p.markClosed()
		delete(b.pages, tid)
	}
	b.pagesMu.Unlock()

	b.browserProc.GracefulClose()
	defer browserprocess.Deregister(b.logger, b.browserProc.Pid())

	cctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	if err := b.cdpClient.Browser.Close(cctx); err != nil && !errors.Is(err, cdp.ErrConnectionClosed) {
		b.logger.Debugf("Browser:Close", "asking browser to close: %v", err)
	}
	if err := b.cdpClient.Disconnect(); err != nil {
		b.logger.Debugf("Browser:Close", "%v", err)
	}

	if err := b.browserProc.Wait(cctx); err != nil {
		b.logger.Warnf("Browser:Close", "browser pid %d didn't exit in time, killing it", b.browserProc.Pid())
		b.browserProc.Terminate()
		<-b.browserProc.Done()
	}
	b.cancelFn()

	return nil
}
