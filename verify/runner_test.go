package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/common"
	"github.com/reclamefabriek/dashcheck/log"
	"github.com/reclamefabriek/dashcheck/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n") //nolint:gochecknoglobals

type fakeBrowserType struct {
	browser   *fakeBrowser
	launchErr error
}

func (f *fakeBrowserType) Name() string           { return "fake" }
func (f *fakeBrowserType) ExecutablePath() string { return "/bin/fake" }

func (f *fakeBrowserType) Launch(context.Context, *api.LaunchOptions) (api.Browser, error) {
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return f.browser, nil
}

type fakeBrowser struct {
	page       *fakePage
	newPageErr error
	closeErr   error

	mu     sync.Mutex
	closed int
}

func (b *fakeBrowser) NewPage(context.Context) (api.Page, error) {
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	return b.page, nil
}

func (b *fakeBrowser) Version() string   { return "HeadlessChrome/120.0.0.0" }
func (b *fakeBrowser) UserAgent() string { return "Mozilla/5.0 HeadlessChrome" }
func (b *fakeBrowser) IsConnected() bool { return b.closeCount() == 0 }

func (b *fakeBrowser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return b.closeErr
}

func (b *fakeBrowser) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakePage struct {
	gotoErr       error
	screenshot    []byte
	screenshotErr error
	locator       *fakeLocator

	mu        sync.Mutex
	url       string
	closed    int
	gotoOpts  *api.GotoOptions
	shotOpts  *api.ScreenshotOptions
	roleQuery string
	roleOpts  *api.GetByRoleOptions
}

func (p *fakePage) Goto(_ context.Context, url string, opts *api.GotoOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoOpts = opts
	if p.gotoErr != nil {
		return p.gotoErr
	}
	p.url = url
	return nil
}

func (p *fakePage) GetByRole(role string, opts *api.GetByRoleOptions) api.Locator {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleQuery = role
	p.roleOpts = opts
	p.locator.role, p.locator.name = role, opts.Name
	return p.locator
}

func (p *fakePage) Screenshot(_ context.Context, opts *api.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shotOpts = opts
	return p.screenshot, p.screenshotErr
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeLocator struct {
	role, name string
	waitErr    error
	timeout    time.Duration
}

func (l *fakeLocator) Count(context.Context) (int, error) { return 1, nil }

func (l *fakeLocator) IsVisible(context.Context) (bool, error) { return l.waitErr == nil, nil }

func (l *fakeLocator) WaitVisible(_ context.Context, timeout time.Duration) error {
	l.timeout = timeout
	return l.waitErr
}

func (l *fakeLocator) String() string {
	return fmt.Sprintf("getByRole(%q, name=%q)", l.role, l.name)
}

func newFakes() (*fakeBrowserType, *fakeBrowser, *fakePage) {
	page := &fakePage{
		screenshot: pngHeader,
		locator:    &fakeLocator{},
	}
	browser := &fakeBrowser{page: page}
	return &fakeBrowserType{browser: browser}, browser, page
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ScreenshotPath = filepath.Join(t.TempDir(), "jules-scratch", "verification", "dashboard.png")
	return cfg
}

func TestRunnerRunPass(t *testing.T) {
	t.Parallel()

	bt, browser, page := newFakes()
	cfg := testConfig(t)

	r := NewRunner(bt, &storage.LocalFilePersister{}, log.NewNullLogger())
	res, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, DefaultURL, res.URL)
	assert.Equal(t, cfg.ScreenshotPath, res.ScreenshotPath)
	assert.Equal(t, len(pngHeader), res.ScreenshotBytes)
	assert.Equal(t, "HeadlessChrome/120.0.0.0", res.BrowserVersion)

	got, err := os.ReadFile(cfg.ScreenshotPath)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)

	assert.Equal(t, "heading", page.roleQuery)
	assert.Equal(t, "Active Jobs", page.roleOpts.Name)
	assert.False(t, page.roleOpts.Exact)
	assert.Equal(t, api.LifecycleEventLoad, page.gotoOpts.WaitUntil)
	assert.Equal(t, 30*time.Second, page.gotoOpts.Timeout)
	assert.Equal(t, 5*time.Second, page.locator.timeout)
	assert.True(t, page.shotOpts.FullPage)
	assert.Equal(t, api.ImageFormatPNG, page.shotOpts.Format)

	assert.Equal(t, 1, page.closeCount())
	assert.Equal(t, 1, browser.closeCount())
}

func TestRunnerRunOverwritesScreenshot(t *testing.T) {
	t.Parallel()

	bt, _, _ := newFakes()
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.ScreenshotPath), 0o755))
	require.NoError(t, os.WriteFile(cfg.ScreenshotPath, []byte("a stale screenshot from an earlier run"), 0o600))

	r := NewRunner(bt, &storage.LocalFilePersister{}, log.NewNullLogger())
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	got, err := os.ReadFile(cfg.ScreenshotPath)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)
}

func TestRunnerRunFailures(t *testing.T) {
	t.Parallel()

	notFound := &common.TimeoutError{
		Op:    `waiting for getByRole("heading", name="Active Jobs") to be visible`,
		After: 5 * time.Second,
		Err:   common.ErrElementNotFound,
	}

	tests := []struct {
		name        string
		setup       func(*fakeBrowserType, *fakeBrowser, *fakePage)
		wantErr     error
		wantMsg     string
		pageClosed  int
		browserShut int
	}{
		{
			name: "launch",
			setup: func(bt *fakeBrowserType, _ *fakeBrowser, _ *fakePage) {
				bt.launchErr = common.ErrBrowserNotFound
			},
			wantErr: common.ErrBrowserNotFound,
			wantMsg: "launching fake",
		},
		{
			name: "new_page",
			setup: func(_ *fakeBrowserType, b *fakeBrowser, _ *fakePage) {
				b.newPageErr = errors.New("target crashed")
			},
			wantMsg:     "opening a page: target crashed",
			browserShut: 1,
		},
		{
			name: "navigation",
			setup: func(_ *fakeBrowserType, _ *fakeBrowser, p *fakePage) {
				p.gotoErr = fmt.Errorf("%w: net::ERR_CONNECTION_REFUSED", common.ErrNavigation)
			},
			wantErr:     common.ErrNavigation,
			wantMsg:     "navigating to http://localhost:5173/",
			pageClosed:  1,
			browserShut: 1,
		},
		{
			name: "not_found",
			setup: func(_ *fakeBrowserType, _ *fakeBrowser, p *fakePage) {
				p.locator.waitErr = notFound
			},
			wantErr:     common.ErrElementNotFound,
			wantMsg:     "element not found",
			pageClosed:  1,
			browserShut: 1,
		},
		{
			name: "not_visible",
			setup: func(_ *fakeBrowserType, _ *fakeBrowser, p *fakePage) {
				p.locator.waitErr = &common.TimeoutError{After: time.Second, Err: common.ErrElementNotVisible}
			},
			wantErr:     common.ErrElementNotVisible,
			pageClosed:  1,
			browserShut: 1,
		},
		{
			name: "strict",
			setup: func(_ *fakeBrowserType, _ *fakeBrowser, p *fakePage) {
				p.locator.waitErr = fmt.Errorf("%w: resolved to 2 elements", common.ErrStrictModeViolation)
			},
			wantErr:     common.ErrStrictModeViolation,
			pageClosed:  1,
			browserShut: 1,
		},
		{
			name: "screenshot",
			setup: func(_ *fakeBrowserType, _ *fakeBrowser, p *fakePage) {
				p.screenshotErr = errors.New("capture failed")
			},
			wantMsg:     "taking a screenshot: capture failed",
			pageClosed:  1,
			browserShut: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bt, browser, page := newFakes()
			tt.setup(bt, browser, page)
			cfg := testConfig(t)

			r := NewRunner(bt, &storage.LocalFilePersister{}, log.NewNullLogger())
			res, err := r.Run(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			assert.Equal(t, tt.pageClosed, page.closeCount())
			assert.Equal(t, tt.browserShut, browser.closeCount())

			_, statErr := os.Stat(cfg.ScreenshotPath)
			assert.ErrorIs(t, statErr, os.ErrNotExist, "no screenshot on failure")
		})
	}
}

func TestRunnerRunReleaseErrorDoesNotMask(t *testing.T) {
	t.Parallel()

	bt, browser, page := newFakes()
	browser.closeErr = errors.New("browser went away")
	page.gotoErr = common.ErrNavigation

	l, hook := test.NewNullLogger()
	r := NewRunner(bt, &storage.LocalFilePersister{}, log.New(l, false, nil))

	_, err := r.Run(context.Background(), testConfig(t))
	require.ErrorIs(t, err, common.ErrNavigation)
	assert.NotContains(t, err.Error(), "browser went away")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "closing the browser: browser went away" {
			warned = true
		}
	}
	assert.True(t, warned, "release error is logged")
}

func TestRunnerRunInvalidConfig(t *testing.T) {
	t.Parallel()

	bt, browser, _ := newFakes()
	cfg := testConfig(t)
	cfg.URL = "localhost:5173"

	r := NewRunner(bt, &storage.LocalFilePersister{}, log.NewNullLogger())
	_, err := r.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Zero(t, browser.closeCount(), "browser never launched")
}

func TestRunnerRunJPEG(t *testing.T) {
	t.Parallel()

	bt, _, page := newFakes()
	cfg := testConfig(t)
	cfg.ScreenshotPath = filepath.Join(t.TempDir(), "dashboard.JPG")
	cfg.FullPage = false

	r := NewRunner(bt, &storage.LocalFilePersister{}, log.NewNullLogger())
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, api.ImageFormatJPEG, page.shotOpts.Format)
	assert.False(t, page.shotOpts.FullPage)
}
