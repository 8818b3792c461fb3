// Package chromium is responsible for launching a Chromium based browser
// process and managing its lifetime.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/browserprocess"
	"github.com/reclamefabriek/dashcheck/common"
	"github.com/reclamefabriek/dashcheck/log"
	"github.com/reclamefabriek/dashcheck/storage"
)

// Viewport size of new pages.
const (
	DefaultWindowWidth  = 1280
	DefaultWindowHeight = 720
)

// executableNames are looked up on PATH in order when no executable path
// is configured.
var executableNames = []string{ //nolint:gochecknoglobals
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

var _ api.BrowserType = &BrowserType{}

// BrowserType launches Chromium based browsers.
type BrowserType struct {
	logger *log.Logger

	// lookPath is exec.LookPath, replaced in tests.
	lookPath func(string) (string, error)
}

// New returns a chromium BrowserType.
func New(logger *log.Logger) *BrowserType {
	return &BrowserType{
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Name returns the browser type name.
func (b *BrowserType) Name() string {
	return "chromium"
}

// ExecutablePath returns the first known browser executable found on PATH,
// or an empty string.
func (b *BrowserType) ExecutablePath() string {
	for _, name := range executableNames {
		if path, err := b.lookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Launch starts a browser and connects to it. Cancelling ctx kills the
// browser; otherwise it lives until Browser.Close.
func (b *BrowserType) Launch(ctx context.Context, opts *api.LaunchOptions) (api.Browser, error) {
	if opts == nil {
		opts = api.NewLaunchOptions()
	}

	path, err := b.resolveExecutable(opts)
	if err != nil {
		return nil, err
	}

	dataDir := &storage.Dir{}
	if err := dataDir.Make("", opts.UserDataDir); err != nil {
		return nil, err
	}

	args := launchArgs(opts, dataDir.Dir)
	b.logger.Debugf("BrowserType:Launch", "executable:%q args:%q", path, args)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = api.DefaultLaunchTimeout
	}
	launchCtx, launchCancel := context.WithTimeout(ctx, timeout)
	defer launchCancel()

	procCtx, procCancel := context.WithCancel(ctx)
	// The process lives on procCtx; only the DevTools URL wait is bounded
	// by the launch timeout.
	stop := context.AfterFunc(launchCtx, func() {
		if ctx.Err() == nil && launchCtx.Err() == context.DeadlineExceeded {
			procCancel()
		}
	})
	defer stop()

	proc, err := common.NewBrowserProcess(procCtx, path, args, opts.Env, dataDir, procCancel, b.logger)
	if err != nil {
		procCancel()
		_ = dataDir.Cleanup()
		if errors.Is(launchCtx.Err(), context.DeadlineExceeded) {
			err = &common.TimeoutError{Op: "launching browser", After: timeout, Err: err}
		}
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	browserprocess.Register(b.logger, proc.Pid())

	browser, err := common.NewBrowser(procCtx, procCancel, proc, opts, b.logger)
	if err != nil {
		proc.GracefulClose()
		proc.Terminate()
		<-proc.Done()
		browserprocess.Deregister(b.logger, proc.Pid())
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	b.logger.Infof("BrowserType:Launch", "launched %s (pid %d)", browser.Version(), proc.Pid())

	return browser, nil
}

func (b *BrowserType) resolveExecutable(opts *api.LaunchOptions) (string, error) {
	if opts.ExecutablePath.Valid && opts.ExecutablePath.String != "" {
		path := opts.ExecutablePath.String
		if _, err := os.Stat(path); err != nil {
			if resolved, lerr := b.lookPath(path); lerr == nil {
				return resolved, nil
			}
			return "", fmt.Errorf("%w: %s", common.ErrBrowserNotFound, path)
		}
		return path, nil
	}
	if path := b.ExecutablePath(); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("%w: looked for %q on PATH; set BROWSER_EXECUTABLE_PATH",
		common.ErrBrowserNotFound, executableNames)
}

func launchArgs(opts *api.LaunchOptions, userDataDir string) []string {
	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + userDataDir,
		fmt.Sprintf("--window-size=%d,%d", DefaultWindowWidth, DefaultWindowHeight),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-breakpad",
		"--disable-component-update",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-extensions",
		"--disable-hang-monitor",
		"--disable-popup-blocking",
		"--disable-prompt-on-repost",
		"--disable-renderer-backgrounding",
		"--disable-sync",
		"--metrics-recording-only",
		"--password-store=basic",
		"--use-mock-keychain",
		"--hide-scrollbars",
		"--mute-audio",
	}
	if opts.Headless.ValueOrZero() || !opts.Headless.Valid {
		args = append(args, "--headless=new")
	}
	if opts.NoSandbox.ValueOrZero() || (!opts.NoSandbox.Valid && os.Geteuid() == 0) {
		args = append(args, "--no-sandbox")
	}
	args = append(args, opts.Args...)

	return append(args, "about:blank")
}
