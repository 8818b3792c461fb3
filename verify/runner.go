package verify

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/log"
	"github.com/reclamefabriek/dashcheck/storage"
)

// releaseTimeout bounds closing the page and the browser after a run,
// including runs whose context was cancelled.
const releaseTimeout = 10 * time.Second

// Result describes a passed verification.
type Result struct {
	URL             string
	ScreenshotPath  string
	ScreenshotBytes int
	BrowserVersion  string
	Duration        time.Duration
}

// Runner runs verifications with a browser type and keeps the screenshots
// with a file persister.
type Runner struct {
	browserType api.BrowserType
	persister   storage.FilePersister
	logger      *log.Logger
}

// NewRunner returns a Runner.
func NewRunner(bt api.BrowserType, fp storage.FilePersister, logger *log.Logger) *Runner {
	return &Runner{
		browserType: bt,
		persister:   fp,
		logger:      logger,
	}
}

// Run launches a browser, opens cfg.URL, asserts that the element with
// cfg.Role and cfg.Name is visible and writes a screenshot of the page to
// cfg.ScreenshotPath, replacing any previous one. The page and the browser
// are closed however the run ends. No screenshot is written when an
// earlier step fails.
func (r *Runner) Run(ctx context.Context, cfg Config) (_ *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	start := time.Now()

	r.logger.Infof("Runner:Run", "launching %s", r.browserType.Name())
	browser, err := r.browserType.Launch(ctx, cfg.Launch)
	if err != nil {
		return nil, errors.Wrapf(err, "launching %s", r.browserType.Name())
	}
	defer r.release("browser", browser.Close)

	page, err := browser.NewPage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening a page")
	}
	defer r.release("page", page.Close)

	r.logger.Infof("Runner:Run", "navigating to %s", cfg.URL)
	gopts := &api.GotoOptions{
		WaitUntil: api.LifecycleEventLoad,
		Timeout:   cfg.NavigationTimeout,
	}
	if err := page.Goto(ctx, cfg.URL, gopts); err != nil {
		return nil, errors.Wrapf(err, "navigating to %s", cfg.URL)
	}

	locator := page.GetByRole(cfg.Role, &api.GetByRoleOptions{Name: cfg.Name, Exact: cfg.Exact})
	r.logger.Infof("Runner:Run", "expecting %s to be visible", locator)
	if err := locator.WaitVisible(ctx, cfg.AssertionTimeout); err != nil {
		return nil, errors.Wrapf(err, "expecting %s to be visible", locator)
	}

	sopts := &api.ScreenshotOptions{
		FullPage: cfg.FullPage,
		Format:   screenshotFormat(cfg.ScreenshotPath),
	}
	buf, err := page.Screenshot(ctx, sopts)
	if err != nil {
		return nil, errors.Wrap(err, "taking a screenshot")
	}
	if err := r.persister.Persist(ctx, cfg.ScreenshotPath, bytes.NewReader(buf)); err != nil {
		return nil, errors.Wrapf(err, "saving the screenshot to %s", cfg.ScreenshotPath)
	}
	r.logger.Infof("Runner:Run", "saved %d byte screenshot to %s", len(buf), cfg.ScreenshotPath)

	return &Result{
		URL:             page.URL(),
		ScreenshotPath:  cfg.ScreenshotPath,
		ScreenshotBytes: len(buf),
		BrowserVersion:  browser.Version(),
		Duration:        time.Since(start),
	}, nil
}

// release closes a page or browser. Its error is logged only, so it never
// hides the error of the run.
func (r *Runner) release(what string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := closeFn(ctx); err != nil {
		r.logger.Warnf("Runner:release", "closing the %s: %v", what, err)
		return
	}
	r.logger.Debugf("Runner:release", "closed the %s", what)
}
