// Command verify-dashboard opens the dashboard in a headless Chromium,
// checks that the "Active Jobs" heading is visible and saves a full page
// screenshot of it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/browserprocess"
	"github.com/reclamefabriek/dashcheck/chromium"
	"github.com/reclamefabriek/dashcheck/common"
	"github.com/reclamefabriek/dashcheck/log"
	"github.com/reclamefabriek/dashcheck/storage"
	"github.com/reclamefabriek/dashcheck/verify"
)

const (
	exitPass = 0
	exitFail = 1
	// exitInterrupted follows the shell convention of 128+SIGINT.
	exitInterrupted = 130
)

// app holds what the command needs from the outside world.
type app struct {
	stdout, stderr io.Writer

	newBrowserType func(*log.Logger) api.BrowserType
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A second signal doesn't wait for the browser to close.
	go func() {
		<-ctx.Done()
		stop()
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		<-sigs
		browserprocess.ForceProcessShutdown()
		os.Exit(exitInterrupted)
	}()

	defer func() {
		if r := recover(); r != nil {
			browserprocess.ForceProcessShutdown()
			panic(r)
		}
	}()

	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		newBrowserType: func(l *log.Logger) api.BrowserType {
			return chromium.New(l)
		},
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code) //nolint:gocritic
}

func (a *app) run(ctx context.Context, args []string) int {
	cmd := a.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprint(a.stderr, "FAIL") //nolint:errcheck
		fmt.Fprintf(a.stderr, ": %v\n", err)
		fmt.Fprintf(a.stderr, "\n%+v\n", err)
		if ctx.Err() != nil {
			return exitInterrupted
		}
		return exitFail
	}

	return exitPass
}

type flags struct {
	url               string
	role              string
	name              string
	exact             bool
	screenshot        string
	fullPage          bool
	navigationTimeout time.Duration
	timeout           time.Duration
	logLevel          string
	logCategoryFilter string
}

func (a *app) newRootCmd() *cobra.Command {
	defaults := verify.DefaultConfig()
	f := flags{}

	cmd := &cobra.Command{
		Use:   "verify-dashboard",
		Short: "Verify that the dashboard shows its Active Jobs heading",
		Long: `verify-dashboard opens the dashboard in a headless Chromium, waits for
the page to load, expects the "Active Jobs" heading to be visible and saves
a full page screenshot.

Browser launch settings are read from the environment:
  BROWSER_EXECUTABLE_PATH  path or name of the Chromium executable
  BROWSER_HEADLESS         run headless (default true)
  BROWSER_NO_SANDBOX       pass --no-sandbox (default true when run as root)
  BROWSER_ARGS             extra comma separated browser flags
  BROWSER_TIMEOUT          browser launch timeout (default 30s)
  BROWSER_DEBUG            log debug output regardless of --log-level`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.verify(cmd.Context(), f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", defaults.URL, "dashboard URL to open")
	fs.StringVar(&f.role, "role", defaults.Role, "accessibility role of the expected element")
	fs.StringVar(&f.name, "name", defaults.Name, "accessible name of the expected element")
	fs.BoolVar(&f.exact, "exact", defaults.Exact, "match the accessible name exactly instead of as a case-insensitive substring")
	fs.StringVar(&f.screenshot, "screenshot", defaults.ScreenshotPath, "where to save the screenshot, .jpg/.jpeg for JPEG")
	fs.BoolVar(&f.fullPage, "full-page", defaults.FullPage, "capture the whole page instead of the viewport")
	fs.DurationVar(&f.navigationTimeout, "navigation-timeout", defaults.NavigationTimeout, "how long to wait for the page to load")
	fs.DurationVar(&f.timeout, "timeout", defaults.AssertionTimeout, "how long to wait for the element to be visible")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")
	fs.StringVar(&f.logCategoryFilter, "log-category-filter", "", "only log categories matching this regular expression")

	return cmd
}

func (a *app) verify(ctx context.Context, f flags) error {
	cfg := verify.DefaultConfig()
	cfg.URL = f.url
	cfg.Role = f.role
	cfg.Name = f.name
	cfg.Exact = f.exact
	cfg.ScreenshotPath = f.screenshot
	cfg.FullPage = f.fullPage
	cfg.NavigationTimeout = f.navigationTimeout
	cfg.AssertionTimeout = f.timeout
	if err := common.ApplyLaunchEnv(cfg.Launch); err != nil {
		return errors.WithStack(err)
	}

	logger, err := a.newLogger(f, cfg.Launch.Debug)
	if err != nil {
		return err
	}

	runner := verify.NewRunner(a.newBrowserType(logger), &storage.LocalFilePersister{}, logger)
	res, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprint(a.stdout, "PASS") //nolint:errcheck
	fmt.Fprintf(a.stdout, ": %s %q is visible at %s\n", cfg.Role, cfg.Name, res.URL)
	fmt.Fprintf(a.stdout, "  screenshot: %s (%d bytes)\n", res.ScreenshotPath, res.ScreenshotBytes)
	fmt.Fprintf(a.stdout, "  browser:    %s\n", res.BrowserVersion)
	fmt.Fprintf(a.stdout, "  took:       %s\n", res.Duration.Round(time.Millisecond))

	return nil
}

func (a *app) newLogger(f flags, debug bool) (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(a.stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})

	logger := log.New(l, debug, nil)
	if err := logger.SetLevel(f.logLevel); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := logger.SetCategoryFilter(f.logCategoryFilter); err != nil {
		return nil, errors.WithStack(err)
	}

	return logger, nil
}
