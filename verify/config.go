// Package verify runs the dashboard verification: open the dashboard,
// assert that the "Active Jobs" heading is visible and keep a screenshot
// of the page as evidence.
package verify

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/reclamefabriek/dashcheck/api"
)

// Defaults of a verification run.
const (
	DefaultURL            = "http://localhost:5173/"
	DefaultRole           = "heading"
	DefaultName           = "Active Jobs"
	DefaultScreenshotPath = "jules-scratch/verification/dashboard.png"
)

// Config describes what to verify and where to keep the screenshot.
type Config struct {
	URL   string
	Role  string
	Name  string
	Exact bool

	ScreenshotPath string
	FullPage       bool

	NavigationTimeout time.Duration
	AssertionTimeout  time.Duration

	Launch *api.LaunchOptions
}

// DefaultConfig returns the configuration of the stock dashboard check.
func DefaultConfig() Config {
	return Config{
		URL:               DefaultURL,
		Role:              DefaultRole,
		Name:              DefaultName,
		ScreenshotPath:    DefaultScreenshotPath,
		FullPage:          true,
		NavigationTimeout: api.DefaultNavigationTimeout,
		AssertionTimeout:  api.DefaultAssertionTimeout,
		Launch:            api.NewLaunchOptions(),
	}
}

// Validate returns an error if the configuration can't be run.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.Wrapf(err, "parsing url %q", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("url %q must be an absolute http(s) url", c.URL)
	}
	if u.Host == "" {
		return errors.Errorf("url %q has no host", c.URL)
	}
	if strings.TrimSpace(c.Role) == "" {
		return errors.New("role must not be empty")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name must not be empty")
	}
	if c.ScreenshotPath == "" {
		return errors.New("screenshot path must not be empty")
	}
	if c.NavigationTimeout < 0 {
		return errors.Errorf("navigation timeout must not be negative: %s", c.NavigationTimeout)
	}
	if c.AssertionTimeout < 0 {
		return errors.Errorf("assertion timeout must not be negative: %s", c.AssertionTimeout)
	}

	return nil
}

// screenshotFormat picks the image format from the screenshot path's
// extension; anything but .jpg and .jpeg is PNG.
func screenshotFormat(path string) api.ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return api.ImageFormatJPEG
	default:
		return api.ImageFormatPNG
	}
}
