package api

import (
	"time"

	"gopkg.in/guregu/null.v3"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultAssertionTimeout  = 5 * time.Second
	DefaultLaunchTimeout     = 30 * time.Second
)

// LaunchOptions configure a browser launch. Unset null values fall back
// to the browser type defaults.
type LaunchOptions struct {
	ExecutablePath null.String
	Headless       null.Bool
	NoSandbox      null.Bool
	Args           []string
	Env            []string
	UserDataDir    string
	Timeout        time.Duration
	Debug          bool
}

// NewLaunchOptions returns the default launch options.
func NewLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Headless: null.BoolFrom(true),
		Timeout:  DefaultLaunchTimeout,
	}
}

// LifecycleEvent is a page load milestone a navigation can wait for.
type LifecycleEvent string

const (
	LifecycleEventLoad             LifecycleEvent = "load"
	LifecycleEventDOMContentLoaded LifecycleEvent = "domcontentloaded"
	LifecycleEventNetworkIdle      LifecycleEvent = "networkidle"
)

// GotoOptions configure Page.Goto.
type GotoOptions struct {
	WaitUntil LifecycleEvent
	Timeout   time.Duration
}

// NewGotoOptions returns the default navigation options.
func NewGotoOptions() *GotoOptions {
	return &GotoOptions{
		WaitUntil: LifecycleEventLoad,
		Timeout:   DefaultNavigationTimeout,
	}
}

// GetByRoleOptions narrow a role query by accessible name. With Exact
// unset, names match case-insensitively as substrings after whitespace
// normalization.
type GetByRoleOptions struct {
	Name  string
	Exact bool
}

// ImageFormat is a screenshot encoding.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
)

// ScreenshotOptions configure Page.Screenshot.
type ScreenshotOptions struct {
	FullPage bool
	Format   ImageFormat
	// Quality is used for JPEG only, 0-100.
	Quality int64
}

// NewScreenshotOptions returns options for a full page PNG.
func NewScreenshotOptions() *ScreenshotOptions {
	return &ScreenshotOptions{
		FullPage: true,
		Format:   ImageFormatPNG,
	}
}
