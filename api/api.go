// Package api defines the browser automation interfaces the verification
// routine is written against.
package api

import (
	"context"
	"time"
)

// BrowserType launches browsers of one kind.
type BrowserType interface {
	Name() string
	ExecutablePath() string
	Launch(ctx context.Context, opts *LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Version() string
	UserAgent() string
	IsConnected() bool
	// Close closes the browser and waits for its process to end. It is
	// safe to call more than once.
	Close(ctx context.Context) error
}

// Page is a single browser tab.
type Page interface {
	Goto(ctx context.Context, url string, opts *GotoOptions) error
	GetByRole(role string, opts *GetByRoleOptions) Locator
	Screenshot(ctx context.Context, opts *ScreenshotOptions) ([]byte, error)
	URL() string
	// Close releases the page. The page is unusable afterwards.
	Close(ctx context.Context) error
}

// Locator finds elements on a page each time it is used.
type Locator interface {
	Count(ctx context.Context) (int, error)
	IsVisible(ctx context.Context) (bool, error)
	// WaitVisible blocks until exactly one element matches and is visible,
	// or fails after timeout. A zero timeout uses DefaultAssertionTimeout.
	WaitVisible(ctx context.Context, timeout time.Duration) error
	String() string
}
