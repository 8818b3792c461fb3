package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions.
type Page interface {
	Enable(context.Context) error
	SetLifecycleEventsEnabled(ctx context.Context, enabled bool) error
	Navigate(ctx context.Context, url string) (cdp.FrameID, cdp.LoaderID, error)
	Close(context.Context) error
	CSSContentSize(context.Context) (width, height float64, err error)
	CaptureScreenshot(ctx context.Context, params *cdpp.CaptureScreenshotParams) ([]byte, error)
}

// NavigationError is returned by Navigate when the browser answered the
// navigation with an error text such as net::ERR_CONNECTION_REFUSED.
type NavigationError struct {
	URL       string
	ErrorText string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s at %q", e.ErrorText, e.URL)
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

func (p *page) SetLifecycleEventsEnabled(ctx context.Context, enabled bool) error {
	action := cdpp.SetLifecycleEventsEnabled(enabled)
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("setting lifecycle events enabled to %t: %w", enabled, err)
	}

	return nil
}

func (p *page) Navigate(ctx context.Context, url string) (cdp.FrameID, cdp.LoaderID, error) {
	action := cdpp.Navigate(url)

	frameID, loaderID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", "", fmt.Errorf("navigating to %q: %w", url, err)
	}
	if errorText != "" {
		return "", "", &NavigationError{URL: url, ErrorText: errorText}
	}

	return frameID, loaderID, nil
}

func (p *page) Close(ctx context.Context) error {
	action := cdpp.Close()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("closing page: %w", err)
	}

	return nil
}

// CSSContentSize returns the size of the whole document in CSS pixels.
func (p *page) CSSContentSize(ctx context.Context) (float64, float64, error) {
	action := cdpp.GetLayoutMetrics()
	_, _, _, _, _, cssContentSize, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return 0, 0, fmt.Errorf("getting layout metrics: %w", err)
	}
	if cssContentSize == nil {
		return 0, 0, nil
	}

	return cssContentSize.Width, cssContentSize.Height, nil
}

func (p *page) CaptureScreenshot(ctx context.Context, params *cdpp.CaptureScreenshotParams) ([]byte, error) {
	buf, err := params.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	return buf, nil
}
