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
	"fmt"
	"math"

	cdppage "github.com/chromedp/cdproto/page"

	"github.com/reclamefabriek/dashcheck/api"
	"github.com/reclamefabriek/dashcheck/cdp/domains"
	"github.com/reclamefabriek/dashcheck/log"
)

// Screenshotter captures page images.
type Screenshotter struct {
	page   domains.Page
	logger *log.Logger
}

// NewScreenshotter returns a Screenshotter using the page's CDP domain.
func NewScreenshotter(page domains.Page, logger *log.Logger) *Screenshotter {
	return &Screenshotter{
		page:   page,
		logger: logger,
	}
}

func (s *Screenshotter) screenshot(ctx context.Context, opts *api.ScreenshotOptions) ([]byte, error) {
	capture := cdppage.CaptureScreenshot().WithFromSurface(true)

	switch opts.Format {
	case api.ImageFormatJPEG:
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatJpeg)
		if opts.Quality > 0 {
			capture = capture.WithQuality(opts.Quality)
		}
	case api.ImageFormatPNG, "":
		capture = capture.WithFormat(cdppage.CaptureScreenshotFormatPng)
	default:
		return nil, fmt.Errorf("unsupported screenshot format %q", opts.Format)
	}

	if opts.FullPage {
		clip, err := s.fullPageClip(ctx)
		if err != nil {
			return nil, err
		}
		if clip != nil {
			capture = capture.WithCaptureBeyondViewport(true).WithClip(clip)
		}
	}

	buf, err := s.page.CaptureScreenshot(ctx, capture)
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("Screenshotter:screenshot", "captured %d bytes fullPage:%t format:%q", len(buf), opts.FullPage, opts.Format)

	return buf, nil
}

// fullPageClip returns a clip covering the whole document, or nil when the
// document reports no size and the viewport is captured instead.
func (s *Screenshotter) fullPageClip(ctx context.Context) (*cdppage.Viewport, error) {
	width, height, err := s.page.CSSContentSize(ctx)
	if err != nil {
		return nil, err
	}
	return clipForSize(width, height), nil
}

func clipForSize(width, height float64) *cdppage.Viewport {
	width, height = math.Ceil(width), math.Ceil(height)
	if width <= 0 || height <= 0 {
		return nil
	}
	return &cdppage.Viewport{
		X:      0,
		Y:      0,
		Width:  width,
		Height: height,
		Scale:  1,
	}
}
