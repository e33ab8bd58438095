/*
 *
 * remotebrowser - a remote-debugging protocol client for Chromium and Firefox
 * Copyright (C) 2021 Load Impact
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
	"fmt"
	"strings"

	"gopkg.in/guregu/null.v3"
)

// ImageFormat is the encoding of a captured screenshot.
type ImageFormat string

const (
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatPNG  ImageFormat = "png"
)

const (
	// DefaultScreenshotQuality applies to jpeg captures without a quality.
	DefaultScreenshotQuality = 80

	errQualityTooHigh = "A quality value greater than 100 is not allowed."
)

// ScreenshotOptions controls a page or element capture.
type ScreenshotOptions struct {
	Format ImageFormat `json:"format" yaml:"format"`
	// Quality is the jpeg quality in [0,100]; unset means
	// DefaultScreenshotQuality.
	Quality null.Int `json:"quality" yaml:"quality"`
	// Path, when set, is where the encoded image is persisted.
	Path string `json:"path" yaml:"path"`
	// FullPage captures the whole scrollable page instead of the viewport.
	FullPage bool `json:"fullPage" yaml:"fullPage"`
}

// NewScreenshotOptions returns the default capture options.
func NewScreenshotOptions() *ScreenshotOptions {
	return &ScreenshotOptions{Format: ImageFormatJPEG}
}

// Validate fills in defaults and rejects invalid values. It must run
// before any capture command is sent.
func (o *ScreenshotOptions) Validate() error {
	if o.Format == "" {
		o.Format = ImageFormatJPEG
	}
	o.Format = ImageFormat(strings.ToLower(string(o.Format)))
	if o.Format == "jpg" {
		o.Format = ImageFormatJPEG
	}

	switch o.Format {
	case ImageFormatJPEG:
	case ImageFormatPNG:
		if o.Quality.Valid {
			return &PreconditionError{Op: "screenshot", Reason: "quality is unsupported for the png screenshots"}
		}
		return nil
	default:
		return &PreconditionError{Op: "screenshot", Reason: fmt.Sprintf("unsupported screenshot format %q", o.Format)}
	}

	switch {
	case !o.Quality.Valid:
		o.Quality = null.IntFrom(DefaultScreenshotQuality)
	case o.Quality.Int64 > 100:
		return &PreconditionError{Op: "screenshot", Reason: errQualityTooHigh}
	case o.Quality.Int64 < 0:
		return &PreconditionError{Op: "screenshot", Reason: "A quality value lower than 0 is not allowed."}
	}

	return nil
}

// WaitFor tells Click what should happen after the mouse is released.
type WaitFor string

const (
	WaitForNone       WaitFor = ""
	WaitForNavigation WaitFor = "navigation"
	WaitForNewPage    WaitFor = "newPage"
)

// ClickOptions controls an element click.
type ClickOptions struct {
	WaitFor    WaitFor
	ClickCount int64
}

// NewClickOptions returns the default click options.
func NewClickOptions() *ClickOptions {
	return &ClickOptions{ClickCount: 1}
}

// Validate rejects unknown wait modes.
func (o *ClickOptions) Validate() error {
	switch o.WaitFor {
	case WaitForNone, WaitForNavigation, WaitForNewPage:
	default:
		return &PreconditionError{Op: "click", Reason: fmt.Sprintf("unknown waitFor value %q", o.WaitFor)}
	}
	if o.ClickCount <= 0 {
		o.ClickCount = 1
	}
	return nil
}

// Cookie is a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Validate rejects cookies the browser would silently ignore.
func (c *Cookie) Validate() error {
	if c.Name == "" {
		return &PreconditionError{Op: "setCookie", Reason: "cookie name must not be empty"}
	}
	if c.URL == "" && c.Domain == "" {
		return &PreconditionError{Op: "setCookie", Reason: fmt.Sprintf("cookie %q should have a url or a domain", c.Name)}
	}
	return nil
}
