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

package api

import (
	"context"

	"github.com/liuxd6825/remotebrowser/common"
)

// Page is a single browsing target, such as a tab.
type Page interface {
	// Location returns the current URL of the page.
	Location(ctx context.Context) (string, error)
	// Navigate loads url and waits for the load to settle. It returns the
	// URL the page ended on.
	Navigate(ctx context.Context, url string) (string, error)

	// Evaluate runs a script expression and returns its value.
	Evaluate(ctx context.Context, expression string) (any, error)
	// EvaluateFunc calls the function source fn with args in an isolated
	// context and returns its value.
	EvaluateFunc(ctx context.Context, fn string, args ...any) (any, error)

	Cookies(ctx context.Context) ([]common.Cookie, error)
	// SetCookie sets a cookie and returns an empty slice.
	SetCookie(ctx context.Context, cookie common.Cookie) ([]common.Cookie, error)

	Screenshot(ctx context.Context, opts *common.ScreenshotOptions) ([]byte, error)

	// ExpectDialog arms the page for a dialog; Dialog must follow it.
	ExpectDialog(ctx context.Context) error
	// Dialog accepts or dismisses the expected dialog, with an optional
	// answer for prompts, and returns once the dialog is gone.
	Dialog(ctx context.Context, accept bool, promptText string) error

	// ConsoleErrors returns the errors the page reported so far.
	ConsoleErrors(ctx context.Context) ([]string, error)

	// NewPageClick clicks selector and returns the page it opened.
	NewPageClick(ctx context.Context, selector string) (Page, error)
	// Query returns the first element matching selector.
	Query(ctx context.Context, selector string) (ElementHandle, error)

	Close() error
}
