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

// ElementHandle is a reference to a DOM element of a page.
type ElementHandle interface {
	Click(ctx context.Context, opts *common.ClickOptions) error
	// Type focuses the element and inserts text.
	Type(ctx context.Context, text string) error

	Value(ctx context.Context) (string, error)
	SetValue(ctx context.Context, value string) error
	// GetAttribute returns the attribute value and whether it is present.
	GetAttribute(ctx context.Context, name string) (string, bool, error)
	SetAttribute(ctx context.Context, name, value string) error

	// SetInputFiles attaches local files to a file input.
	SetInputFiles(ctx context.Context, paths ...string) error
	Screenshot(ctx context.Context, opts *common.ScreenshotOptions) ([]byte, error)

	Selector() string
}
