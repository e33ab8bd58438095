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

// Package api declares the capabilities a remote-debugged browser exposes,
// independent of the wire protocol that drives it.
package api

import "context"

// Browser is a launched or attached browser.
type Browser interface {
	// Close releases the connection, the browser process and its profile
	// directory. Calling it more than once is a no-op.
	Close() error
	// Name returns the browser family name, e.g. "chromium" or "firefox".
	Name() string
	// Pages returns the pages opened through this handle that are not
	// closed yet.
	Pages() []Page
	// Version returns the product string of the browser.
	Version(ctx context.Context) (string, error)
}
