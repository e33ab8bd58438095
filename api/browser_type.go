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
	"github.com/liuxd6825/remotebrowser/log"
)

// BrowserType launches or attaches to one browser family.
type BrowserType interface {
	// Connect attaches to a browser already listening at opts.Host and
	// opts.Port. Closing the returned browser leaves the process running.
	Connect(ctx context.Context, opts *common.LaunchOptions, logger *log.Logger) (Browser, Page, error)
	// ExecutablePath returns the executable Launch starts when the options
	// name none.
	ExecutablePath() string
	// Launch starts a browser and returns it with its initial page.
	Launch(ctx context.Context, opts *common.LaunchOptions, logger *log.Logger) (Browser, Page, error)
	Name() string
}
