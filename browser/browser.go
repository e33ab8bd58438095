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

// Package browser is the entry point of the remote debugging clients: it
// builds a client for a named browser family and returns the browser
// handle with its initial page.
package browser

import (
	"context"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

// Launch starts the browser registered as name and attaches to its
// initial page. Nil opts and logger mean the defaults and no logging.
func Launch(
	ctx context.Context, name string, opts *common.LaunchOptions, logger *log.Logger,
) (api.Browser, api.Page, error) {
	bt, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	opts, logger = withDefaults(opts, logger)
	logger.Debugf("browser:Launch", "name:%s headless:%t port:%d", bt.Name(), opts.Headless, opts.Port)

	return bt.Launch(ctx, opts, logger)
}

// Connect attaches to an already running browser registered as name at
// opts.Host and opts.Port. Closing the returned browser leaves the
// process running.
func Connect(
	ctx context.Context, name string, opts *common.LaunchOptions, logger *log.Logger,
) (api.Browser, api.Page, error) {
	bt, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	opts, logger = withDefaults(opts, logger)
	logger.Debugf("browser:Connect", "name:%s host:%s port:%d", bt.Name(), opts.Host, opts.Port)

	return bt.Connect(ctx, opts, logger)
}

func withDefaults(opts *common.LaunchOptions, logger *log.Logger) (*common.LaunchOptions, *log.Logger) {
	if opts == nil {
		opts = common.NewLaunchOptions()
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return opts, logger
}
