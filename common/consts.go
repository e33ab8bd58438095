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

import "time"

const (
	// ConsoleErrorsDelay lets errors raised by the action just performed
	// reach the page's console error list before it is read.
	ConsoleErrorsDelay = 500 * time.Millisecond

	DefaultConnectAttempts = 50
	DefaultConnectInterval = 100 * time.Millisecond
	DefaultTimeout         = 30 * time.Second

	// NewPageLookupAttempts bounds the target list polling done after a
	// click opened a new page.
	NewPageLookupAttempts = 20

	DefaultChromiumPort = 9222
	DefaultFirefoxPort  = 6000
	DefaultHost         = "127.0.0.1"
)
