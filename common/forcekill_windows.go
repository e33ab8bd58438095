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

//go:build windows

package common

import (
	"os/exec"

	"github.com/liuxd6825/remotebrowser/log"
)

// ForceKillByImageName kills every process started from the executable
// image name, including children. Firefox on Windows can leave content
// processes behind after the parent was killed. Failures are only logged.
func ForceKillByImageName(logger *log.Logger, name string) {
	out, err := exec.Command("taskkill", "/F", "/T", "/IM", name).CombinedOutput() //nolint:gosec
	if err != nil {
		logger.Debugf("BrowserProcess:forceKill", "taskkill %s: %v: %s", name, err, out)
	}
}
