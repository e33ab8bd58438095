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

package firefox

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
	"github.com/liuxd6825/remotebrowser/storage"
)

// Ensure BrowserType implements the api.BrowserType interface.
var _ api.BrowserType = &BrowserType{}

// BrowserType launches Firefox with its debugger server enabled, or
// connects to one already listening.
type BrowserType struct {
	execPath string
}

// NewBrowserType returns the Firefox browser type.
func NewBrowserType() *BrowserType {
	return &BrowserType{}
}

// Name returns "firefox".
func (b *BrowserType) Name() string {
	return "firefox"
}

// Connect attaches to a debugger server at opts.Host:opts.Port.
func (b *BrowserType) Connect(
	ctx context.Context, opts *common.LaunchOptions, logger *log.Logger,
) (api.Browser, api.Page, error) {
	port := opts.Port
	if port == 0 {
		port = common.DefaultFirefoxPort
	}

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := Dial(cctx, opts.Host, port, opts.ConnectAttempts, opts.ConnectInterval, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to firefox: %w", err)
	}
	browser := newBrowser(conn, nil, nil, opts, logger)
	page, err := browser.initialPage(cctx)
	if err != nil {
		_ = browser.Close()
		return nil, nil, fmt.Errorf("connecting to firefox: %w", err)
	}

	return browser, page, nil
}

// Launch starts Firefox on a fresh profile and attaches to its first tab.
func (b *BrowserType) Launch(
	ctx context.Context, opts *common.LaunchOptions, logger *log.Logger,
) (_ api.Browser, _ api.Page, rerr error) {
	port := opts.Port
	if port == 0 {
		var err error
		if port, err = freePort(opts.Host); err != nil {
			return nil, nil, fmt.Errorf("launching firefox: %w", err)
		}
	}

	profile := &storage.Dir{}
	if err := profile.Make("", opts.UserDataDir); err != nil {
		return nil, nil, fmt.Errorf("launching firefox: %w", err)
	}
	defer func() {
		if rerr == nil {
			return
		}
		if err := profile.Cleanup(); err != nil {
			logger.Errorf("BrowserType:Launch", "cleaning up the profile directory: %v", err)
		}
	}()
	if err := profile.WriteFile("user.js", userPrefs(port)); err != nil {
		return nil, nil, fmt.Errorf("launching firefox: %w", err)
	}

	path := opts.ExecutablePath
	if path == "" {
		path = b.ExecutablePath()
	}
	args := prepareArgs(opts, profile.Dir, port)

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	proc, err := common.LaunchBrowserProcess(cctx, path, args, opts.EnvList(), logger, func(stream, line string) {
		logger.Debugf("Browser:output", "%s: %s", stream, line)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("launching firefox: %w", err)
	}

	conn, err := Dial(cctx, opts.Host, port, opts.ConnectAttempts, opts.ConnectInterval, logger)
	if err != nil {
		_ = proc.Terminate()
		return nil, nil, fmt.Errorf("launching firefox: %w", err)
	}

	browser := newBrowser(conn, proc, profile, opts, logger)
	page, err := browser.initialPage(cctx)
	if err != nil {
		_ = browser.Close()
		return nil, nil, fmt.Errorf("launching firefox: %w", err)
	}

	return browser, page, nil
}

// ExecutablePath returns the first Firefox executable found.
func (b *BrowserType) ExecutablePath() (execPath string) {
	if b.execPath != "" {
		return b.execPath
	}
	defer func() {
		b.execPath = execPath
	}()

	for _, path := range [...]string{
		// Unix-like
		"firefox",
		"firefox-esr",
		"firefox-bin",
		"/usr/bin/firefox",
		"/usr/lib/firefox/firefox",

		// Windows
		"firefox.exe",
		`C:\Program Files\Mozilla Firefox\firefox.exe`,
		`C:\Program Files (x86)\Mozilla Firefox\firefox.exe`,
		filepath.Join(os.Getenv("LOCALAPPDATA"), `Mozilla Firefox\firefox.exe`),

		// Mac
		"/Applications/Firefox.app/Contents/MacOS/firefox",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}

// prepareArgs builds the command line. Default flags named in
// IgnoreDefaultArgs are left out; user Args come last.
func prepareArgs(opts *common.LaunchOptions, profileDir string, port int) []string {
	defaults := [][]string{
		{"-no-remote"},
		{"-new-instance"},
		{"-profile", profileDir},
		{"--start-debugger-server", strconv.Itoa(port)},
	}
	if opts.Headless {
		defaults = append([][]string{{"-headless"}}, defaults...)
	}

	ignored := make(map[string]bool, len(opts.IgnoreDefaultArgs))
	for _, name := range opts.IgnoreDefaultArgs {
		ignored[strings.TrimLeft(name, "-")] = true
	}

	var args []string
	for _, flag := range defaults {
		if ignored[strings.TrimLeft(flag[0], "-")] {
			continue
		}
		args = append(args, flag...)
	}
	args = append(args, opts.Args...)
	args = append(args, "about:blank")

	return args
}

// userPrefs enables the debugger server without the connection prompt and
// keeps first-run pages out of the way.
func userPrefs(port int) []byte {
	prefs := []struct {
		name  string
		value any
	}{
		{"devtools.debugger.remote-enabled", true},
		{"devtools.debugger.prompt-connection", false},
		{"devtools.chrome.enabled", true},
		{"devtools.debugger.remote-port", port},
		{"browser.shell.checkDefaultBrowser", false},
		{"browser.startup.homepage_override.mstone", "ignore"},
		{"browser.startup.page", 0},
		{"browser.tabs.warnOnClose", false},
		{"datareporting.policy.dataSubmissionEnabled", false},
		{"toolkit.telemetry.reportingpolicy.firstRun", false},
		{"dom.disable_open_during_load", false},
	}

	var b strings.Builder
	for _, p := range prefs {
		var v string
		switch value := p.value.(type) {
		case string:
			v = strconv.Quote(value)
		default:
			v = fmt.Sprint(value)
		}
		fmt.Fprintf(&b, "user_pref(%q, %s);\n", p.name, v)
	}
	return []byte(b.String())
}

// freePort asks the system for a port nothing listens on.
func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("finding a free debugger port: %w", err)
	}
	defer l.Close() //nolint:errcheck
	return l.Addr().(*net.TCPAddr).Port, nil
}
