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

package chromium

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
	"github.com/liuxd6825/remotebrowser/storage"
)

// Ensure BrowserType implements the api.BrowserType interface.
var _ api.BrowserType = &BrowserType{}

const devToolsPrefix = "DevTools listening on "

// BrowserType launches Chrome-family browsers with remote debugging
// enabled, or connects to one already listening.
type BrowserType struct {
	execPath string
}

// NewBrowserType returns the Chromium browser type.
func NewBrowserType() *BrowserType {
	return &BrowserType{}
}

// Name returns "chromium".
func (b *BrowserType) Name() string {
	return "chromium"
}

// Connect attaches to the debugging endpoint at opts.Host:opts.Port.
func (b *BrowserType) Connect(
	ctx context.Context, opts *common.LaunchOptions, logger *log.Logger,
) (api.Browser, api.Page, error) {
	port := opts.Port
	if port == 0 {
		port = common.DefaultChromiumPort
	}

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	browser, page, err := b.link(cctx, opts, port, nil, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to chromium: %w", err)
	}
	return browser, page, nil
}

// Launch starts the browser on a fresh user data directory and attaches to
// its first page.
func (b *BrowserType) Launch(
	ctx context.Context, opts *common.LaunchOptions, logger *log.Logger,
) (_ api.Browser, _ api.Page, rerr error) {
	dataDir := &storage.Dir{}
	if err := dataDir.Make("", opts.UserDataDir); err != nil {
		return nil, nil, fmt.Errorf("launching chromium: %w", err)
	}
	defer func() {
		if rerr == nil {
			return
		}
		if err := dataDir.Cleanup(); err != nil {
			logger.Errorf("BrowserType:Launch", "cleaning up the user data directory: %v", err)
		}
	}()

	flags := prepareFlags(opts)
	flags["user-data-dir"] = dataDir.Dir
	flags["remote-debugging-port"] = strconv.Itoa(opts.Port)
	args, err := parseArgs(flags)
	if err != nil {
		return nil, nil, fmt.Errorf("launching chromium: %w", err)
	}

	path := opts.ExecutablePath
	if path == "" {
		path = b.ExecutablePath()
	}

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	wsURLs := make(chan string, 1)
	proc, err := common.LaunchBrowserProcess(cctx, path, args, opts.EnvList(), logger, func(_, line string) {
		if ws, ok := parseDevToolsLine(line); ok {
			select {
			case wsURLs <- ws:
			default:
			}
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("launching chromium: %w", err)
	}

	port := opts.Port
	if port == 0 {
		if port, err = waitDevToolsPort(cctx, wsURLs, proc.Done()); err != nil {
			_ = proc.Terminate()
			return nil, nil, fmt.Errorf("launching chromium: %w", err)
		}
	}

	browser, page, err := b.link(cctx, opts, port, proc, dataDir, logger)
	if err != nil {
		_ = proc.Terminate()
		return nil, nil, fmt.Errorf("launching chromium: %w", err)
	}
	return browser, page, nil
}

// link discovers the endpoint at port, connects to it and attaches the
// initial page. The returned browser owns proc and dataDir.
func (b *BrowserType) link(
	ctx context.Context, opts *common.LaunchOptions, port int,
	proc *common.BrowserProcess, dataDir *storage.Dir, logger *log.Logger,
) (*Browser, *Page, error) {
	info, err := Discover(ctx, opts.Host, port, opts.ConnectAttempts, opts.ConnectInterval)
	if err != nil {
		return nil, nil, err
	}
	logger.Debugf("BrowserType:link", "browser:%q ws:%q", info.Browser, info.WebSocketDebuggerURL)

	conn, err := NewConnection(ctx, info.WebSocketDebuggerURL, logger)
	if err != nil {
		return nil, nil, err
	}

	browser := newBrowser(conn, opts.Host, port, proc, dataDir, opts, logger)
	page, err := browser.initialPage(ctx)
	if err != nil {
		_ = browser.Close()
		return nil, nil, err
	}
	return browser, page, nil
}

// parseDevToolsLine extracts the browser endpoint from the line Chromium
// prints once its debugging server listens.
func parseDevToolsLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, devToolsPrefix) {
		return "", false
	}
	return strings.TrimPrefix(line, devToolsPrefix), true
}

// waitDevToolsPort returns the port of the first endpoint the browser
// announces.
func waitDevToolsPort(ctx context.Context, wsURLs <-chan string, exited <-chan struct{}) (int, error) {
	select {
	case ws := <-wsURLs:
		u, err := url.Parse(ws)
		if err != nil {
			return 0, fmt.Errorf("parsing devtools url %q: %w", ws, err)
		}
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return 0, fmt.Errorf("devtools url %q has no port: %w", ws, err)
		}
		return port, nil
	case <-exited:
		return 0, errors.New("browser exited before its debugging endpoint was up")
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for the debugging endpoint: %w", ctx.Err())
	}
}

// ExecutablePath returns the first Chrome-family executable found.
func (b *BrowserType) ExecutablePath() (execPath string) {
	if b.execPath != "" {
		return b.execPath
	}
	defer func() {
		b.execPath = execPath
	}()

	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}

// parseArgs renders flags as a sorted command line that opens a blank
// page first.
func parseArgs(flags map[string]any) ([]string, error) {
	var args []string
	for name, value := range flags {
		switch value := value.(type) {
		case string:
			if value == "" {
				args = append(args, "--"+name)
				continue
			}
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, "--"+name)
			}
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}
	if _, ok := flags["no-sandbox"]; !ok && os.Getuid() == 0 {
		// Chromium refuses to run as root with the sandbox, which is the
		// usual case in containers.
		args = append(args, "--no-sandbox")
	}
	sort.Strings(args)

	// --no-first-run doesn't keep the welcome page away.
	args = append(args, "about:blank")
	return args, nil
}

func prepareFlags(opts *common.LaunchOptions) map[string]any {
	f := map[string]any{
		"disable-background-networking":                      true,
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		//nolint:lll
		"disable-features":                "ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,AcceptCHFrame",
		"disable-hang-monitor":            true,
		"disable-ipc-flooding-protection": true,
		"disable-popup-blocking":          true,
		"disable-prompt-on-repost":        true,
		"disable-renderer-backgrounding":  true,
		"force-color-profile":             "srgb",
		"metrics-recording-only":          true,
		"no-first-run":                    true,
		"enable-automation":               true,
		"password-store":                  "basic",
		"use-mock-keychain":               true,
		"no-service-autorun":              true,
		"no-default-browser-check":        true,
		"remote-allow-origins":            "*",
		"headless":                        opts.Headless,
		"window-size":                     "800,600",
	}
	if opts.Headless {
		f["disable-gpu"] = true
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
		f["blink-settings"] = "primaryHoverType=2,availableHoverTypes=2,primaryPointerType=4,availablePointerTypes=4"
	}
	ignoreDefaultArgsFlags(f, opts.IgnoreDefaultArgs)
	setFlagsFromArgs(f, opts.Args)

	return f
}

// ignoreDefaultArgsFlags ignores any flags in the provided slice.
func ignoreDefaultArgsFlags(flags map[string]any, toIgnore []string) {
	for _, name := range toIgnore {
		delete(flags, strings.TrimPrefix(name, "--"))
	}
}

// setFlagsFromArgs fills flags from "name=value" launch arguments.
func setFlagsFromArgs(flags map[string]any, args []string) {
	for _, arg := range args {
		name, value, _ := strings.Cut(arg, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "--")
		flags[name] = trimQuotes(strings.TrimSpace(value))
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if c := s[len(s)-1]; s[0] == c && (c == '"' || c == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
