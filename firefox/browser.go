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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
	"github.com/liuxd6825/remotebrowser/storage"
)

// Ensure Browser implements the api.Browser interface.
var _ api.Browser = &Browser{}

var errNoNewTab = errors.New("no new tab yet")

// Browser is a Firefox instance reached through its debugger server.
type Browser struct {
	conn      *Connection
	process   *common.BrowserProcess
	profile   *storage.Dir
	logger    *log.Logger
	persister storage.FilePersister

	pollInterval time.Duration
	teardown     *common.Teardown

	pagesMu sync.Mutex
	pages   []*Page

	rootMu      sync.Mutex
	screenshots string
	device      string
}

// newBrowser wraps conn. process and profile are nil for browsers the
// client did not launch.
func newBrowser(
	conn *Connection, process *common.BrowserProcess, profile *storage.Dir,
	opts *common.LaunchOptions, logger *log.Logger,
) *Browser {
	b := &Browser{
		conn:         conn,
		process:      process,
		profile:      profile,
		logger:       logger,
		persister:    &storage.LocalFilePersister{},
		pollInterval: opts.ConnectInterval,
	}

	steps := []common.TeardownStep{{Name: "closing connection", Fn: conn.Close}}
	if process != nil {
		steps = append(steps, common.TeardownStep{Name: "terminating browser", Fn: process.Terminate})
	}
	if profile != nil {
		steps = append(steps, common.TeardownStep{Name: "removing profile", Fn: profile.Cleanup})
	}
	if process != nil {
		steps = append(steps, common.TeardownStep{Name: "killing leftover processes", Fn: func() error {
			common.ForceKillByImageName(logger, "firefox.exe")
			return nil
		}})
	}
	b.teardown = common.NewTeardown(logger, steps...)

	return b
}

// Close releases the connection, the browser process and its profile.
func (b *Browser) Close() error {
	return b.teardown.Run()
}

// Name returns "firefox".
func (b *Browser) Name() string {
	return "firefox"
}

// Pages returns the pages attached through this browser.
func (b *Browser) Pages() []api.Page {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()

	pages := make([]api.Page, 0, len(b.pages))
	for _, p := range b.pages {
		pages = append(pages, p)
	}
	return pages
}

// Version returns the product name and version, e.g. "Firefox/115.0".
func (b *Browser) Version(ctx context.Context) (string, error) {
	if err := b.loadRoot(ctx); err != nil {
		return "", err
	}
	r, err := b.conn.Request(ctx, b.device, "getDescription", nil)
	if err != nil {
		return "", fmt.Errorf("getting browser version: %w", err)
	}
	return r.Get("value.name").String() + "/" + r.Get("value.version").String(), nil
}

// loadRoot caches the global actors of the root.
func (b *Browser) loadRoot(ctx context.Context) error {
	b.rootMu.Lock()
	defer b.rootMu.Unlock()

	if b.device != "" {
		return nil
	}
	r, err := b.conn.Request(ctx, "root", "getRoot", nil)
	if err != nil {
		return fmt.Errorf("getting root actors: %w", err)
	}
	b.device = r.Get("deviceActor").String()
	b.screenshots = r.Get("screenshotActor").String()

	return nil
}

func (b *Browser) screenshotActor(ctx context.Context) (string, error) {
	if err := b.loadRoot(ctx); err != nil {
		return "", err
	}
	if b.screenshots == "" {
		return "", fmt.Errorf("capturing screenshots: %w", common.ErrUnsupported)
	}
	return b.screenshots, nil
}

func (b *Browser) listTabs(ctx context.Context) ([]gjson.Result, error) {
	r, err := b.conn.Request(ctx, "root", "listTabs", nil)
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}
	return r.Get("tabs").Array(), nil
}

// tabActors returns the descriptor actors of the open tabs.
func (b *Browser) tabActors(ctx context.Context) (map[string]struct{}, error) {
	tabs, err := b.listTabs(ctx)
	if err != nil {
		return nil, err
	}
	actors := make(map[string]struct{}, len(tabs))
	for _, t := range tabs {
		actors[t.Get("actor").String()] = struct{}{}
	}
	return actors, nil
}

// initialPage attaches to the selected tab, waiting for the browser to
// open one.
func (b *Browser) initialPage(ctx context.Context) (*Page, error) {
	var tab gjson.Result
	err := common.Poll(ctx, common.NewPageLookupAttempts, b.pollInterval, func(ctx context.Context) error {
		tabs, err := b.listTabs(ctx)
		if err != nil {
			return err
		}
		for _, t := range tabs {
			if t.Get("selected").Bool() || !tab.Exists() {
				tab = t
			}
		}
		if !tab.Exists() {
			return errNoNewTab
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding the initial tab: %w", err)
	}

	return b.attach(ctx, tab)
}

// waitNewTab attaches to the first tab not in before.
func (b *Browser) waitNewTab(ctx context.Context, before map[string]struct{}) (*Page, error) {
	var tab gjson.Result
	err := common.Poll(ctx, common.NewPageLookupAttempts, b.pollInterval, func(ctx context.Context) error {
		tabs, err := b.listTabs(ctx)
		if err != nil {
			return err
		}
		for _, t := range tabs {
			if _, ok := before[t.Get("actor").String()]; !ok {
				tab = t
				return nil
			}
		}
		return errNoNewTab
	})
	if err != nil {
		return nil, err
	}

	return b.attach(ctx, tab)
}

// attach resolves the target and console actors of a tab and starts
// listening for its page errors.
func (b *Browser) attach(ctx context.Context, tab gjson.Result) (*Page, error) {
	descriptor := tab.Get("actor").String()
	target, console := descriptor, tab.Get("consoleActor").String()
	bcID := tab.Get("browsingContextID").Int()

	r, err := b.conn.Request(ctx, descriptor, "getTarget", nil)
	switch {
	case err == nil:
		target = r.Get("frame.actor").String()
		console = r.Get("frame.consoleActor").String()
		if id := r.Get("frame.browsingContextID"); id.Exists() {
			bcID = id.Int()
		}
	case console != "":
		// Older servers describe the tab target inline.
		b.logger.Debugf("Browser:attach", "tab:%s getTarget: %v", descriptor, err)
	default:
		return nil, fmt.Errorf("attaching to tab %s: %w", descriptor, err)
	}

	if _, err := b.conn.Request(ctx, target, "attach", nil); err != nil {
		b.logger.Debugf("Browser:attach", "tab:%s attach: %v", descriptor, err)
	}
	if _, err := b.conn.Request(ctx, console, "startListeners", map[string]any{
		"listeners": []string{"PageError"},
	}); err != nil {
		b.logger.Debugf("Browser:attach", "tab:%s startListeners: %v", descriptor, err)
	}

	p := newPage(b, descriptor, target, console, bcID)
	b.pagesMu.Lock()
	b.pages = append(b.pages, p)
	b.pagesMu.Unlock()
	b.logger.Debugf("Browser:attach", "tab:%s target:%s console:%s", descriptor, target, console)

	return p, nil
}

func (b *Browser) forgetPage(p *Page) {
	b.pagesMu.Lock()
	defer b.pagesMu.Unlock()

	for i, pp := range b.pages {
		if pp == p {
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			return
		}
	}
}
