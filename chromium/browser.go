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
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpbrowser "github.com/chromedp/cdproto/browser"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
	"github.com/liuxd6825/remotebrowser/storage"
)

// Ensure Browser implements the api.Browser interface.
var _ api.Browser = &Browser{}

var errNoTarget = errors.New("no matching target yet")

// Browser is a Chrome-family browser reached through its debugging
// endpoint. Every page gets a connection of its own.
type Browser struct {
	conn      *Connection
	host      string
	port      int
	process   *common.BrowserProcess
	dataDir   *storage.Dir
	logger    *log.Logger
	persister storage.FilePersister

	pollInterval time.Duration
	teardown     *common.Teardown

	pagesMu sync.Mutex
	pages   []*Page
}

// newBrowser wraps the browser-level conn. process and dataDir are nil
// for browsers the client did not launch.
func newBrowser(
	conn *Connection, host string, port int,
	process *common.BrowserProcess, dataDir *storage.Dir,
	opts *common.LaunchOptions, logger *log.Logger,
) *Browser {
	b := &Browser{
		conn:         conn,
		host:         host,
		port:         port,
		process:      process,
		dataDir:      dataDir,
		logger:       logger,
		persister:    &storage.LocalFilePersister{},
		pollInterval: opts.ConnectInterval,
	}

	steps := []common.TeardownStep{
		{Name: "closing page connections", Fn: b.closePages},
		{Name: "closing connection", Fn: conn.Close},
	}
	if process != nil {
		steps = append(steps, common.TeardownStep{Name: "terminating browser", Fn: process.Terminate})
	}
	if dataDir != nil {
		steps = append(steps, common.TeardownStep{Name: "removing user data directory", Fn: dataDir.Cleanup})
	}
	b.teardown = common.NewTeardown(logger, steps...)

	return b
}

// Close releases the connections, the browser process and its user data
// directory.
func (b *Browser) Close() error {
	return b.teardown.Run()
}

func (b *Browser) closePages() error {
	b.pagesMu.Lock()
	pages := b.pages
	b.pages = nil
	b.pagesMu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns "chromium".
func (b *Browser) Name() string {
	return "chromium"
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

// Version returns the product string, e.g. "HeadlessChrome/120.0.6099.71".
func (b *Browser) Version(ctx context.Context) (string, error) {
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		return "", fmt.Errorf("getting browser version: %w", err)
	}
	return product, nil
}

// targetIDs returns the ids of the listed page targets.
func (b *Browser) targetIDs(ctx context.Context) (map[string]struct{}, error) {
	targets, err := ListTargets(ctx, b.host, b.port)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		ids[t.ID] = struct{}{}
	}
	return ids, nil
}

// initialPage attaches to the first page target, waiting for the browser
// to open one.
func (b *Browser) initialPage(ctx context.Context) (*Page, error) {
	t, err := b.findTarget(ctx, func(t TargetInfo) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("finding the initial page: %w", err)
	}
	return b.attach(ctx, t)
}

// waitTarget attaches to the first page target not in before whose URL
// is url. An empty url matches any new page.
func (b *Browser) waitTarget(ctx context.Context, before map[string]struct{}, url string) (*Page, error) {
	t, err := b.findTarget(ctx, func(t TargetInfo) bool {
		if _, ok := before[t.ID]; ok {
			return false
		}
		return url == "" || t.URL == url
	})
	if err != nil {
		return nil, err
	}
	return b.attach(ctx, t)
}

// findTarget polls the target list for a page target accepted by match.
func (b *Browser) findTarget(ctx context.Context, match func(TargetInfo) bool) (TargetInfo, error) {
	var found TargetInfo
	err := common.Poll(ctx, common.NewPageLookupAttempts, b.pollInterval, func(ctx context.Context) error {
		targets, err := ListTargets(ctx, b.host, b.port)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t.Type == "page" && t.WebSocketDebuggerURL != "" && match(t) {
				found = t
				return nil
			}
		}
		return errNoTarget
	})
	return found, err
}

// attach opens a connection to the target and enables the domains pages
// rely on.
func (b *Browser) attach(ctx context.Context, t TargetInfo) (*Page, error) {
	conn, err := NewConnection(ctx, t.WebSocketDebuggerURL, b.logger)
	if err != nil {
		return nil, fmt.Errorf("attaching to target %s: %w", t.ID, err)
	}

	p := newPage(b, conn, t.ID)
	if err := p.enable(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("attaching to target %s: %w", t.ID, err)
	}

	b.pagesMu.Lock()
	b.pages = append(b.pages, p)
	b.pagesMu.Unlock()
	b.logger.Debugf("Browser:attach", "tid:%s url:%q", t.ID, t.URL)

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
