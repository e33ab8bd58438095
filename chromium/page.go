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
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	gouuid "github.com/nu7hatch/gouuid"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

// Ensure Page implements the api.Page interface.
var _ api.Page = &Page{}

// Page is a page target driven over its own connection.
type Page struct {
	browser  *Browser
	conn     *Connection
	logger   *log.Logger
	targetID string

	dialogMu sync.Mutex
	dialog   *common.Waiter

	errorsMu      sync.Mutex
	consoleErrors []string

	subs      []*common.Subscription
	closeOnce sync.Once
}

func newPage(b *Browser, conn *Connection, targetID string) *Page {
	p := &Page{
		browser:  b,
		conn:     conn,
		logger:   b.logger,
		targetID: targetID,
	}
	p.subs = append(p.subs, conn.Router().Subscribe(p.onConsoleError,
		string(cdproto.EventRuntimeExceptionThrown),
		string(cdproto.EventRuntimeConsoleAPICalled),
		string(cdproto.EventLogEntryAdded),
	))

	return p
}

func (p *Page) onConsoleError(n *common.Notification) {
	var msg string
	switch ev := n.Event.(type) {
	case *cdpruntime.EventExceptionThrown:
		msg = parseExceptionDetails(ev.ExceptionDetails)
	case *cdpruntime.EventConsoleAPICalled:
		if ev.Type != cdpruntime.APITypeError {
			return
		}
		parts := make([]string, 0, len(ev.Args))
		for _, a := range ev.Args {
			v, err := parseRemoteObject(a)
			if err != nil || v == nil {
				parts = append(parts, a.Description)
				continue
			}
			parts = append(parts, fmt.Sprint(v))
		}
		msg = strings.Join(parts, " ")
	case *cdplog.EventEntryAdded:
		if ev.Entry == nil || ev.Entry.Level != cdplog.LevelError {
			return
		}
		msg = ev.Entry.Text
	}
	if msg == "" {
		return
	}

	p.errorsMu.Lock()
	p.consoleErrors = append(p.consoleErrors, msg)
	p.errorsMu.Unlock()
}

// enable turns on the domains whose events the page waits for.
func (p *Page) enable(ctx context.Context) error {
	ctx = cdp.WithExecutor(ctx, p.conn)
	actions := []struct {
		name string
		do   func(context.Context) error
	}{
		{"page", cdppage.Enable().Do},
		{"runtime", cdpruntime.Enable().Do},
		{"network", network.Enable().Do},
		{"log", cdplog.Enable().Do},
		{"lifecycle events", cdppage.SetLifecycleEventsEnabled(true).Do},
	}
	for _, a := range actions {
		if err := a.do(ctx); err != nil {
			return fmt.Errorf("enabling %s: %w", a.name, err)
		}
	}
	return nil
}

func (p *Page) exec(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, p.conn)
}

// fail tears the browser down when err is fatal and returns err.
func (p *Page) fail(err error) error {
	if common.IsFatal(err) {
		if cerr := p.browser.Close(); cerr != nil {
			p.logger.Errorf("Page:fail", "closing browser after %v: %v", err, cerr)
		}
	}
	return err
}

// Location returns the current URL of the page.
func (p *Page) Location(ctx context.Context) (string, error) {
	v, err := p.evaluate(ctx, "window.location.href")
	if err != nil {
		return "", p.fail(err)
	}
	s, _ := v.(string)
	return s, nil
}

// Navigate loads u and waits for the frame to stop loading and the
// network to go idle.
func (p *Page) Navigate(ctx context.Context, u string) (string, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetID, "page.navigate")
	defer span.End()

	router := p.conn.Router()
	idle, err := router.Expect(string(cdproto.EventPageLifecycleEvent), map[string]any{
		"name": "networkIdle", "frameId": p.targetID,
	})
	if err != nil {
		return "", common.SpanRecordError(span, p.fail(err))
	}
	stopped, err := router.Expect(string(cdproto.EventPageFrameStoppedLoading), map[string]any{
		"frameId": p.targetID,
	})
	if err != nil {
		idle.Cancel()
		return "", common.SpanRecordError(span, p.fail(err))
	}
	cancel := func() {
		idle.Cancel()
		stopped.Cancel()
	}

	_, loaderID, errorText, err := cdppage.Navigate(u).Do(p.exec(ctx))
	switch {
	case err != nil:
		cancel()
		return "", common.SpanRecordError(span, p.fail(fmt.Errorf("navigating to %q: %w", u, err)))
	case errorText != "":
		cancel()
		return "", common.SpanRecordError(span, &common.NavigationError{URL: u, Text: errorText})
	case loaderID == "":
		// Same-document navigation, nothing gets loaded.
		cancel()
	default:
		for _, w := range []*common.Waiter{stopped, idle} {
			if _, err := w.Wait(ctx); err != nil {
				cancel()
				return "", common.SpanRecordError(span, p.fail(fmt.Errorf("waiting for navigation to %q: %w", u, err)))
			}
		}
	}

	landed, err := p.Location(ctx)
	if err != nil {
		return "", common.SpanRecordError(span, err)
	}
	p.logger.Debugf("Page:Navigate", "tid:%s url:%q landed:%q", p.targetID, u, landed)

	return landed, nil
}

// Evaluate runs expression in the page's main world and returns its value.
func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetID, "page.evaluate")
	defer span.End()

	v, err := p.evaluate(ctx, expression)
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(err))
	}
	return v, nil
}

func (p *Page) evaluate(ctx context.Context, expression string) (any, error) {
	res, exc, err := cdpruntime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(p.exec(ctx))
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", expression, err)
	}
	if exc != nil {
		return nil, &common.EvaluationError{Expression: expression, Description: parseExceptionDetails(exc)}
	}
	return parseRemoteObject(res)
}

// EvaluateFunc calls the function source fn with args in a fresh isolated
// world and returns its value.
func (p *Page) EvaluateFunc(ctx context.Context, fn string, args ...any) (any, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetID, "page.evaluateFunc")
	defer span.End()

	res, err := p.callFunction(ctx, "", fn, true, args...)
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(err))
	}
	v, err := parseRemoteObject(res)
	if err != nil {
		return nil, common.SpanRecordError(span, err)
	}
	return v, nil
}

// callFunction calls fn on the object objectID, or in a new isolated world
// when objectID is empty.
func (p *Page) callFunction(
	ctx context.Context, objectID cdpruntime.RemoteObjectID, fn string, byValue bool, args ...any,
) (*cdpruntime.RemoteObject, error) {
	cargs, err := callArguments(args...)
	if err != nil {
		return nil, err
	}

	ctx = p.exec(ctx)
	call := cdpruntime.CallFunctionOn(fn).
		WithArguments(cargs).
		WithReturnByValue(byValue).
		WithAwaitPromise(true)
	if objectID != "" {
		call = call.WithObjectID(objectID)
	} else {
		world, err := p.isolatedWorld(ctx)
		if err != nil {
			return nil, err
		}
		call = call.WithExecutionContextID(world)
	}

	res, exc, err := call.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("calling %q: %w", fn, err)
	}
	if exc != nil {
		return nil, &common.EvaluationError{Expression: fn, Description: parseExceptionDetails(exc)}
	}
	return res, nil
}

func (p *Page) isolatedWorld(ctx context.Context) (cdpruntime.ExecutionContextID, error) {
	name, err := gouuid.NewV4()
	if err != nil {
		return 0, fmt.Errorf("naming isolated world: %w", err)
	}
	id, err := cdppage.CreateIsolatedWorld(cdp.FrameID(p.targetID)).
		WithWorldName("__remotebrowser_" + name.String()).
		WithGrantUniveralAccess(true).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("creating isolated world: %w", err)
	}
	return id, nil
}

// Cookies returns the cookies of the current URL.
func (p *Page) Cookies(ctx context.Context) ([]common.Cookie, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return nil, err
	}
	cookies, err := network.GetCookies().WithUrls([]string{loc}).Do(p.exec(ctx))
	if err != nil {
		return nil, p.fail(fmt.Errorf("getting cookies: %w", err))
	}

	out := make([]common.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, common.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

// SetCookie sets cookie and returns an empty slice. Cookies without a
// domain are scoped to the current URL.
func (p *Page) SetCookie(ctx context.Context, cookie common.Cookie) ([]common.Cookie, error) {
	if cookie.Domain == "" && cookie.URL == "" {
		loc, err := p.Location(ctx)
		if err != nil {
			return nil, err
		}
		cookie.URL = loc
	}
	if err := cookie.Validate(); err != nil {
		return nil, err
	}

	set := network.SetCookie(cookie.Name, cookie.Value).
		WithURL(cookie.URL).
		WithDomain(cookie.Domain).
		WithPath(cookie.Path).
		WithSecure(cookie.Secure).
		WithHTTPOnly(cookie.HTTPOnly)
	if cookie.SameSite != "" {
		set = set.WithSameSite(network.CookieSameSite(cookie.SameSite))
	}
	if cookie.Expires > 0 {
		exp := cdp.TimeSinceEpoch(time.Unix(int64(cookie.Expires), 0))
		set = set.WithExpires(&exp)
	}
	if err := set.Do(p.exec(ctx)); err != nil {
		return nil, p.fail(fmt.Errorf("setting cookie %q: %w", cookie.Name, err))
	}
	return []common.Cookie{}, nil
}

// Screenshot captures the viewport, or the whole page with FullPage.
func (p *Page) Screenshot(ctx context.Context, opts *common.ScreenshotOptions) ([]byte, error) {
	if opts == nil {
		opts = common.NewScreenshotOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var clip *common.Rect
	if opts.FullPage {
		_, _, _, _, _, size, err := cdppage.GetLayoutMetrics().Do(p.exec(ctx))
		if err != nil {
			return nil, p.fail(fmt.Errorf("getting page size: %w", err))
		}
		if size == nil {
			return nil, p.fail(fmt.Errorf("getting page size: %w", common.ErrMalformedPacket))
		}
		clip = &common.Rect{Width: size.Width, Height: size.Height}
	}
	return p.capture(ctx, opts, clip)
}

// capture takes a screenshot, optionally restricted to clip in document
// coordinates, and persists it when opts has a path.
func (p *Page) capture(ctx context.Context, opts *common.ScreenshotOptions, clip *common.Rect) ([]byte, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetID, "page.screenshot")
	defer span.End()

	shot := cdppage.CaptureScreenshot().WithFormat(cdppage.CaptureScreenshotFormatPng)
	if opts.Format == common.ImageFormatJPEG {
		shot = cdppage.CaptureScreenshot().
			WithFormat(cdppage.CaptureScreenshotFormatJpeg).
			WithQuality(opts.Quality.Int64)
	}
	if clip != nil {
		shot = shot.
			WithClip(&cdppage.Viewport{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height, Scale: 1}).
			WithCaptureBeyondViewport(true)
	}

	buf, err := shot.Do(p.exec(ctx))
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(fmt.Errorf("capturing screenshot: %w", err)))
	}
	if opts.Path != "" {
		if err := p.browser.persister.Persist(ctx, opts.Path, bytes.NewReader(buf)); err != nil {
			return nil, common.SpanRecordErrorf(span, "persisting screenshot: %w", err)
		}
	}

	return buf, nil
}

// ExpectDialog arms the page for the next JavaScript dialog.
func (p *Page) ExpectDialog(ctx context.Context) error {
	p.dialogMu.Lock()
	defer p.dialogMu.Unlock()

	w, err := p.conn.Router().Expect(string(cdproto.EventPageJavascriptDialogOpening), nil)
	if err != nil {
		return p.fail(fmt.Errorf("expecting a dialog: %w", err))
	}
	p.dialog = w
	return nil
}

// Dialog waits for the expected dialog to open, accepts or dismisses it
// and waits for it to close.
func (p *Page) Dialog(ctx context.Context, accept bool, promptText string) error {
	ctx, span := common.TraceAPICall(ctx, p.targetID, "page.dialog")
	defer span.End()

	p.dialogMu.Lock()
	opening := p.dialog
	p.dialog = nil
	p.dialogMu.Unlock()
	if opening == nil {
		return common.SpanRecordError(span, common.ErrDialogNotExpected)
	}

	n, err := opening.Wait(ctx)
	if err != nil {
		return common.SpanRecordError(span, p.fail(fmt.Errorf("waiting for dialog: %w", err)))
	}
	p.logger.Debugf("Page:Dialog", "tid:%s type:%s message:%q accept:%t",
		p.targetID, n.Get("type").String(), n.Get("message").String(), accept)

	closed, err := p.conn.Router().Expect(string(cdproto.EventPageJavascriptDialogClosed), nil)
	if err != nil {
		return common.SpanRecordError(span, p.fail(err))
	}
	handle := cdppage.HandleJavaScriptDialog(accept)
	if promptText != "" {
		handle = handle.WithPromptText(promptText)
	}
	if err := handle.Do(p.exec(ctx)); err != nil {
		closed.Cancel()
		return common.SpanRecordError(span, p.fail(fmt.Errorf("handling dialog: %w", err)))
	}
	if _, err := closed.Wait(ctx); err != nil {
		return common.SpanRecordError(span, p.fail(fmt.Errorf("waiting for dialog to close: %w", err)))
	}

	return nil
}

// ConsoleErrors returns the exceptions and error-level console messages
// reported so far.
func (p *Page) ConsoleErrors(ctx context.Context) ([]string, error) {
	t := time.NewTimer(common.ConsoleErrorsDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.errorsMu.Lock()
	defer p.errorsMu.Unlock()
	out := make([]string, len(p.consoleErrors))
	copy(out, p.consoleErrors)
	return out, nil
}

// NewPageClick clicks selector and attaches to the page the click opened.
func (p *Page) NewPageClick(ctx context.Context, selector string) (api.Page, error) {
	el, err := p.query(ctx, selector)
	if err != nil {
		return nil, err
	}
	opts := common.NewClickOptions()
	opts.WaitFor = common.WaitForNewPage
	np, err := el.click(ctx, opts)
	if err != nil {
		return nil, err
	}
	return np, nil
}

// Query returns the first element matching selector.
func (p *Page) Query(ctx context.Context, selector string) (api.ElementHandle, error) {
	return p.query(ctx, selector)
}

func (p *Page) query(ctx context.Context, selector string) (*ElementHandle, error) {
	res, err := p.callFunction(ctx, "", `(selector) => document.querySelector(selector)`, false, selector)
	if err != nil {
		return nil, p.fail(err)
	}
	if res.ObjectID == "" {
		return nil, fmt.Errorf("%w: %q", common.ErrElementNotFound, selector)
	}
	return &ElementHandle{page: p, selector: selector, objectID: res.ObjectID}, nil
}

// Close detaches the page and closes its connection. The target itself
// stays open.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		for _, s := range p.subs {
			s.Close()
		}
		p.browser.forgetPage(p)
		err = p.conn.Close()
	})
	return err
}
