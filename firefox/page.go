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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decoder for captures
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

// Ensure Page implements the api.Page interface.
var _ api.Page = &Page{}

// Page is a tab driven through its target and console actors.
type Page struct {
	browser *Browser
	conn    *Connection
	logger  *log.Logger

	descriptorActor   string
	targetActor       string
	consoleActor      string
	browsingContextID int64

	// evalMu serializes evaluations, including the $_ read that follows
	// an object result.
	evalMu sync.Mutex

	resultsMu     sync.Mutex
	resultWaiters map[string]chan *common.Notification
	// earlyResults holds results that arrived before their id was claimed.
	earlyResults map[string]*common.Notification

	errorsMu      sync.Mutex
	consoleErrors []string

	subs      []*common.Subscription
	closeOnce sync.Once
}

func newPage(
	b *Browser, descriptorActor, targetActor, consoleActor string, browsingContextID int64,
) *Page {
	p := &Page{
		browser:           b,
		conn:              b.conn,
		logger:            b.logger,
		descriptorActor:   descriptorActor,
		targetActor:       targetActor,
		consoleActor:      consoleActor,
		browsingContextID: browsingContextID,
		resultWaiters:     make(map[string]chan *common.Notification),
		earlyResults:      make(map[string]*common.Notification),
	}

	router := b.conn.Router()
	p.subs = append(p.subs,
		router.Subscribe(p.onEvaluationResult, eventKey("evaluationResult", consoleActor)),
		router.Subscribe(p.onPageError, eventKey("pageError", consoleActor)),
	)

	return p
}

// maxEarlyResults bounds the results kept for ids nobody claimed yet.
const maxEarlyResults = 64

func (p *Page) onEvaluationResult(n *common.Notification) {
	id := n.Get("resultID").String()

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	if ch, ok := p.resultWaiters[id]; ok {
		delete(p.resultWaiters, id)
		ch <- n
		return
	}
	if len(p.earlyResults) >= maxEarlyResults {
		p.logger.Debugf("Page:evaluate", "dropping %d unclaimed evaluation results", len(p.earlyResults))
		clear(p.earlyResults)
	}
	p.earlyResults[id] = n
}

// claimResult returns a channel that receives the result with id. Any
// other unclaimed result belongs to an abandoned evaluation, since
// evaluations run one at a time, and is discarded.
func (p *Page) claimResult(id string) <-chan *common.Notification {
	ch := make(chan *common.Notification, 1)

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	if n, ok := p.earlyResults[id]; ok {
		ch <- n
	} else {
		p.resultWaiters[id] = ch
	}
	clear(p.earlyResults)

	return ch
}

func (p *Page) releaseResult(id string) {
	p.resultsMu.Lock()
	delete(p.resultWaiters, id)
	p.resultsMu.Unlock()
}

func (p *Page) onPageError(n *common.Notification) {
	msg := n.Get("pageError.errorMessage").String()
	if msg == "" {
		return
	}
	p.errorsMu.Lock()
	p.consoleErrors = append(p.consoleErrors, msg)
	p.errorsMu.Unlock()
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

// Navigate loads u and waits for the navigation to stop.
func (p *Page) Navigate(ctx context.Context, u string) (string, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetActor, "page.navigate")
	defer span.End()

	w, err := p.conn.Router().Expect(eventKey("tabNavigated", p.targetActor), map[string]any{"state": "stop"})
	if err != nil {
		return "", common.SpanRecordError(span, p.fail(err))
	}
	if _, err := p.conn.Request(ctx, p.targetActor, "navigateTo", map[string]any{"url": u}); err != nil {
		w.Cancel()
		return "", common.SpanRecordError(span, p.fail(fmt.Errorf("navigating to %q: %w", u, err)))
	}
	n, err := w.Wait(ctx)
	if err != nil {
		return "", common.SpanRecordError(span, p.fail(fmt.Errorf("waiting for navigation to %q: %w", u, err)))
	}

	landed := n.Get("url").String()
	if text, ok := navigationErrorText(landed); ok {
		return "", common.SpanRecordError(span, &common.NavigationError{URL: u, Text: text})
	}
	p.logger.Debugf("Page:Navigate", "tid:%s url:%q landed:%q", p.targetActor, u, landed)

	return landed, nil
}

// navigationErrorText recognizes Firefox's network and certificate error
// pages.
func navigationErrorText(landed string) (string, bool) {
	if !strings.HasPrefix(landed, "about:neterror") && !strings.HasPrefix(landed, "about:certerror") {
		return "", false
	}
	text := "navigation failed"
	if i := strings.IndexByte(landed, '?'); i >= 0 {
		if q, err := url.ParseQuery(landed[i+1:]); err == nil && q.Get("e") != "" {
			text = q.Get("e")
		}
	}
	return text, true
}

// Evaluate runs expression in the page and returns its value.
func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetActor, "page.evaluate")
	defer span.End()

	v, err := p.evaluate(ctx, expression)
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(err))
	}
	return v, nil
}

// EvaluateFunc calls the function source fn with args and returns its
// value.
func (p *Page) EvaluateFunc(ctx context.Context, fn string, args ...any) (any, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetActor, "page.evaluateFunc")
	defer span.End()

	list, err := jsArgs(args...)
	if err != nil {
		return nil, common.SpanRecordError(span, err)
	}
	v, err := p.evaluate(ctx, fmt.Sprintf("(%s)(%s)", fn, list))
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(err))
	}
	return v, nil
}

func (p *Page) evaluate(ctx context.Context, text string) (any, error) {
	p.evalMu.Lock()
	defer p.evalMu.Unlock()

	res, err := p.evaluateLocked(ctx, text)
	if err != nil {
		return nil, err
	}

	v, err := parseGrip(res.Get("result"))
	switch {
	case errors.Is(err, errObjectGrip):
		// $_ is the console's last result.
		jres, err := p.evaluateLocked(ctx, "JSON.stringify($_)")
		if err != nil {
			return nil, err
		}
		s, err := p.fullString(ctx, jres.Get("result"))
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("parsing the value of %q: %w", text, err)
		}
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("parsing the value of %q: %w", text, err)
	}
	if ls, ok := v.(*longString); ok {
		return p.substring(ctx, ls)
	}
	return v, nil
}

// evaluateLocked runs text on the console actor and returns the
// evaluation result packet. evalMu must be held.
func (p *Page) evaluateLocked(ctx context.Context, text string) (Packet, error) {
	ack, err := p.conn.Request(ctx, p.consoleActor, "evaluateJSAsync", map[string]any{"text": text})
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", text, err)
	}
	id := ack.Get("resultID").String()
	results := p.claimResult(id)
	defer p.releaseResult(id)

	select {
	case n := <-results:
		res := Packet(n.Params)
		if desc := exceptionDescription(res); desc != "" {
			return nil, &common.EvaluationError{Expression: text, Description: desc}
		}
		return res, nil
	case <-p.conn.Done():
		return nil, common.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fullString returns the string grip g in full.
func (p *Page) fullString(ctx context.Context, g gjson.Result) (string, error) {
	v, err := parseGrip(g)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case *longString:
		return p.substring(ctx, v)
	case nil:
		return "null", nil
	default:
		return "", fmt.Errorf("expected a string grip, got %T", v)
	}
}

// substring fetches the whole value of a truncated string.
func (p *Page) substring(ctx context.Context, ls *longString) (string, error) {
	r, err := p.conn.Request(ctx, ls.actor, "substring", map[string]any{"start": 0, "end": ls.length})
	if err != nil {
		return "", fmt.Errorf("reading long string: %w", err)
	}
	return r.Get("substring").String(), nil
}

// Cookies returns the cookies visible to the page script.
func (p *Page) Cookies(ctx context.Context) ([]common.Cookie, error) {
	v, err := p.evaluate(ctx, `JSON.stringify({cookie: document.cookie, host: location.hostname})`)
	if err != nil {
		return nil, p.fail(err)
	}
	s, _ := v.(string)
	var jar struct {
		Cookie string `json:"cookie"`
		Host   string `json:"host"`
	}
	if err := json.Unmarshal([]byte(s), &jar); err != nil {
		return nil, fmt.Errorf("parsing cookies: %w", err)
	}

	return parseCookieString(jar.Cookie, jar.Host), nil
}

func parseCookieString(s, host string) []common.Cookie {
	cookies := []common.Cookie{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		cookies = append(cookies, common.Cookie{Name: name, Value: value, Domain: host, Path: "/"})
	}
	return cookies
}

// SetCookie sets cookie through document.cookie and returns an empty
// slice. Page script can only set cookies for the origin the tab shows, so
// a cookie for any other host is a precondition error.
func (p *Page) SetCookie(ctx context.Context, cookie common.Cookie) ([]common.Cookie, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return nil, err
	}
	if cookie.Domain == "" && cookie.URL == "" {
		cookie.URL = loc
	}
	if err := cookie.Validate(); err != nil {
		return nil, err
	}
	if cookie.HTTPOnly {
		return nil, &common.PreconditionError{Op: "setCookie", Reason: fmt.Sprintf("cookie %q: httpOnly cookies cannot be set by page script", cookie.Name)}
	}
	if err := scopeCookie(&cookie, loc); err != nil {
		return nil, err
	}

	attr := cookieString(cookie)
	if _, err := p.EvaluateFunc(ctx, `(c) => { document.cookie = c; }`, attr); err != nil {
		return nil, err
	}
	return []common.Cookie{}, nil
}

// scopeCookie fills the domain of c from its URL and checks that the page
// at loc can set it.
func scopeCookie(c *common.Cookie, loc string) error {
	var current string
	if u, err := url.Parse(loc); err == nil {
		current = u.Hostname()
	}

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || u.Hostname() == "" {
			return &common.PreconditionError{Op: "setCookie", Reason: fmt.Sprintf("cookie %q: invalid url %q", c.Name, c.URL)}
		}
		if !strings.EqualFold(u.Hostname(), current) {
			return &common.PreconditionError{
				Op: "setCookie",
				Reason: fmt.Sprintf("cookie %q: url %q is not the origin of the page %q; navigate there first",
					c.Name, c.URL, loc),
			}
		}
		if c.Domain == "" {
			c.Domain = u.Hostname()
		}
	}

	domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	current = strings.ToLower(current)
	if current == "" || (current != domain && !strings.HasSuffix(current, "."+domain)) {
		return &common.PreconditionError{
			Op:     "setCookie",
			Reason: fmt.Sprintf("cookie %q: domain %q does not match the page %q", c.Name, c.Domain, loc),
		}
	}
	return nil
}

func cookieString(c common.Cookie) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s", c.Name, c.Value)
	path := c.Path
	if path == "" {
		path = "/"
	}
	fmt.Fprintf(&b, "; path=%s", path)
	if c.Domain != "" {
		fmt.Fprintf(&b, "; domain=%s", c.Domain)
	}
	if c.Expires > 0 {
		fmt.Fprintf(&b, "; expires=%s", time.Unix(int64(c.Expires), 0).UTC().Format(time.RFC1123))
	}
	if c.Secure {
		b.WriteString("; secure")
	}
	if c.SameSite != "" {
		fmt.Fprintf(&b, "; samesite=%s", c.SameSite)
	}
	return b.String()
}

// Screenshot captures the viewport, or the whole page with FullPage.
func (p *Page) Screenshot(ctx context.Context, opts *common.ScreenshotOptions) ([]byte, error) {
	if opts == nil {
		opts = common.NewScreenshotOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return p.capture(ctx, opts, nil)
}

// capture asks the screenshot actor for a PNG of the tab, optionally
// restricted to clip in document coordinates.
func (p *Page) capture(ctx context.Context, opts *common.ScreenshotOptions, clip *common.Rect) ([]byte, error) {
	ctx, span := common.TraceAPICall(ctx, p.targetActor, "page.screenshot")
	defer span.End()

	actor, err := p.browser.screenshotActor(ctx)
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(err))
	}
	args := map[string]any{
		"browsingContextID": p.browsingContextID,
		"fullpage":          opts.FullPage,
		"dpr":               1,
	}
	if clip != nil {
		args["rect"] = map[string]float64{"left": clip.X, "top": clip.Y, "width": clip.Width, "height": clip.Height}
	}
	r, err := p.conn.Request(ctx, actor, "capture", map[string]any{"args": args})
	if err != nil {
		return nil, common.SpanRecordError(span, p.fail(fmt.Errorf("capturing screenshot: %w", err)))
	}

	dataURL := r.Get("value.data").String()
	if dataURL == "" {
		dataURL = r.Get("value").String()
	}
	buf, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, common.SpanRecordError(span, err)
	}
	if opts.Format == common.ImageFormatJPEG {
		if buf, err = pngToJPEG(buf, int(opts.Quality.Int64)); err != nil {
			return nil, common.SpanRecordError(span, err)
		}
	}
	if opts.Path != "" {
		if err := p.browser.persister.Persist(ctx, opts.Path, bytes.NewReader(buf)); err != nil {
			return nil, common.SpanRecordErrorf(span, "persisting screenshot: %w", err)
		}
	}

	return buf, nil
}

func decodeDataURL(s string) ([]byte, error) {
	_, data, ok := strings.Cut(s, ";base64,")
	if !ok {
		return nil, fmt.Errorf("screenshot is not a base64 data url: %.32q", s)
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return b, nil
}

func pngToJPEG(b []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding captured image: %w", err)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// ExpectDialog is not available over the Firefox debugger protocol.
func (p *Page) ExpectDialog(context.Context) error {
	return fmt.Errorf("expecting a dialog: %w", common.ErrUnsupported)
}

// Dialog is not available over the Firefox debugger protocol.
func (p *Page) Dialog(context.Context, bool, string) error {
	return fmt.Errorf("handling a dialog: %w", common.ErrUnsupported)
}

// ConsoleErrors returns the page errors reported so far.
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

// NewPageClick clicks selector and attaches to the tab the click opened.
func (p *Page) NewPageClick(ctx context.Context, selector string) (api.Page, error) {
	before, err := p.browser.tabActors(ctx)
	if err != nil {
		return nil, p.fail(err)
	}
	el, err := p.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if err := el.Click(ctx, common.NewClickOptions()); err != nil {
		return nil, err
	}

	np, err := p.browser.waitNewTab(ctx, before)
	if err != nil {
		return nil, p.fail(fmt.Errorf("waiting for the page opened by %q: %w", selector, err))
	}
	return np, nil
}

// Query returns the first element matching selector.
func (p *Page) Query(ctx context.Context, selector string) (api.ElementHandle, error) {
	id := newHandleID()
	v, err := p.EvaluateFunc(ctx, queryFunc, selector, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %q", common.ErrElementNotFound, selector)
	}
	return &ElementHandle{page: p, selector: selector, id: id}, nil
}

// Close detaches the page from its notifications.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		for _, s := range p.subs {
			s.Close()
		}
		p.browser.forgetPage(p)
	})
	return nil
}
