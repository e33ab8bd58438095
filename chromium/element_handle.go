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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
)

// Ensure ElementHandle implements the api.ElementHandle interface.
var _ api.ElementHandle = &ElementHandle{}

// ElementHandle refers to a DOM node through its remote object id.
type ElementHandle struct {
	page     *Page
	selector string
	objectID cdpruntime.RemoteObjectID
}

// onThis adapts fn(el, ...args) to run with the node as this, returning
// common.StaleNode once the node left the document.
func onThis(fn string) string {
	return `function(...args) {
	if (!this.isConnected) {
		return "` + common.StaleNode + `";
	}
	return (` + fn + `)(this, ...args);
}`
}

// Selector returns the selector the handle was queried with.
func (h *ElementHandle) Selector() string {
	return h.selector
}

// stale maps protocol errors about a released node to a
// *common.StaleElementError.
func (h *ElementHandle) stale(err error) error {
	var perr *common.ProtocolError
	if errors.As(err, &perr) &&
		(strings.Contains(perr.Message, "Could not find object with given id") ||
			strings.Contains(perr.Message, "Cannot find context with specified id") ||
			strings.Contains(perr.Message, "Node is detached from document")) {
		return &common.StaleElementError{Selector: h.selector}
	}
	return err
}

// call runs fn on the node and returns its value.
func (h *ElementHandle) call(ctx context.Context, fn string, args ...any) (any, error) {
	res, err := h.page.callFunction(ctx, h.objectID, onThis(fn), true, args...)
	if err != nil {
		return nil, h.page.fail(h.stale(err))
	}
	v, err := parseRemoteObject(res)
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok && s == common.StaleNode {
		return nil, &common.StaleElementError{Selector: h.selector}
	}
	return v, nil
}

// callJSON runs fn, which must return a JSON string, and decodes it into
// out.
func (h *ElementHandle) callJSON(ctx context.Context, fn string, out any, args ...any) error {
	v, err := h.call(ctx, fn, args...)
	if err != nil {
		return err
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("unexpected result %T for %q", v, h.selector)
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("parsing result for %q: %w", h.selector, err)
	}
	return nil
}

// Click scrolls the element into view and clicks the middle of its first
// visible content quad.
func (h *ElementHandle) Click(ctx context.Context, opts *common.ClickOptions) error {
	_, err := h.click(ctx, opts)
	return err
}

// click returns the page the click opened when opts waits for one.
//
//nolint:funlen,cyclop
func (h *ElementHandle) click(ctx context.Context, opts *common.ClickOptions) (*Page, error) {
	ctx, span := common.TraceAPICall(ctx, h.page.targetID, "elementHandle.click")
	defer span.End()

	if opts == nil {
		opts = common.NewClickOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, common.SpanRecordError(span, err)
	}

	pt, err := h.clickablePoint(ctx)
	if err != nil {
		return nil, common.SpanRecordError(span, err)
	}

	var (
		router = h.page.conn.Router()
		wait   *common.Waiter
		before map[string]struct{}
	)
	switch opts.WaitFor {
	case common.WaitForNavigation:
		wait, err = router.Expect(string(cdproto.EventPageLifecycleEvent), map[string]any{
			"name": "networkIdle", "frameId": h.page.targetID,
		})
	case common.WaitForNewPage:
		if before, err = h.page.browser.targetIDs(ctx); err != nil {
			break
		}
		wait, err = router.Expect(string(cdproto.EventPageFrameRequestedNavigation), nil)
	}
	if err != nil {
		return nil, common.SpanRecordError(span, h.page.fail(err))
	}

	h.page.logger.Debugf("ElementHandle:Click", "sel:%q x:%.1f y:%.1f count:%d", h.selector, pt.X, pt.Y, opts.ClickCount)
	if err := h.dispatchClick(ctx, pt, opts.ClickCount); err != nil {
		if wait != nil {
			wait.Cancel()
		}
		return nil, common.SpanRecordError(span, h.page.fail(err))
	}
	if wait == nil {
		return nil, nil
	}

	n, err := wait.Wait(ctx)
	if err != nil {
		return nil, common.SpanRecordError(span, h.page.fail(fmt.Errorf("waiting after clicking %q: %w", h.selector, err)))
	}
	if opts.WaitFor != common.WaitForNewPage {
		return nil, nil
	}
	np, err := h.page.browser.waitTarget(ctx, before, n.Get("url").String())
	if err != nil {
		return nil, common.SpanRecordError(span, h.page.fail(fmt.Errorf("waiting for the page opened by %q: %w", h.selector, err)))
	}
	return np, nil
}

// clickablePoint scrolls the node into view and picks the point to click
// from its content quads clipped to the viewport.
func (h *ElementHandle) clickablePoint(ctx context.Context) (*common.Position, error) {
	// fails fast on nodes that left the document
	if _, err := h.call(ctx, `(el) => true`); err != nil {
		return nil, err
	}

	ctx = h.page.exec(ctx)
	if err := dom.ScrollIntoViewIfNeeded().WithObjectID(h.objectID).Do(ctx); err != nil {
		return nil, h.page.fail(h.stale(fmt.Errorf("scrolling %q into view: %w", h.selector, err)))
	}
	quads, err := dom.GetContentQuads().WithObjectID(h.objectID).Do(ctx)
	if err != nil {
		return nil, h.page.fail(h.stale(fmt.Errorf("getting content quads of %q: %w", h.selector, err)))
	}
	_, _, _, layout, _, _, err := cdppage.GetLayoutMetrics().Do(ctx)
	if err != nil {
		return nil, h.page.fail(fmt.Errorf("getting layout metrics: %w", err))
	}
	if layout == nil {
		return nil, h.page.fail(fmt.Errorf("getting layout metrics: %w", common.ErrMalformedPacket))
	}

	cq := make([]common.Quad, 0, len(quads))
	for _, q := range quads {
		cq = append(cq, common.Quad(q))
	}
	pt, err := common.ClickablePoint(cq, float64(layout.ClientWidth), float64(layout.ClientHeight))
	if err != nil {
		return nil, fmt.Errorf("clicking %q: %w", h.selector, err)
	}
	return pt, nil
}

func (h *ElementHandle) dispatchClick(ctx context.Context, pt *common.Position, count int64) error {
	ctx = h.page.exec(ctx)
	if err := input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(ctx); err != nil {
		return fmt.Errorf("moving mouse: %w", err)
	}
	for i := int64(1); i <= count; i++ {
		if err := input.DispatchMouseEvent(input.MousePressed, pt.X, pt.Y).
			WithButton(input.Left).WithClickCount(i).Do(ctx); err != nil {
			return fmt.Errorf("pressing mouse: %w", err)
		}
		if err := input.DispatchMouseEvent(input.MouseReleased, pt.X, pt.Y).
			WithButton(input.Left).WithClickCount(i).Do(ctx); err != nil {
			return fmt.Errorf("releasing mouse: %w", err)
		}
	}
	return nil
}

// Type focuses the element and inserts text at the caret.
func (h *ElementHandle) Type(ctx context.Context, text string) error {
	if _, err := h.call(ctx, `(el) => true`); err != nil {
		return err
	}
	ctx = h.page.exec(ctx)
	if err := dom.Focus().WithObjectID(h.objectID).Do(ctx); err != nil {
		return h.page.fail(h.stale(fmt.Errorf("focusing %q: %w", h.selector, err)))
	}
	if err := input.InsertText(text).Do(ctx); err != nil {
		return h.page.fail(fmt.Errorf("typing into %q: %w", h.selector, err))
	}
	return nil
}

// Value returns the value property of the element.
func (h *ElementHandle) Value(ctx context.Context) (string, error) {
	v, err := h.call(ctx, common.ValueFunc)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// SetValue sets the value property and fires input and change events.
func (h *ElementHandle) SetValue(ctx context.Context, value string) error {
	_, err := h.call(ctx, common.SetValueFunc, value)
	return err
}

// GetAttribute returns the attribute value and whether it is set.
func (h *ElementHandle) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	var attr common.Attribute
	if err := h.callJSON(ctx, common.GetAttributeFunc, &attr, name); err != nil {
		return "", false, err
	}
	return attr.Value, attr.Present, nil
}

// SetAttribute sets an attribute of the element.
func (h *ElementHandle) SetAttribute(ctx context.Context, name, value string) error {
	_, err := h.call(ctx, common.SetAttributeFunc, name, value)
	return err
}

// SetInputFiles attaches local files to a file input.
func (h *ElementHandle) SetInputFiles(ctx context.Context, paths ...string) error {
	if err := common.CheckInputPaths(paths); err != nil {
		return err
	}
	var info common.InputInfo
	if err := h.callJSON(ctx, common.InputInfoFunc, &info); err != nil {
		return err
	}
	if err := common.CheckInputTarget(h.selector, info, len(paths)); err != nil {
		return err
	}

	ctx = h.page.exec(ctx)
	node, err := dom.DescribeNode().WithObjectID(h.objectID).Do(ctx)
	if err != nil {
		return h.page.fail(h.stale(fmt.Errorf("describing %q: %w", h.selector, err)))
	}
	if err := dom.SetFileInputFiles(paths).WithBackendNodeID(node.BackendNodeID).Do(ctx); err != nil {
		return h.page.fail(fmt.Errorf("setting input files on %q: %w", h.selector, err))
	}
	return nil
}

// Screenshot captures the element's bounding box.
func (h *ElementHandle) Screenshot(ctx context.Context, opts *common.ScreenshotOptions) ([]byte, error) {
	if opts == nil {
		opts = common.NewScreenshotOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var r common.Rect
	if err := h.callJSON(ctx, common.BoundsFunc, &r); err != nil {
		return nil, err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("screenshot of %q: %w", h.selector, common.ErrNoClickableQuad)
	}

	return h.page.capture(ctx, opts, &r)
}
