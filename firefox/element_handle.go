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
	"encoding/json"
	"fmt"

	gouuid "github.com/nu7hatch/gouuid"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/common"
)

// Ensure ElementHandle implements the api.ElementHandle interface.
var _ api.ElementHandle = &ElementHandle{}

// queryFunc stores the first match of selector under id in the page's
// handle table.
const queryFunc = `(selector, id) => {
	const el = document.querySelector(selector);
	if (!el) {
		return null;
	}
	if (!window.__remotebrowserHandles) {
		window.__remotebrowserHandles = new Map();
	}
	window.__remotebrowserHandles.set(id, el);
	return true;
}`

// onNode wraps fn(el, ...args) so it runs on the element stored under the
// handle id passed as first argument.
func onNode(fn string) string {
	return `(id, ...args) => {
	const el = window.__remotebrowserHandles && window.__remotebrowserHandles.get(id);
	if (!el || !el.isConnected) {
		return "` + common.StaleNode + `";
	}
	return (` + fn + `)(el, ...args);
}`
}

func newHandleID() string {
	id, err := gouuid.NewV4()
	if err != nil {
		panic(fmt.Sprintf("generating element handle id: %v", err))
	}
	return id.String()
}

// ElementHandle refers to a DOM node kept alive in the page's handle
// table.
type ElementHandle struct {
	page     *Page
	selector string
	id       string
}

// Selector returns the selector the handle was queried with.
func (h *ElementHandle) Selector() string {
	return h.selector
}

// call runs fn on the node and fails with a *common.StaleElementError when
// the node left the document.
func (h *ElementHandle) call(ctx context.Context, fn string, args ...any) (any, error) {
	v, err := h.page.EvaluateFunc(ctx, onNode(fn), append([]any{h.id}, args...)...)
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

type nodeGeometry struct {
	Quads        []common.Quad `json:"quads"`
	ClientWidth  float64       `json:"clientWidth"`
	ClientHeight float64       `json:"clientHeight"`
}

const geometryFunc = `(el) => {
	el.scrollIntoView({block: "center", inline: "center"});
	const quads = Array.from(el.getClientRects()).map(r => [
		r.left, r.top, r.right, r.top, r.right, r.bottom, r.left, r.bottom,
	]);
	return JSON.stringify({
		quads,
		clientWidth: document.documentElement.clientWidth || window.innerWidth,
		clientHeight: document.documentElement.clientHeight || window.innerHeight,
	});
}`

const mouseFunc = `(el, x, y, count) => {
	const target = document.elementFromPoint(x, y) || el;
	const init = {bubbles: true, cancelable: true, composed: true, view: window, clientX: x, clientY: y, button: 0};
	target.dispatchEvent(new MouseEvent("mousemove", init));
	for (let i = 1; i <= count; i++) {
		const opts = Object.assign({}, init, {detail: i});
		target.dispatchEvent(new MouseEvent("mousedown", Object.assign({}, opts, {buttons: 1})));
		target.dispatchEvent(new MouseEvent("mouseup", opts));
		if (typeof target.click === "function" && i === 1) {
			target.click();
		} else {
			target.dispatchEvent(new MouseEvent("click", opts));
		}
		if (i === 2) {
			target.dispatchEvent(new MouseEvent("dblclick", opts));
		}
	}
	return true;
}`

// Click scrolls the element into view and clicks the middle of its first
// visible box.
func (h *ElementHandle) Click(ctx context.Context, opts *common.ClickOptions) error {
	ctx, span := common.TraceAPICall(ctx, h.page.targetActor, "elementHandle.click")
	defer span.End()

	if opts == nil {
		opts = common.NewClickOptions()
	}
	if err := opts.Validate(); err != nil {
		return common.SpanRecordError(span, err)
	}

	var geo nodeGeometry
	if err := h.callJSON(ctx, geometryFunc, &geo); err != nil {
		return common.SpanRecordError(span, err)
	}
	pt, err := common.ClickablePoint(geo.Quads, geo.ClientWidth, geo.ClientHeight)
	if err != nil {
		return common.SpanRecordError(span, fmt.Errorf("clicking %q: %w", h.selector, err))
	}

	var (
		nav    *common.Waiter
		before map[string]struct{}
	)
	switch opts.WaitFor {
	case common.WaitForNavigation:
		key := eventKey("tabNavigated", h.page.targetActor)
		if nav, err = h.page.conn.Router().Expect(key, map[string]any{"state": "stop"}); err != nil {
			return common.SpanRecordError(span, h.page.fail(err))
		}
	case common.WaitForNewPage:
		if before, err = h.page.browser.tabActors(ctx); err != nil {
			return common.SpanRecordError(span, h.page.fail(err))
		}
	}

	h.page.logger.Debugf("ElementHandle:Click", "sel:%q x:%.1f y:%.1f count:%d", h.selector, pt.X, pt.Y, opts.ClickCount)
	if _, err := h.call(ctx, mouseFunc, pt.X, pt.Y, opts.ClickCount); err != nil {
		if nav != nil {
			nav.Cancel()
		}
		return common.SpanRecordError(span, err)
	}

	switch {
	case nav != nil:
		if _, err := nav.Wait(ctx); err != nil {
			return common.SpanRecordError(span, h.page.fail(fmt.Errorf("waiting for navigation after clicking %q: %w", h.selector, err)))
		}
	case before != nil:
		if _, err := h.page.browser.waitNewTab(ctx, before); err != nil {
			return common.SpanRecordError(span, h.page.fail(fmt.Errorf("waiting for the page opened by %q: %w", h.selector, err)))
		}
	}

	return nil
}

const typeFunc = `(el, text) => {
	el.focus();
	if (!document.execCommand("insertText", false, text) && "value" in el) {
		el.value += text;
		el.dispatchEvent(new Event("input", {bubbles: true}));
	}
	return true;
}`

// Type focuses the element and inserts text at the caret.
func (h *ElementHandle) Type(ctx context.Context, text string) error {
	_, err := h.call(ctx, typeFunc, text)
	return err
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

// SetInputFiles checks the element can take paths. Attaching files needs
// privileged access the debugger server does not expose, so it fails with
// common.ErrUnsupported once the checks pass.
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
	return fmt.Errorf("setting input files on %q: %w", h.selector, common.ErrUnsupported)
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
