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
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/storage"
	"github.com/liuxd6825/remotebrowser/tests/ws"
)

// evalTable answers scripts from a table of remote objects keyed by
// expression.
func evalTable(results map[string]string) scriptFunc {
	return func(text string, _ gjson.Result) (string, string) {
		if r, ok := results[text]; ok {
			return r, ""
		}
		return "", "ReferenceError: " + text + " is not defined"
	}
}

func params(c ws.Command) gjson.Result {
	return gjson.ParseBytes(c.Params)
}

func TestPageEvaluate(t *testing.T) {
	t.Parallel()

	_, _, p := connectFake(t, evalTable(map[string]string{
		"document.title": remote("Example Domain"),
		"1 + 10":         remote(11),
		"undefinedThing": `{"type":"undefined"}`,
		"-0":             `{"type":"number","unserializableValue":"-0","description":"-0"}`,
	}))
	ctx := testContext(t)

	v, err := p.Evaluate(ctx, "document.title")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", v)

	v, err = p.Evaluate(ctx, "1 + 10")
	require.NoError(t, err)
	assert.Equal(t, float64(11), v)

	v, err = p.Evaluate(ctx, "undefinedThing")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = p.Evaluate(ctx, "-0")
	require.NoError(t, err)
}

func TestPageEvaluateFuncArguments(t *testing.T) {
	t.Parallel()

	f, _, p := connectFake(t, func(string, gjson.Result) (string, string) {
		return remote("ok"), ""
	})

	v, err := p.EvaluateFunc(testContext(t), "(a, b, c) => a", int64(1)<<40, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	worlds := f.srv.CommandsFor(cdproto.CommandPageCreateIsolatedWorld)
	require.Len(t, worlds, 1)
	assert.Equal(t, "T1", params(worlds[0]).Get("frameId").String())
	assert.True(t, strings.HasPrefix(params(worlds[0]).Get("worldName").String(), "__remotebrowser_"))

	calls := f.srv.CommandsFor(cdproto.CommandRuntimeCallFunctionOn)
	require.Len(t, calls, 1)
	call := params(calls[0])
	assert.Equal(t, "(a, b, c) => a", call.Get("functionDeclaration").String())
	assert.EqualValues(t, 7, call.Get("executionContextId").Int())
	assert.True(t, call.Get("returnByValue").Bool())
	assert.Equal(t, "1099511627776n", call.Get("arguments.0.unserializableValue").String())
	assert.Equal(t, "x", call.Get("arguments.1.value").String())
	assert.Equal(t, "null", call.Get("arguments.2.value").Raw)
}

func TestPageEvaluateExceptionClosesBrowser(t *testing.T) {
	t.Parallel()

	_, b, p := connectFake(t, func(string, gjson.Result) (string, string) {
		return "", "SyntaxError: Unexpected token '}'"
	})

	_, err := p.Evaluate(testContext(t), "}")
	var eerr *common.EvaluationError
	require.ErrorAs(t, err, &eerr)
	require.ErrorIs(t, err, common.ErrJSSyntax)

	select {
	case <-b.teardown.Done():
	case <-time.After(time.Second):
		t.Fatal("browser not closed after evaluation error")
	}
	_, err = p.Evaluate(testContext(t), "1")
	require.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestPageNavigate(t *testing.T) {
	t.Parallel()

	f, b, p := connectFake(t, nil)
	ctx := testContext(t)

	landed, err := p.Navigate(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", landed)

	nav := f.srv.CommandsFor(cdproto.CommandPageNavigate)
	require.Len(t, nav, 1)
	assert.Equal(t, "https://example.com/", params(nav[0]).Get("url").String())

	f.setNavError("net::ERR_NAME_NOT_RESOLVED")
	_, err = p.Navigate(ctx, "https://nope.invalid/")
	var nerr *common.NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", nerr.Text)
	assert.False(t, common.IsFatal(err))

	select {
	case <-b.teardown.Done():
		t.Fatal("a failed navigation must not close the browser")
	default:
	}

	// the waiters of the failed navigation were released
	f.setNavError("")
	landed, err = p.Navigate(ctx, "https://example.com/next")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/next", landed)
}

func TestPageScreenshot(t *testing.T) {
	t.Parallel()

	f, b, p := connectFake(t, nil)
	fs := afero.NewMemMapFs()
	b.persister = &storage.LocalFilePersister{Fs: fs}
	ctx := testContext(t)

	opts := common.NewScreenshotOptions()
	opts.Quality = null.IntFrom(999)
	_, err := p.Screenshot(ctx, opts)
	require.EqualError(t, err, "A quality value greater than 100 is not allowed.")
	assert.Empty(t, f.srv.CommandsFor(cdproto.CommandPageCaptureScreenshot), "invalid options must fail before any traffic")

	opts = common.NewScreenshotOptions()
	opts.Path = "/shots/page.jpg"
	buf, err := p.Screenshot(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, fakeScreenshot, buf)

	saved, err := afero.ReadFile(fs, "/shots/page.jpg")
	require.NoError(t, err)
	assert.Equal(t, buf, saved)

	opts = &common.ScreenshotOptions{Format: common.ImageFormatPNG, FullPage: true}
	_, err = p.Screenshot(ctx, opts)
	require.NoError(t, err)

	shots := f.srv.CommandsFor(cdproto.CommandPageCaptureScreenshot)
	require.Len(t, shots, 2)
	jpeg, png := params(shots[0]), params(shots[1])
	assert.Equal(t, "jpeg", jpeg.Get("format").String())
	assert.EqualValues(t, common.DefaultScreenshotQuality, jpeg.Get("quality").Int())
	assert.False(t, jpeg.Get("clip").Exists())
	assert.Equal(t, "png", png.Get("format").String())
	assert.EqualValues(t, 1200, png.Get("clip.height").Int())
	assert.EqualValues(t, 800, png.Get("clip.width").Int())
	assert.True(t, png.Get("captureBeyondViewport").Bool())
}

func TestPageDialog(t *testing.T) {
	t.Parallel()

	f, _, p := connectFake(t, nil)
	ctx := testContext(t)

	require.ErrorIs(t, p.Dialog(ctx, true, ""), common.ErrDialogNotExpected)

	require.NoError(t, p.ExpectDialog(ctx))
	f.srv.Push("/devtools/page/T1", cdproto.EventPageJavascriptDialogOpening,
		`{"url":"about:blank","frameId":"T1","message":"Your name?","type":"prompt","hasBrowserHandler":false,"defaultPrompt":""}`)
	require.NoError(t, p.Dialog(ctx, true, "Ada"))

	handled := f.srv.CommandsFor(cdproto.CommandPageHandleJavaScriptDialog)
	require.Len(t, handled, 1)
	assert.True(t, params(handled[0]).Get("accept").Bool())
	assert.Equal(t, "Ada", params(handled[0]).Get("promptText").String())

	// the expectation is consumed
	require.ErrorIs(t, p.Dialog(ctx, false, ""), common.ErrDialogNotExpected)
}

func TestPageDialogWaitsForClose(t *testing.T) {
	t.Parallel()

	f, _, p := connectFake(t, nil)
	f.mu.Lock()
	f.holdDialogClose = true
	f.mu.Unlock()
	ctx := testContext(t)
	path := "/devtools/page/T1"

	require.NoError(t, p.ExpectDialog(ctx))
	f.srv.Push(path, cdproto.EventPageJavascriptDialogOpening,
		`{"url":"about:blank","frameId":"T1","message":"Sure?","type":"confirm","hasBrowserHandler":false,"defaultPrompt":""}`)

	done := make(chan error, 1)
	go func() { done <- p.Dialog(ctx, true, "x") }()

	require.Eventually(t, func() bool {
		return len(f.srv.CommandsFor(cdproto.CommandPageHandleJavaScriptDialog)) == 1
	}, time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("dialog returned before it closed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	f.srv.Push(path, cdproto.EventPageJavascriptDialogClosed, `{"result":true,"userInput":"x"}`)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dialog did not return after it closed")
	}
}

func TestPageConsoleErrors(t *testing.T) {
	t.Parallel()

	f, _, p := connectFake(t, nil)
	path := "/devtools/page/T1"

	f.srv.Push(path, cdproto.EventRuntimeExceptionThrown, `{"timestamp":1,"exceptionDetails":{"exceptionId":1,`+
		`"text":"Uncaught","lineNumber":0,"columnNumber":0,`+
		`"exception":{"type":"object","subtype":"error","description":"ReferenceError: x is not defined"}}}`)
	f.srv.Push(path, cdproto.EventRuntimeConsoleAPICalled, `{"type":"log","executionContextId":1,"timestamp":1,`+
		`"args":[{"type":"string","value":"just logging"}]}`)
	f.srv.Push(path, cdproto.EventRuntimeConsoleAPICalled, `{"type":"error","executionContextId":1,"timestamp":1,`+
		`"args":[{"type":"string","value":"boom"},{"type":"number","value":2}]}`)
	f.srv.Push(path, cdproto.EventLogEntryAdded, `{"entry":{"source":"network","level":"error",`+
		`"text":"Failed to load resource","timestamp":1}}`)

	require.Eventually(t, func() bool {
		p.errorsMu.Lock()
		defer p.errorsMu.Unlock()
		return len(p.consoleErrors) == 3
	}, time.Second, 10*time.Millisecond)

	errs, err := p.ConsoleErrors(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"ReferenceError: x is not defined", "boom 2", "Failed to load resource"}, errs)
}

func TestPageCookies(t *testing.T) {
	t.Parallel()

	f, _, p := connectFake(t, nil)
	ctx := testContext(t)

	_, err := p.Navigate(ctx, "https://example.com/")
	require.NoError(t, err)

	cookies, err := p.Cookies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Cookie{{
		Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: -1, HTTPOnly: true,
	}}, cookies)

	get := f.srv.CommandsFor(cdproto.CommandNetworkGetCookies)
	require.Len(t, get, 1)
	assert.Equal(t, "https://example.com/", params(get[0]).Get("urls.0").String())

	_, err = p.SetCookie(ctx, common.Cookie{Value: "nameless"})
	var perr *common.PreconditionError
	require.ErrorAs(t, err, &perr)

	set, err := p.SetCookie(ctx, common.Cookie{Name: "b", Value: "2", SameSite: "Lax"})
	require.NoError(t, err)
	assert.Empty(t, set)

	sets := f.srv.CommandsFor(cdproto.CommandNetworkSetCookie)
	require.Len(t, sets, 1)
	sp := params(sets[0])
	assert.Equal(t, "b", sp.Get("name").String())
	assert.Equal(t, "https://example.com/", sp.Get("url").String())
	assert.Equal(t, "Lax", sp.Get("sameSite").String())
}

func TestPageNewPageClick(t *testing.T) {
	t.Parallel()

	f, b, p := connectFake(t, nil)
	f.setOnClick(func(s *ws.Session) {
		f.addTarget("T2", "https://example.com/popup")
		s.Event(cdproto.EventPageFrameRequestedNavigation,
			`{"frameId":"T1","reason":"anchorClick","url":"https://example.com/popup","disposition":"newTab"}`)
	})

	np, err := p.NewPageClick(testContext(t), "#popup")
	require.NoError(t, err)
	assert.Equal(t, "T2", np.(*Page).targetID)
	assert.Len(t, b.Pages(), 2)

	loc, err := np.Location(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/popup", loc)

	require.NoError(t, np.Close())
	require.NoError(t, np.Close())
	assert.Len(t, b.Pages(), 1)

	// the original page keeps working
	_, err = p.Evaluate(testContext(t), "window.location.href")
	require.NoError(t, err)
}

func TestPageNewPageClickMissingElement(t *testing.T) {
	t.Parallel()

	_, b, p := connectFake(t, nil)

	_, err := p.NewPageClick(testContext(t), "#missing")
	require.ErrorIs(t, err, common.ErrElementNotFound)
	assert.Len(t, b.Pages(), 1)
}
