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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

func TestBrowserTypeFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		flag                      string
		changeOpts                *common.LaunchOptions
		expInitVal, expChangedVal any
	}{
		{
			flag:          "browser-arg",
			expInitVal:    nil,
			changeOpts:    &common.LaunchOptions{Args: []string{"browser-arg=value"}},
			expChangedVal: "value",
		},
		{
			flag:          "browser-arg-flag",
			expInitVal:    nil,
			changeOpts:    &common.LaunchOptions{Args: []string{"browser-arg-flag"}},
			expChangedVal: "",
		},
		{
			flag:          "browser-arg-trim-double-quote",
			expInitVal:    nil,
			changeOpts:    &common.LaunchOptions{Args: []string{`  --browser-arg-trim-double-quote =  "value  "  `}},
			expChangedVal: "value  ",
		},
		{
			flag:          "browser-arg-trim-single-quote",
			expInitVal:    nil,
			changeOpts:    &common.LaunchOptions{Args: []string{`  --browser-arg-trim-single-quote=' value '`}},
			expChangedVal: " value ",
		},
		{
			flag:          "enable-automation",
			expInitVal:    true,
			changeOpts:    &common.LaunchOptions{IgnoreDefaultArgs: []string{"enable-automation"}},
			expChangedVal: nil,
		},
		{
			flag:          "headless",
			expInitVal:    true,
			changeOpts:    &common.LaunchOptions{Headless: false},
			expChangedVal: false,
		},
		{
			flag:          "hide-scrollbars",
			expInitVal:    true,
			changeOpts:    &common.LaunchOptions{IgnoreDefaultArgs: []string{"--hide-scrollbars"}, Headless: true},
			expChangedVal: nil,
		},
		{
			flag:          "mute-audio",
			expInitVal:    true,
			changeOpts:    &common.LaunchOptions{Headless: false},
			expChangedVal: nil,
		},
		{
			flag:          "remote-allow-origins",
			expInitVal:    "*",
			changeOpts:    &common.LaunchOptions{Args: []string{"remote-allow-origins=http://localhost"}},
			expChangedVal: "http://localhost",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.flag, func(t *testing.T) {
			t.Parallel()

			flags := prepareFlags(&common.LaunchOptions{Headless: true})
			assert.Equal(t, tc.expInitVal, flags[tc.flag])

			if tc.changeOpts != nil {
				flags = prepareFlags(tc.changeOpts)
				assert.Equal(t, tc.expChangedVal, flags[tc.flag])
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	args, err := parseArgs(map[string]any{
		"no-sandbox":            true,
		"disable-gpu":           false,
		"window-size":           "800,600",
		"remote-debugging-port": "0",
		"single-process":        "",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--no-sandbox",
		"--remote-debugging-port=0",
		"--single-process",
		"--window-size=800,600",
		"about:blank",
	}, args)

	_, err = parseArgs(map[string]any{"bad": 42})
	require.EqualError(t, err, `invalid browser command line flag: "bad=42"`)
}

func TestParseDevToolsLine(t *testing.T) {
	t.Parallel()

	ws, ok := parseDevToolsLine("DevTools listening on ws://127.0.0.1:40123/devtools/browser/abc\n")
	require.True(t, ok)
	assert.Equal(t, "ws://127.0.0.1:40123/devtools/browser/abc", ws)

	_, ok = parseDevToolsLine("[0101/000000.000:ERROR:gpu_init.cc] Passthrough is not supported")
	assert.False(t, ok)
}

func TestWaitDevToolsPort(t *testing.T) {
	t.Parallel()

	t.Run("announced", func(t *testing.T) {
		t.Parallel()

		urls := make(chan string, 1)
		urls <- "ws://127.0.0.1:40123/devtools/browser/abc"
		port, err := waitDevToolsPort(testContext(t), urls, nil)
		require.NoError(t, err)
		assert.Equal(t, 40123, port)
	})
	t.Run("exited", func(t *testing.T) {
		t.Parallel()

		exited := make(chan struct{})
		close(exited)
		_, err := waitDevToolsPort(testContext(t), nil, exited)
		require.ErrorContains(t, err, "browser exited")
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := waitDevToolsPort(ctx, nil, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBrowserTypeConnect(t *testing.T) {
	t.Parallel()

	f, b, p := connectFake(t, nil)

	assert.Equal(t, "chromium", b.Name())
	assert.Equal(t, "T1", p.targetID)
	assert.Len(t, b.Pages(), 1)

	v, err := b.Version(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, fakeProduct, v)

	for _, m := range []string{"Page.enable", "Runtime.enable", "Network.enable", "Log.enable"} {
		cmds := f.srv.CommandsFor(cdproto.MethodType(m))
		require.Len(t, cmds, 1, m)
		assert.Equal(t, "/devtools/page/T1", cmds[0].Path, m)
	}

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Empty(t, b.Pages())
	_, err = p.Evaluate(testContext(t), "1")
	require.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestBrowserTypeConnectRefused(t *testing.T) {
	t.Parallel()

	opts := common.NewLaunchOptions()
	opts.Host = "127.0.0.1"
	opts.Port = freePort(t)
	opts.ConnectAttempts = 2
	opts.ConnectInterval = 10 * time.Millisecond

	_, _, err := NewBrowserType().Connect(testContext(t), opts, log.NewNullLogger())
	require.ErrorIs(t, err, common.ErrConnectionRefused)
}

func TestBrowserTypeLaunchMissingExecutable(t *testing.T) {
	t.Parallel()

	opts := common.NewLaunchOptions()
	opts.ExecutablePath = filepath.Join(t.TempDir(), "no-such-chrome")
	opts.UserDataDir = t.TempDir()

	_, _, err := NewBrowserType().Launch(testContext(t), opts, log.NewNullLogger())
	require.Error(t, err)
	assert.ErrorContains(t, err, "launching chromium")

	// the user supplied directory is left alone
	_, err = os.Stat(opts.UserDataDir)
	require.NoError(t, err)
}
