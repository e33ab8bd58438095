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
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/tests/ws"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	f := newFakeChrome(t, nil)

	info, err := Discover(testContext(t), f.srv.Host(), f.srv.Port(), 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, fakeProduct, info.Browser)
	assert.Equal(t, "1.3", info.ProtocolVersion)
	assert.Equal(t, f.srv.WSURL(ws.BrowserPath), info.WebSocketDebuggerURL)
}

func TestDiscoverRefused(t *testing.T) {
	t.Parallel()

	_, err := Discover(testContext(t), "127.0.0.1", freePort(t), 3, 10*time.Millisecond)
	require.ErrorIs(t, err, common.ErrConnectionRefused)
	var cerr *common.ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestDiscoverCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, "127.0.0.1", 1, 3, 10*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrConnectionRefused)
}

func TestDiscoverWaitsForDebuggerURL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := ws.NewServer(t, func(s *ws.Server) {
		s.Mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"Browser":"Chrome/1"}`))
				return
			}
			_, _ = w.Write([]byte(`{"Browser":"Chrome/1","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/browser/x"}`))
		})
	})

	info, err := Discover(testContext(t), srv.Host(), srv.Port(), 5, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:1/devtools/browser/x", info.WebSocketDebuggerURL)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDiscoverMalformed(t *testing.T) {
	t.Parallel()

	srv := ws.NewServer(t, func(s *ws.Server) {
		s.Mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"Browser":`))
		})
	})

	_, err := Discover(testContext(t), srv.Host(), srv.Port(), 2, 10*time.Millisecond)
	require.ErrorIs(t, err, common.ErrMalformedPacket)
}

func TestListTargets(t *testing.T) {
	t.Parallel()

	f := newFakeChrome(t, nil)
	f.addTarget("T2", "https://example.com/")
	f.mu.Lock()
	f.targets = append(f.targets, ws.Target{ID: "W1", Type: "service_worker", URL: "https://example.com/sw.js"})
	f.mu.Unlock()

	targets, err := ListTargets(testContext(t), f.srv.Host(), f.srv.Port())
	require.NoError(t, err)
	require.Len(t, targets, 3)

	assert.Equal(t, TargetInfo{
		ID:                   "T2",
		Type:                 "page",
		URL:                  "https://example.com/",
		WebSocketDebuggerURL: f.srv.WSURL("/devtools/page/T2"),
	}, targets[1])
	assert.Equal(t, "service_worker", targets[2].Type)
}
