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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

func TestConnectionRepliesInActorOrder(t *testing.T) {
	t.Parallel()

	// actor "a" answers its requests only once "b" was asked, and "b"
	// answers before "a"
	var (
		mu     sync.Mutex
		parked []Packet
	)
	srv := newDebuggerServer(t, func(c *serverConn, req Packet) {
		switch req.Get("to").String() {
		case "a":
			mu.Lock()
			parked = append(parked, req)
			mu.Unlock()
		case "b":
			c.send(t, map[string]any{"from": "b", "n": req.Get("n").Int()})
			mu.Lock()
			for _, p := range parked {
				c.send(t, map[string]any{"from": "a", "n": p.Get("n").Int()})
			}
			parked = nil
			mu.Unlock()
		}
	})
	conn := dialTest(t, srv)
	ctx := testContext(t)

	type result struct {
		n   int64
		err error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	go func() {
		r, err := conn.Request(ctx, "a", "ping", map[string]any{"n": 1})
		first <- result{r.Get("n").Int(), err}
	}()
	require.Eventually(t, func() bool { return len(srv.requests("ping")) == 1 }, time.Second, time.Millisecond)
	go func() {
		r, err := conn.Request(ctx, "a", "ping", map[string]any{"n": 2})
		second <- result{r.Get("n").Int(), err}
	}()
	require.Eventually(t, func() bool { return len(srv.requests("ping")) == 2 }, time.Second, time.Millisecond)

	b, err := conn.Request(ctx, "b", "pong", map[string]any{"n": 9})
	require.NoError(t, err)
	assert.EqualValues(t, 9, b.Get("n").Int())

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.EqualValues(t, 1, r1.n)
	assert.EqualValues(t, 2, r2.n)
}

func TestConnectionErrorReply(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, func(c *serverConn, req Packet) {
		c.send(t, map[string]any{"from": req.Get("to").String(), "error": "noSuchActor", "message": "no such actor"})
	})
	conn := dialTest(t, srv)

	_, err := conn.Request(testContext(t), "server1.conn0.gone", "listTabs", nil)
	var perr *common.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "listTabs@server1.conn0.gone", perr.Method)
	assert.Contains(t, perr.Message, "noSuchActor")
}

func TestConnectionDropsReplyWithoutRequest(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, func(c *serverConn, req Packet) {
		c.send(t, map[string]any{"from": "stranger", "value": 1})
		c.send(t, map[string]any{"from": req.Get("to").String(), "value": 2})
	})
	conn := dialTest(t, srv)

	r, err := conn.Request(testContext(t), "root", "echo", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Get("value").Int())
}

func TestConnectionCanceledRequestAbsorbsLateReply(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, func(c *serverConn, req Packet) {
		// the first request is answered only once the second arrives
		if req.Get("n").Int() == 2 {
			c.send(t, map[string]any{"from": "a", "n": 1})
			c.send(t, map[string]any{"from": "a", "n": 2})
		}
	})
	conn := dialTest(t, srv)

	ctx, cancel := context.WithCancel(testContext(t))
	errc := make(chan error, 1)
	go func() {
		_, err := conn.Request(ctx, "a", "ping", map[string]any{"n": 1})
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(srv.requests("ping")) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	r, err := conn.Request(testContext(t), "a", "ping", map[string]any{"n": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Get("n").Int())
}

func TestConnectionCloseResolvesPending(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, nil) // never replies
	conn := dialTest(t, srv)

	errc := make(chan error, 1)
	go func() {
		_, err := conn.Request(context.Background(), "root", "listTabs", nil)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(srv.requests("listTabs")) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.ErrorIs(t, <-errc, common.ErrConnectionClosed)

	// requests after close fail right away
	_, err := conn.Request(context.Background(), "root", "listTabs", nil)
	require.ErrorIs(t, err, common.ErrConnectionClosed)

	// and so do notification waits
	_, err = conn.Router().Expect("tabNavigated@t", nil)
	require.ErrorIs(t, err, common.ErrConnectionClosed)

	require.NoError(t, conn.Close())
}

func TestConnectionServerHangup(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, func(c *serverConn, _ Packet) {
		_ = c.conn.Close()
	})
	conn := dialTest(t, srv)

	w, err := conn.Router().Expect("tabNavigated@t", map[string]any{"state": "stop"})
	require.NoError(t, err)

	_, err = conn.Request(testContext(t), "root", "listTabs", nil)
	require.ErrorIs(t, err, common.ErrConnectionClosed)

	_, err = w.Wait(testContext(t))
	require.ErrorIs(t, err, common.ErrConnectionClosed)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not done after hangup")
	}
}

func TestConnectionRoutesEvents(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, func(c *serverConn, req Packet) {
		c.send(t, map[string]any{"from": "target1", "type": "tabNavigated", "state": "start", "url": "x"})
		c.send(t, map[string]any{"from": "target1", "type": "tabNavigated", "state": "stop", "url": "https://example.com/"})
		c.send(t, map[string]any{"from": req.Get("to").String()})
	})
	conn := dialTest(t, srv)

	w, err := conn.Router().Expect("tabNavigated@target1", map[string]any{"state": "stop"})
	require.NoError(t, err)

	_, err = conn.Request(testContext(t), "target1", "navigateTo", map[string]any{"url": "https://example.com/"})
	require.NoError(t, err)

	n, err := w.Wait(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", n.Get("url").String())
}

func TestConnectionDroppedPageErrorsReachSubscribers(t *testing.T) {
	t.Parallel()

	srv := newDebuggerServer(t, nil)
	conn := dialTest(t, srv)

	got := make(chan string, 1)
	sub := conn.Router().Subscribe(func(n *common.Notification) {
		got <- n.Get("pageError.errorMessage").String()
	}, "pageError@console1")
	defer sub.Close()

	srv.push(map[string]any{
		"from": "console1", "type": "pageError",
		"pageError": map[string]any{"error": true, "errorMessage": "boom"},
	})

	select {
	case msg := <-got:
		assert.Equal(t, "boom", msg)
	case <-time.After(time.Second):
		t.Fatal("page error not delivered")
	}
}

func TestDialRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(testContext(t), "127.0.0.1", port, 2, time.Millisecond, log.NewNullLogger())
	require.ErrorIs(t, err, common.ErrConnectionRefused)
	require.ErrorIs(t, err, common.ErrRetriesExhausted)

	var cerr *common.ConnectionError
	require.ErrorAs(t, err, &cerr)
}
