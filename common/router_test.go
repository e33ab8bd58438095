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

package common

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/log"
)

func TestRouterSubsetMatch(t *testing.T) {
	t.Parallel()

	r := NewRouter(log.NewNullLogger())
	w, err := r.Expect("tabNavigated@server1.conn0.child2/frameTarget1", map[string]any{"state": "stop"})
	require.NoError(t, err)

	// missing field and wrong value are not matches
	assert.False(t, r.Deliver(&Notification{
		Key:    "tabNavigated@server1.conn0.child2/frameTarget1",
		Params: []byte(`{"url":"https://example.com"}`),
	}))
	assert.False(t, r.Deliver(&Notification{
		Key:    "tabNavigated@server1.conn0.child2/frameTarget1",
		Params: []byte(`{"state":"start","url":"https://example.com"}`),
	}))
	// other key
	assert.False(t, r.Deliver(&Notification{
		Key:    "tabNavigated@server1.conn0.child9/frameTarget1",
		Params: []byte(`{"state":"stop"}`),
	}))

	assert.True(t, r.Deliver(&Notification{
		Key:    "tabNavigated@server1.conn0.child2/frameTarget1",
		Params: []byte(`{"state":"stop","url":"https://example.com","title":"Example"}`),
	}))

	n, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", n.Get("url").String())

	// the waiter is single-shot
	assert.False(t, r.Deliver(&Notification{
		Key:    "tabNavigated@server1.conn0.child2/frameTarget1",
		Params: []byte(`{"state":"stop"}`),
	}))
}

func TestRouterNumericAndNestedCriteria(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	w, err := r.Expect("Page.lifecycleEvent", map[string]any{
		"name":           "networkIdle",
		"frame.depth":    2,
		"frame.detached": false,
	})
	require.NoError(t, err)

	ok := r.Deliver(&Notification{
		Key:    "Page.lifecycleEvent",
		Params: []byte(`{"name":"networkIdle","frame":{"depth":2,"detached":false},"timestamp":12.5}`),
	})
	require.True(t, ok)

	n, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "networkIdle", n.Get("name").String())
}

func TestRouterOneWaiterPerKey(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	w, err := r.Expect("Page.javascriptDialogOpening", nil)
	require.NoError(t, err)

	_, err = r.Expect("Page.javascriptDialogOpening", nil)
	require.ErrorIs(t, err, ErrWaiterExists)

	w.Cancel()
	_, err = r.Expect("Page.javascriptDialogOpening", nil)
	require.NoError(t, err)
}

func TestRouterWaitContextCancel(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	w, err := r.Expect("Page.loadEventFired", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = w.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned waiter released its key
	_, err = r.Expect("Page.loadEventFired", nil)
	require.NoError(t, err)
}

func TestRouterCloseResolvesWaiters(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)

	const n = 10
	var (
		wg   sync.WaitGroup
		errs = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		w, err := r.Expect("Key"+string(rune('a'+i)), nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Wait(context.Background())
			errs <- err
		}()
	}

	r.Close(nil)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrConnectionClosed)
	}

	_, err := r.Expect("Keya", nil)
	require.ErrorIs(t, err, ErrConnectionClosed)

	// closing again keeps the first error
	r.Close(errors.New("other"))
	_, err = r.Expect("Keya", nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRouterSubscribe(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)

	var got []string
	sub := r.Subscribe(func(n *Notification) {
		got = append(got, n.Key+":"+n.Get("text").String())
	}, "Runtime.exceptionThrown", "Log.entryAdded")

	r.Deliver(&Notification{Key: "Runtime.exceptionThrown", Params: []byte(`{"text":"boom"}`)})
	r.Deliver(&Notification{Key: "Page.loadEventFired", Params: []byte(`{}`)})
	r.Deliver(&Notification{Key: "Log.entryAdded", Params: []byte(`{"text":"bad"}`)})

	sub.Close()
	sub.Close()
	r.Deliver(&Notification{Key: "Log.entryAdded", Params: []byte(`{"text":"late"}`)})

	assert.Equal(t, []string{"Runtime.exceptionThrown:boom", "Log.entryAdded:bad"}, got)
}

func TestRouterWaiterAndSubscriberBothSeeNotification(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	var seen int
	sub := r.Subscribe(func(*Notification) { seen++ }, "Page.frameRequestedNavigation")
	defer sub.Close()

	w, err := r.Expect("Page.frameRequestedNavigation", nil)
	require.NoError(t, err)

	require.True(t, r.Deliver(&Notification{
		Key:    "Page.frameRequestedNavigation",
		Params: []byte(`{"url":"https://example.com/popup"}`),
	}))
	n, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/popup", n.Get("url").String())
	assert.Equal(t, 1, seen)
}
