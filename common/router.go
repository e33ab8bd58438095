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
	"fmt"
	"reflect"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/log"
)

// Notification is an unsolicited message pushed by the browser.
type Notification struct {
	// Key is the CDP method name, or "type@actor" for Firefox.
	Key string
	// Params holds the raw JSON parameters of the notification.
	Params []byte
	// Event is the decoded payload when the transport knows its type.
	Event any
}

// Get returns the value at a gjson path inside the notification params.
func (n *Notification) Get(path string) gjson.Result {
	return gjson.GetBytes(n.Params, path)
}

type waitResult struct {
	n   *Notification
	err error
}

// Waiter is a single-shot registration for a notification.
type Waiter struct {
	key      string
	criteria map[string]any
	ch       chan waitResult
	router   *Router
}

// Wait blocks until the waiter is resolved or ctx is done. A waiter
// abandoned through ctx is removed from its router.
func (w *Waiter) Wait(ctx context.Context) (*Notification, error) {
	select {
	case res := <-w.ch:
		return res.n, res.err
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel removes the waiter without resolving it.
func (w *Waiter) Cancel() {
	w.router.remove(w)
}

func (w *Waiter) resolve(n *Notification, err error) {
	// ch is buffered and resolved at most once under the router lock.
	w.ch <- waitResult{n: n, err: err}
}

// Subscription receives every notification delivered for its keys until
// it is closed.
type Subscription struct {
	keys   []string
	fn     func(*Notification)
	router *Router
	once   sync.Once
}

// Close detaches the subscription from its router.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.router.unsubscribe(s)
	})
}

// Router matches inbound notifications against armed waiters and
// passive subscriptions.
type Router struct {
	logger *log.Logger

	mu      sync.Mutex
	waiters map[string]*Waiter
	subs    map[string]map[*Subscription]struct{}
	err     error
}

// NewRouter returns an empty router.
func NewRouter(logger *log.Logger) *Router {
	return &Router{
		logger:  logger,
		waiters: make(map[string]*Waiter),
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

// Expect arms a waiter for key. The waiter resolves with the first
// notification for key whose params contain every criteria entry. Only
// one waiter per key may be armed at a time.
func (r *Router) Expect(key string, criteria map[string]any) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.waiters[key]; ok {
		return nil, fmt.Errorf("expecting %q: %w", key, ErrWaiterExists)
	}
	w := &Waiter{
		key:      key,
		criteria: criteria,
		ch:       make(chan waitResult, 1),
		router:   r,
	}
	r.waiters[key] = w

	return w, nil
}

// Deliver routes n to the waiter armed for its key and to every
// subscription of the key. It reports whether a waiter consumed n.
func (r *Router) Deliver(n *Notification) bool {
	r.mu.Lock()
	var consumed bool
	if w, ok := r.waiters[n.Key]; ok && matches(n, w.criteria) {
		delete(r.waiters, n.Key)
		w.resolve(n, nil)
		consumed = true
	}
	subs := make([]*Subscription, 0, len(r.subs[n.Key]))
	for s := range r.subs[n.Key] {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(n)
	}
	if !consumed && len(subs) == 0 {
		r.logger.Debugf("Router:Deliver", "dropping unmatched notification %q", n.Key)
	}

	return consumed
}

// Subscribe calls fn for every notification delivered for one of keys.
// fn runs on the transport's dispatch goroutine and must not block.
func (r *Router) Subscribe(fn func(*Notification), keys ...string) *Subscription {
	s := &Subscription{keys: keys, fn: fn, router: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if r.subs[k] == nil {
			r.subs[k] = make(map[*Subscription]struct{})
		}
		r.subs[k][s] = struct{}{}
	}

	return s
}

// Close resolves every armed waiter with err and rejects later
// registrations with it.
func (r *Router) Close(err error) {
	if err == nil {
		err = ErrConnectionClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	r.err = err
	for k, w := range r.waiters {
		delete(r.waiters, k)
		w.resolve(nil, err)
	}
	r.subs = make(map[string]map[*Subscription]struct{})
}

func (r *Router) remove(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.waiters[w.key]; ok && cur == w {
		delete(r.waiters, w.key)
	}
}

func (r *Router) unsubscribe(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range s.keys {
		delete(r.subs[k], s)
		if len(r.subs[k]) == 0 {
			delete(r.subs, k)
		}
	}
}

// matches reports whether every criteria path is present in the params of
// n with an equal value.
func matches(n *Notification, criteria map[string]any) bool {
	for path, want := range criteria {
		got := n.Get(path)
		if !got.Exists() {
			return false
		}
		if !equalJSONValue(got.Value(), want) {
			return false
		}
	}
	return true
}

func equalJSONValue(got, want any) bool {
	if f, ok := toFloat(want); ok {
		g, ok := got.(float64)
		return ok && g == f
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
