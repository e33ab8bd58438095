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

package browser

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/chromium"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/firefox"
)

// typeRegistry maps browser names to the browser types that drive them.
type typeRegistry struct {
	mu    sync.RWMutex
	types map[string]api.BrowserType
}

func newTypeRegistry() *typeRegistry {
	r := &typeRegistry{types: make(map[string]api.BrowserType)}

	cr := chromium.NewBrowserType()
	r.register("chromium", cr)
	r.register("chrome", cr)
	r.register("firefox", firefox.NewBrowserType())

	return r
}

func (r *typeRegistry) register(name string, bt api.BrowserType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[strings.ToLower(name)] = bt
}

func (r *typeRegistry) lookup(name string) (api.BrowserType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bt, ok := r.types[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q, use one of %s", common.ErrUnknownBrowser, name, strings.Join(r.namesLocked(), ", "))
	}
	return bt, nil
}

func (r *typeRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.namesLocked()
}

func (r *typeRegistry) namesLocked() []string {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = newTypeRegistry() //nolint:gochecknoglobals

// Register makes bt available under name, replacing any type registered
// with the same name. Names are case insensitive.
func Register(name string, bt api.BrowserType) {
	defaultRegistry.register(name, bt)
}

// Types returns the registered browser names, sorted.
func Types() []string {
	return defaultRegistry.names()
}

// Lookup returns the browser type registered as name.
func Lookup(name string) (api.BrowserType, error) {
	return defaultRegistry.lookup(name)
}
