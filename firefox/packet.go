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

// Package firefox drives Firefox through its remote debugging protocol: a
// TCP stream of length-prefixed JSON packets exchanged with actors.
package firefox

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Packet is the raw JSON body of one protocol packet.
type Packet []byte

// Get returns the value at a gjson path of the packet.
func (p Packet) Get(path string) gjson.Result {
	return gjson.GetBytes(p, path)
}

// From is the actor that sent the packet.
func (p Packet) From() string {
	return p.Get("from").String()
}

// Type is the packet type, empty for most replies.
func (p Packet) Type() string {
	return p.Get("type").String()
}

// ErrorName returns the error name of an error reply.
func (p Packet) ErrorName() string {
	return p.Get("error").String()
}

func (p Packet) String() string {
	return string(p)
}

// EncodePacket marshals v and frames it as "<length>:<json>".
func EncodePacket(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding packet: %w", err)
	}
	out := make([]byte, 0, len(b)+12)
	out = strconv.AppendInt(out, int64(len(b)), 10)
	out = append(out, ':')
	return append(out, b...), nil
}

// unsolicitedTypes are pushed by the server without a request and are of
// no use to any operation.
var unsolicitedTypes = map[string]struct{}{ //nolint:gochecknoglobals
	"tabListChanged":                       {},
	"consoleAPICall":                       {},
	"reflowActivity":                       {},
	"networkEvent":                         {},
	"networkEventUpdate":                   {},
	"frameUpdate":                          {},
	"newSource":                            {},
	"workerListChanged":                    {},
	"documentEvent":                        {},
	"logMessage":                           {},
	"addonListChanged":                     {},
	"serviceWorkerRegistrationListChanged": {},
	"processListChanged":                   {},
	"resources-available-array":            {},
	"resources-updated-array":              {},
	"target-available-form":                {},
	"target-destroyed-form":                {},
}

// dropPacket reports whether p never reaches a caller.
func dropPacket(p Packet) bool {
	typ := p.Type()
	if _, ok := unsolicitedTypes[typ]; ok {
		return true
	}
	switch typ {
	case "pageError":
		return p.Get("pageError.warning").Bool() || p.Get("pageError.error").Bool()
	case "tabNavigated":
		return p.Get("state").String() == "start"
	}
	return false
}

// eventTypes are the packet types routed as notifications rather than
// matched to a pending request.
var eventTypes = map[string]struct{}{ //nolint:gochecknoglobals
	"tabNavigated":     {},
	"tabDetached":      {},
	"pageError":        {},
	"willNavigate":     {},
	"navigate":         {},
	"newGlobal":        {},
	"evaluationResult": {},
}

// isEvent reports whether p is an unsolicited notification.
func isEvent(p Packet) bool {
	_, ok := eventTypes[p.Type()]
	return ok
}
