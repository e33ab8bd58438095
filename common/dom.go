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
	"fmt"
	"path/filepath"
)

// StaleNode is what element functions return when their node left the
// document.
const StaleNode = "__remotebrowser_stale_node__"

// Page functions run on an element. Each takes the element as its first
// parameter. Functions returning structured data return it as a JSON
// string so both protocols carry it the same way.
const (
	ValueFunc = `(el) => String(el.value === undefined ? "" : el.value)`

	SetValueFunc = `(el, v) => {
	el.value = v;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
}`

	GetAttributeFunc = `(el, name) => JSON.stringify({
	present: el.hasAttribute(name),
	value: el.getAttribute(name) || "",
})`

	SetAttributeFunc = `(el, name, value) => { el.setAttribute(name, value); return true; }`

	InputInfoFunc = `(el) => JSON.stringify({
	isFileInput: el.nodeName === "INPUT" && el.type === "file",
	multiple: !!el.multiple,
})`

	// BoundsFunc returns the element box in document coordinates.
	BoundsFunc = `(el) => {
	el.scrollIntoView({block: "center", inline: "center"});
	const r = el.getBoundingClientRect();
	return JSON.stringify({x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height});
}`
)

// Attribute is the result of GetAttributeFunc.
type Attribute struct {
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// InputInfo is the result of InputInfoFunc.
type InputInfo struct {
	IsFileInput bool `json:"isFileInput"`
	Multiple    bool `json:"multiple"`
}

// CheckInputPaths rejects relative file paths.
func CheckInputPaths(paths []string) error {
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return &PreconditionError{Op: "setInputFiles", Reason: fmt.Sprintf("file path %q must be absolute", p)}
		}
	}
	return nil
}

// CheckInputTarget rejects elements that cannot take n files.
func CheckInputTarget(selector string, info InputInfo, n int) error {
	if !info.IsFileInput {
		return &PreconditionError{
			Op: "setInputFiles", Reason: fmt.Sprintf("element %q is not an <input type=file>", selector),
		}
	}
	if n > 1 && !info.Multiple {
		return &PreconditionError{
			Op: "setInputFiles", Reason: fmt.Sprintf("element %q does not accept multiple files", selector),
		}
	}
	return nil
}
