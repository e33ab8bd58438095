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
	"encoding/json"
	"fmt"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"

	"github.com/liuxd6825/remotebrowser/common"
)

// parseRemoteObject converts a by-value remote object to Go. Values JSON
// cannot carry come back through their JavaScript spelling.
func parseRemoteObject(obj *cdpruntime.RemoteObject) (any, error) {
	if obj == nil {
		return nil, nil
	}
	if obj.UnserializableValue != "" {
		return common.FromUnserializable(obj.UnserializableValue.String())
	}

	switch obj.Type {
	case cdpruntime.TypeUndefined:
		return nil, nil
	case cdpruntime.TypeFunction, cdpruntime.TypeSymbol:
		return obj.Description, nil
	}
	if len(obj.Value) == 0 {
		if obj.Subtype == cdpruntime.SubtypeNull {
			return nil, nil
		}
		// Values with no JSON form, such as DOM nodes, keep their
		// description.
		return obj.Description, nil
	}

	var v any
	if err := json.Unmarshal(obj.Value, &v); err != nil {
		return nil, fmt.Errorf("parsing remote %s value: %w", obj.Type, err)
	}
	return v, nil
}

// parseExceptionDetails returns the message of a thrown exception.
func parseExceptionDetails(exc *cdpruntime.ExceptionDetails) string {
	if exc == nil {
		return ""
	}
	if exc.Exception != nil {
		if exc.Exception.Description != "" {
			return exc.Exception.Description
		}
		if v, err := parseRemoteObject(exc.Exception); err == nil && v != nil {
			return fmt.Sprint(v)
		}
	}
	return exc.Text
}

// callArguments converts Go values to CDP call arguments.
func callArguments(args ...any) ([]*cdpruntime.CallArgument, error) {
	serialized, err := common.SerializeArguments(args...)
	if err != nil {
		return nil, err
	}
	out := make([]*cdpruntime.CallArgument, 0, len(serialized))
	for _, a := range serialized {
		ca := &cdpruntime.CallArgument{}
		if a.Unserializable != "" {
			ca.UnserializableValue = cdpruntime.UnserializableValue(a.Unserializable)
		} else {
			ca.Value = easyjson.RawMessage(a.Value)
		}
		out = append(out, ca)
	}
	return out, nil
}
