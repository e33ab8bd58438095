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
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/remotebrowser/common"
)

// errObjectGrip means the value is an object the server only sent a
// reference to; it has to be fetched by value separately.
var errObjectGrip = errors.New("object grip")

// longString is a string the server sent truncated.
type longString struct {
	actor   string
	initial string
	length  int64
}

// parseGrip converts a value grip to a Go value. Primitives come as plain
// JSON, everything else as {"type": ...}.
func parseGrip(g gjson.Result) (any, error) {
	if !g.IsObject() {
		if !g.Exists() {
			return nil, nil
		}
		return g.Value(), nil
	}

	switch typ := g.Get("type").String(); typ {
	case "undefined", "null":
		return nil, nil
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "-0":
		return math.Copysign(0, -1), nil
	case "BigInt":
		text := g.Get("text").String()
		i, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nil, fmt.Errorf("parsing BigInt grip %q", text)
		}
		if i.IsInt64() {
			return i.Int64(), nil
		}
		return i, nil
	case "symbol":
		return g.Get("name").String(), nil
	case "longString":
		return &longString{
			actor:   g.Get("actor").String(),
			initial: g.Get("initial").String(),
			length:  g.Get("length").Int(),
		}, nil
	case "object":
		if g.Get("class").String() == "Function" {
			return "function()", nil
		}
		return nil, errObjectGrip
	default:
		return nil, fmt.Errorf("unsupported grip type %q", typ)
	}
}

// exceptionDescription returns the message of an evaluation that threw,
// or "" if it did not.
func exceptionDescription(res Packet) string {
	if !res.Get("hasException").Bool() && !hasValue(res.Get("exception")) {
		return ""
	}
	if msg := res.Get("exceptionMessage").String(); msg != "" {
		return msg
	}
	if v, err := parseGrip(res.Get("exception")); err == nil && v != nil {
		return fmt.Sprint(v)
	}
	if pre := res.Get("exception.preview.message").String(); pre != "" {
		return pre
	}
	return "uncaught exception"
}

func hasValue(g gjson.Result) bool {
	return g.Exists() && g.Type != gjson.Null
}

// jsArgs renders Go values as a JavaScript argument list.
func jsArgs(args ...any) (string, error) {
	serialized, err := common.SerializeArguments(args...)
	if err != nil {
		return "", err
	}
	var out []byte
	for i, a := range serialized {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, a.JSLiteral()...)
	}
	return string(out), nil
}
