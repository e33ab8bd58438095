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
	"encoding/json"
	"fmt"
	"math"
	"math/big"
)

// Argument is a function call argument in the shape both protocols use:
// either a JSON value or the source text of a value JSON cannot carry.
type Argument struct {
	Value          json.RawMessage
	Unserializable string
}

// SerializeArgument converts a Go value to an Argument. Integers outside
// the int32 range become BigInt literals, and negative zero, NaN and the
// two infinities become their JavaScript spellings.
//
//nolint:cyclop
func SerializeArgument(v any) (Argument, error) {
	switch a := v.(type) {
	case int:
		return serializeInt(int64(a))
	case int64:
		return serializeInt(a)
	case uint64:
		if a > math.MaxInt32 {
			return Argument{Unserializable: fmt.Sprintf("%dn", a)}, nil
		}
		return serializeInt(int64(a))
	case *big.Int:
		return Argument{Unserializable: a.String() + "n"}, nil
	case float32:
		return serializeFloat(float64(a))
	case float64:
		return serializeFloat(a)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return Argument{}, fmt.Errorf("converting argument '%v': %w", v, err)
	}
	return Argument{Value: b}, nil
}

func serializeInt(a int64) (Argument, error) {
	if a > math.MaxInt32 || a < math.MinInt32 {
		return Argument{Unserializable: fmt.Sprintf("%dn", a)}, nil
	}
	b, err := json.Marshal(a)
	return Argument{Value: b}, err
}

func serializeFloat(a float64) (Argument, error) {
	var unserVal string
	switch {
	case a == 0 && math.Signbit(a):
		unserVal = "-0"
	case math.IsInf(a, 1):
		unserVal = "Infinity"
	case math.IsInf(a, -1):
		unserVal = "-Infinity"
	case math.IsNaN(a):
		unserVal = "NaN"
	}
	if unserVal != "" {
		return Argument{Unserializable: unserVal}, nil
	}

	b, err := json.Marshal(a)
	if err != nil {
		return Argument{}, fmt.Errorf("converting argument '%v': %w", a, err)
	}
	return Argument{Value: b}, nil
}

// JSLiteral renders the argument as JavaScript source. JSON is valid
// JavaScript for every value SerializeArgument produces.
func (a Argument) JSLiteral() string {
	if a.Unserializable != "" {
		return a.Unserializable
	}
	if len(a.Value) == 0 {
		return "undefined"
	}
	return string(a.Value)
}

// SerializeArguments converts every value of args.
func SerializeArguments(args ...any) ([]Argument, error) {
	out := make([]Argument, 0, len(args))
	for i, v := range args {
		a, err := SerializeArgument(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// FromUnserializable converts the JavaScript spelling of a value JSON
// cannot carry back to Go.
func FromUnserializable(s string) (any, error) {
	switch s {
	case "-0":
		return math.Copysign(0, -1), nil
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	if n := len(s); n > 1 && s[n-1] == 'n' {
		if i, ok := new(big.Int).SetString(s[:n-1], 10); ok {
			if i.IsInt64() {
				return i.Int64(), nil
			}
			return i, nil
		}
	}
	return nil, fmt.Errorf("unsupported unserializable value %q", s)
}
