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
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseGrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		grip string
		want any
	}{
		{`"Example Domain"`, "Example Domain"},
		{`11`, float64(11)},
		{`true`, true},
		{`null`, nil},
		{`{"type":"undefined"}`, nil},
		{`{"type":"null"}`, nil},
		{`{"type":"BigInt","text":"9007199254740993"}`, int64(9007199254740993)},
		{`{"type":"symbol","name":"Symbol(rb)"}`, "Symbol(rb)"},
		{`{"type":"object","class":"Function","actor":"server1.conn0.obj12"}`, "function()"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.grip, func(t *testing.T) {
			t.Parallel()

			got, err := parseGrip(gjson.Parse(tt.grip))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGripSpecialNumbers(t *testing.T) {
	t.Parallel()

	v, err := parseGrip(gjson.Parse(`{"type":"NaN"}`))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v.(float64)))

	v, err = parseGrip(gjson.Parse(`{"type":"-0"}`))
	require.NoError(t, err)
	assert.True(t, math.Signbit(v.(float64)))

	v, err = parseGrip(gjson.Parse(`{"type":"Infinity"}`))
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), 1))

	v, err = parseGrip(gjson.Parse(`{"type":"-Infinity"}`))
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), -1))

	v, err = parseGrip(gjson.Parse(`{"type":"BigInt","text":"123456789012345678901234567890"}`))
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.(*big.Int).String())
}

func TestParseGripReferences(t *testing.T) {
	t.Parallel()

	_, err := parseGrip(gjson.Parse(`{"type":"object","class":"Object","actor":"server1.conn0.obj3"}`))
	require.ErrorIs(t, err, errObjectGrip)

	v, err := parseGrip(gjson.Parse(`{"type":"longString","initial":"aaa","length":100000,"actor":"server1.conn0.longString4"}`))
	require.NoError(t, err)
	ls, ok := v.(*longString)
	require.True(t, ok)
	assert.Equal(t, "server1.conn0.longString4", ls.actor)
	assert.EqualValues(t, 100000, ls.length)

	_, err = parseGrip(gjson.Parse(`{"type":"mystery"}`))
	require.Error(t, err)
}

func TestExceptionDescription(t *testing.T) {
	t.Parallel()

	assert.Empty(t, exceptionDescription(Packet(`{"result":11,"exception":null}`)))
	assert.Equal(t, "SyntaxError: unexpected token: '}'", exceptionDescription(Packet(
		`{"hasException":true,"exception":{"type":"object","class":"SyntaxError"},"exceptionMessage":"SyntaxError: unexpected token: '}'"}`,
	)))
	assert.Equal(t, "boom", exceptionDescription(Packet(`{"exception":"boom"}`)))
}

func TestJSArgs(t *testing.T) {
	t.Parallel()

	s, err := jsArgs("a", int64(math.MaxInt32)+1, math.Copysign(0, -1), math.NaN(), map[string]int{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, `"a", 2147483648n, -0, NaN, {"x":1}`, s)
}
