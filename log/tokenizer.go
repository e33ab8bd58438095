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

package log

import (
	"fmt"
	"strings"
)

type token struct {
	key, value string
	inside     rune // shows whether it's inside a given collection, currently [ means it's an array
}

// tokenize splits a hook configuration line such as
// "file=/tmp/rb.log,level=info,keys=[a,b]" into key/value tokens.
func tokenize(line string) ([]token, error) {
	var (
		tokens []token
		rest   = line
	)
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("key `%s` with no value", rest)
		}
		t := token{key: rest[:eq]}
		rest = rest[eq+1:]

		switch {
		case strings.HasPrefix(rest, "["):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("array value for key `%s` didn't end", t.key)
			}
			t.value, t.inside = rest[1:end], '['
			rest = rest[end+1:]
			if rest != "" && rest[0] != ',' {
				return nil, fmt.Errorf("there was no ',' after an array with key '%s'", t.key)
			}
		default:
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			t.value = rest[:end]
			rest = rest[end:]
		}
		if t.value == "" {
			return nil, fmt.Errorf("key `%s=` with no value", t.key)
		}
		tokens = append(tokens, t)
		rest = strings.TrimPrefix(rest, ",")
	}

	return tokens, nil
}
