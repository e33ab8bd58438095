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
	"time"

	"golang.org/x/time/rate"
)

// Poll calls fn until it succeeds, at most attempts times with interval
// between the start of two consecutive attempts. When every attempt fails
// the returned error wraps both ErrRetriesExhausted and the last failure.
func Poll(ctx context.Context, attempts int, interval time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	var err error
	for i := 0; i < attempts; i++ {
		if werr := limiter.Wait(ctx); werr != nil {
			if err == nil {
				return werr
			}
			return fmt.Errorf("%w: %w", werr, err)
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}
