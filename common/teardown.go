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
	"errors"
	"fmt"
	"sync"

	"github.com/liuxd6825/remotebrowser/log"
)

// TeardownStep releases one resource of a browser handle.
type TeardownStep struct {
	Name string
	Fn   func() error
}

// Teardown runs its steps in order exactly once. Every step runs even when
// an earlier one fails.
type Teardown struct {
	logger *log.Logger
	steps  []TeardownStep

	once sync.Once
	err  error
	done chan struct{}
}

// NewTeardown returns a teardown for the given ordered steps.
func NewTeardown(logger *log.Logger, steps ...TeardownStep) *Teardown {
	return &Teardown{
		logger: logger,
		steps:  steps,
		done:   make(chan struct{}),
	}
}

// Run releases every resource. The first call returns the joined errors of
// all steps, later calls return nil.
func (t *Teardown) Run() error {
	first := false
	t.once.Do(func() {
		first = true
		defer close(t.done)

		var errs []error
		for _, s := range t.steps {
			if s.Fn == nil {
				continue
			}
			t.logger.Debugf("Browser:Close", "teardown step %q", s.Name)
			if err := s.Fn(); err != nil {
				t.logger.Errorf("Browser:Close", "teardown step %q: %v", s.Name, err)
				errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			}
		}
		t.err = errors.Join(errs...)
	})
	if !first {
		return nil
	}
	return t.err
}

// Done is closed once every step has run.
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Err returns the joined step errors once Done is closed.
func (t *Teardown) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
