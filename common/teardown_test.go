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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/log"
)

func TestTeardownOrderAndOnce(t *testing.T) {
	t.Parallel()

	var order []string
	step := func(name string, err error) TeardownStep {
		return TeardownStep{Name: name, Fn: func() error {
			order = append(order, name)
			return err
		}}
	}
	errKill := errors.New("process already exited")
	td := NewTeardown(log.NewNullLogger(),
		step("transport", nil),
		step("process", errKill),
		TeardownStep{Name: "noop"},
		step("profile", nil),
	)

	err := td.Run()
	require.ErrorIs(t, err, errKill)
	assert.Contains(t, err.Error(), "process: process already exited")
	assert.Equal(t, []string{"transport", "process", "profile"}, order)

	require.NoError(t, td.Run())
	assert.Len(t, order, 3)

	<-td.Done()
	require.ErrorIs(t, td.Err(), errKill)
}

func TestTeardownConcurrentRun(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	td := NewTeardown(nil, TeardownStep{Name: "transport", Fn: func() error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, td.Run())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}
