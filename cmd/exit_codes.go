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

package cmd

import (
	"errors"

	"github.com/liuxd6825/remotebrowser/common"
)

// ExitCode is the process exit status of a failed command.
type ExitCode uint8

const (
	genericFailure ExitCode = 1
	invalidConfig  ExitCode = 104
	launchFailed   ExitCode = 105
	scriptError    ExitCode = 106
	navigateFailed ExitCode = 107
)

type exitCodeError struct {
	err  error
	code ExitCode
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(err error, code ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr *exitCodeError
	if errors.As(err, &ecerr) {
		return err
	}
	return &exitCodeError{err: err, code: code}
}

// classify picks the exit code of an error returned by a page operation.
func classify(err error) error {
	var (
		evalErr *common.EvaluationError
		navErr  *common.NavigationError
	)
	switch {
	case errors.As(err, &evalErr):
		return withExitCode(err, scriptError)
	case errors.As(err, &navErr):
		return withExitCode(err, navigateFailed)
	default:
		return withExitCode(err, genericFailure)
	}
}
