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
	"errors"
	"fmt"
	"strings"
)

// Error is a sentinel error of the engine.
type Error string

// Error satisfies the builtin error interface.
func (e Error) Error() string {
	return string(e)
}

const (
	// ErrConnectionClosed resolves every request and waiter still
	// outstanding when a transport goes away.
	ErrConnectionClosed Error = "connection closed"
	// ErrConnectionRefused is returned when the debugger port never
	// accepted a connection within the attempt budget.
	ErrConnectionRefused Error = "connection refused"
	// ErrRetriesExhausted is returned by Poll when every attempt failed.
	ErrRetriesExhausted Error = "retries exhausted"
	// ErrWaiterExists is returned when a notification key already has
	// an armed waiter.
	ErrWaiterExists Error = "a waiter for this notification already exists"
	ErrMalformedPacket   Error = "malformed packet"
	ErrElementNotFound   Error = "element not found"
	ErrStaleElement      Error = "stale element reference"
	ErrDialogNotExpected Error = "no dialog was expected"
	ErrUnsupported       Error = "operation not supported by this browser"
	ErrJSSyntax          Error = "javascript syntax error"
	ErrNoClickableQuad   Error = "node is either not visible or not an HTMLElement"
	ErrUnknownBrowser    Error = "unknown browser"
)

// ProtocolError is an error payload returned by the remote end in reply
// to a command.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}

// EvaluationError is an exception thrown by evaluated page script.
type EvaluationError struct {
	Expression  string
	Description string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q: %s", e.Expression, e.Description)
}

// Unwrap lets callers detect script syntax errors with errors.Is.
func (e *EvaluationError) Unwrap() error {
	if strings.HasPrefix(e.Description, "SyntaxError") {
		return ErrJSSyntax
	}
	return nil
}

// NavigationError is returned when the browser reports that a navigation
// could not be completed.
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigating to %q: %s", e.URL, e.Text)
}

// StaleElementError is returned by operations on an element handle whose
// node is no longer attached to the document.
type StaleElementError struct {
	Selector string
}

func (e *StaleElementError) Error() string {
	return fmt.Sprintf("%s: %q", ErrStaleElement, e.Selector)
}

func (e *StaleElementError) Unwrap() error {
	return ErrStaleElement
}

// PreconditionError is returned before any protocol traffic when the
// arguments of an operation cannot be satisfied.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// ConnectionError wraps a transport failure with the operation that hit it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must tear the browser connection down
// before being returned to the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		pe *PreconditionError
		se *StaleElementError
		ne *NavigationError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &se), errors.As(err, &ne):
		return false
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrElementNotFound),
		errors.Is(err, ErrDialogNotExpected), errors.Is(err, ErrWaiterExists),
		errors.Is(err, ErrNoClickableQuad):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
