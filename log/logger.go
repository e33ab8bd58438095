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

// Package log provides the category logger used by the protocol clients and
// the logrus hooks the command line wires into it.
package log

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger logs protocol traffic and engine events under a category, such as
// "cdp:send" or "Page:navigate", so that a filter can narrow the output down.
// A nil *Logger discards everything. A Logger without a logrus logger
// prints colored lines to its fallback writer, stderr by default.
type Logger struct {
	*logrus.Logger

	mu             sync.Mutex
	last           time.Time
	debugOverride  bool
	categoryFilter *regexp.Regexp
	fallback       io.Writer
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(l, false, nil)
}

// New wraps logger. With debugOverride, entries below the level of logger
// are still written, at the level of logger. A nil categoryFilter keeps
// every category.
func New(logger *logrus.Logger, debugOverride bool, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		Logger:         logger,
		debugOverride:  debugOverride,
		categoryFilter: categoryFilter,
	}
}

func (l *Logger) Tracef(category string, msg string, args ...any) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...any) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...any) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...any) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...any) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf writes msg under category. The entry carries the time elapsed since
// the previous entry of this logger.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...any) {
	if l == nil {
		return
	}
	enabled := l.levelEnabled(level)
	if !enabled && !l.debugOverride {
		return
	}

	l.mu.Lock()
	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		l.mu.Unlock()
		return
	}
	now := time.Now()
	var elapsed time.Duration
	if !l.last.IsZero() {
		elapsed = now.Sub(l.last)
	}
	l.last = now
	l.mu.Unlock()

	if l.Logger == nil {
		l.printFallback(category, fmt.Sprintf(msg, args...), elapsed)
		return
	}
	entry := l.WithFields(logrus.Fields{
		"category":  category,
		"elapsed":   fmt.Sprintf("%d ms", elapsed.Milliseconds()),
		"goroutine": goroutineID(),
	})
	if !enabled {
		level = l.GetLevel()
	}
	entry.Logf(level, msg, args...)
}

// levelEnabled reports whether level is written. Without a logrus logger
// info and more severe levels are.
func (l *Logger) levelEnabled(level logrus.Level) bool {
	if l.Logger == nil {
		return level <= logrus.InfoLevel
	}
	return l.IsLevelEnabled(level)
}

func (l *Logger) printFallback(category, msg string, elapsed time.Duration) {
	w := l.fallback
	if w == nil {
		w = os.Stderr
	}
	magenta := color.New(color.FgMagenta).SprintFunc()
	_, _ = fmt.Fprintf(w, "%s [%d]: %s - %s ms\n",
		magenta(category), goroutineID(), msg, magenta(elapsed.Milliseconds()))
}

// goroutineID returns the id of the calling goroutine, or 0 when the
// stack header cannot be parsed.
func goroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(fields) == 0 {
		return 0
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return id
}

// SetLevel sets the level from its name, such as "debug" or "warn".
func (l *Logger) SetLevel(level string) error {
	pl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	if l.Logger == nil {
		return nil
	}
	l.Logger.SetLevel(pl)
	return nil
}

// SetCategoryFilter keeps only the categories matching filter. An empty
// filter keeps the current one.
func (l *Logger) SetCategoryFilter(filter string) error {
	if filter == "" {
		return nil
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return fmt.Errorf("invalid category filter %q: %w", filter, err)
	}
	l.mu.Lock()
	l.categoryFilter = re
	l.mu.Unlock()
	return nil
}

// DebugMode reports whether debug entries are written.
func (l *Logger) DebugMode() bool {
	return l.debugOverride || l.levelEnabled(logrus.DebugLevel)
}
