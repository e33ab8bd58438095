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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// fileHook writes log entries to a file through a buffer that is flushed
// when the run is over.
type fileHook struct {
	fs             afero.Fs
	fallbackLogger logrus.FieldLogger
	path           string
	levels         []logrus.Level

	mu     sync.Mutex
	w      io.WriteCloser
	bw     *bufio.Writer
	closed bool
}

// FileHookFromConfigLine returns a hook configured by a line such as
// "file=./remotebrowser.log,level=debug". Relative paths are resolved
// against the directory getCwd returns. The file is flushed and closed once
// ctx is done, and done is closed after that.
func FileHookFromConfigLine(
	ctx context.Context, fs afero.Fs, getCwd func() (string, error),
	fallbackLogger logrus.FieldLogger, line string, done chan struct{},
) (logrus.Hook, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return nil, fmt.Errorf("error while parsing logfile configuration %w", err)
	}
	if len(tokens) == 0 || tokens[0].key != "file" {
		return nil, fmt.Errorf("logfile configuration should be in the form `file=path-to-local-file` but is `%s`", line)
	}

	h := &fileHook{
		fs:             fs,
		fallbackLogger: fallbackLogger,
		levels:         logrus.AllLevels,
	}
	for _, t := range tokens {
		switch t.key {
		case "file":
			h.path = t.value
		case "level":
			if h.levels, err = levelsFrom(t.value); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown logfile config key %s", t.key)
		}
	}
	if err := h.open(getCwd); err != nil {
		return nil, err
	}

	go func() {
		defer close(done)
		<-ctx.Done()
		h.close()
	}()

	return h, nil
}

// levelsFrom returns level and every level more severe than it.
func levelsFrom(level string) ([]logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %s", level)
	}
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= lvl {
			levels = append(levels, l)
		}
	}
	return levels, nil
}

func (h *fileHook) open(getCwd func() (string, error)) error {
	if !filepath.IsAbs(h.path) {
		cwd, err := getCwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		h.path = filepath.Join(cwd, h.path)
	}

	dir := filepath.Dir(h.path)
	if _, err := h.fs.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("provided directory '%s' does not exist", dir)
	}
	f, err := h.fs.OpenFile(h.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open logfile %s: %w", h.path, err)
	}

	h.w = f
	h.bw = bufio.NewWriter(f)
	return nil
}

func (h *fileHook) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	if err := h.bw.Flush(); err != nil {
		h.fallbackLogger.Errorf("failed to flush the logfile buffer: %v", err)
	}
	if err := h.w.Close(); err != nil {
		h.fallbackLogger.Errorf("failed to close logfile: %v", err)
	}
}

// Fire writes entry to the file. Entries after the file is closed are
// dropped.
func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := entry.Bytes()
	if err != nil {
		return fmt.Errorf("failed to get a log entry bytes: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if _, err := h.bw.Write(b); err != nil {
		h.fallbackLogger.Errorf("failed to write a log message to a logfile: %v", err)
	}
	return nil
}

// Levels returns the levels the hook fires for.
func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}
