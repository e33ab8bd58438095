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
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := [...]struct {
		line       string
		err        bool
		errMessage string
		res        fileHook
	}{
		{
			line: "file",
			err:  true,
			res: fileHook{
				levels: logrus.AllLevels,
			},
		},
		{
			line: "file=/rb.log,level=info",
			err:  false,
			res: fileHook{
				path:   "/rb.log",
				levels: logrus.AllLevels[:5],
			},
		},
		{
			line: "file=rb.log,level=debug",
			err:  false,
			res: fileHook{
				path:   "/rb.log",
				levels: logrus.AllLevels[:6],
			},
		},
		{
			line: "file=/a/c/",
			err:  true,
		},
		{
			line:       "file=,level=info",
			err:        true,
			errMessage: "error while parsing logfile configuration key `file=` with no value",
		},
		{
			line: "file=/tmp/rb.log,level=tea",
			err:  true,
		},
		{
			line: "file=/tmp/rb.log,unknown",
			err:  true,
		},
		{
			line: "file=/tmp/rb.log,level=",
			err:  true,
		},
		{
			line: "file=/tmp/rb.log,level=,",
			err:  true,
		},
		{
			line:       "file=/tmp/rb.log,unknown=something",
			err:        true,
			errMessage: "unknown logfile config key unknown",
		},
		{
			line:       "unknown=something",
			err:        true,
			errMessage: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`",
		},
	}

	for i := range tests {
		test := &tests[i]
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			getCwd := func() (string, error) {
				return "/", nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			res, err := FileHookFromConfigLine(
				ctx, afero.NewMemMapFs(), getCwd, logrus.New(), test.line, make(chan struct{}),
			)

			if test.err {
				require.Error(t, err)

				if test.errMessage != "" {
					require.Equal(t, test.errMessage, err.Error())
				}

				return
			}

			require.NoError(t, err)
			hook, ok := res.(*fileHook)
			require.True(t, ok)
			assert.NotNil(t, hook.w)
			assert.Equal(t, test.res.path, hook.path)
			assert.Equal(t, test.res.levels, hook.levels)
		})
	}
}

func TestFileHookFlushesOnDone(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/logs", 0o755))
	getCwd := func() (string, error) { return "/logs", nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	hook, err := FileHookFromConfigLine(ctx, fs, getCwd, logrus.New(), "file=rb.log,level=info", done)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	logger.AddHook(hook)

	logger.Info(`-> {"id":1,"method":"Page.navigate"}`)
	logger.Debug("below the hook level")

	b, err := afero.ReadFile(fs, "/logs/rb.log")
	require.NoError(t, err)
	assert.Empty(t, b, "entries are buffered until the run is over")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("the hook didn't close the file")
	}
	logger.Info("after close")

	b, err = afero.ReadFile(fs, "/logs/rb.log")
	require.NoError(t, err)
	assert.Contains(t, string(b), "Page.navigate")
	assert.NotContains(t, string(b), "below the hook level")
	assert.NotContains(t, string(b), "after close")
}

type failingCloser struct {
	io.Writer
}

func (failingCloser) Close() error { return errors.New("disk gone") }

func TestFileHookCloseErrors(t *testing.T) {
	t.Parallel()

	fallback, hook := logtest.NewNullLogger()
	var buf bytes.Buffer
	h := &fileHook{
		fallbackLogger: fallback,
		w:              failingCloser{&buf},
		bw:             bufio.NewWriter(&buf),
		levels:         logrus.AllLevels,
	}
	h.close()
	h.close()

	require.Len(t, hook.AllEntries(), 1)
	assert.Contains(t, hook.LastEntry().Message, "disk gone")
}
