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
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/browser"
	"github.com/liuxd6825/remotebrowser/cmd/state"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/log"
)

type testState struct {
	*state.GlobalState

	cancel context.CancelFunc
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestState(t *testing.T, args ...string) *testState {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var (
		stdout, stderr = new(bytes.Buffer), new(bytes.Buffer)
		outMutex       = &sync.Mutex{}
		defaultFlags   = state.GetDefaultGlobalOptions("/.config")
		logger         = logrus.New()
	)
	logger.SetOutput(stderr)
	logger.SetLevel(logrus.InfoLevel)

	gs := &state.GlobalState{
		Ctx:          ctx,
		CmdArgs:      append([]string{"remotebrowser"}, args...),
		FS:           afero.NewMemMapFs(),
		Getwd:        func() (string, error) { return "/test", nil },
		Env:          map[string]string{},
		Stdout:       &state.ConsoleWriter{Writer: stdout, Mutex: outMutex},
		Stderr:       &state.ConsoleWriter{Writer: stderr, Mutex: outMutex},
		DefaultFlags: defaultFlags,
		Flags:        defaultFlags,
		Logger:       logger,
		FallbackLogger: &logrus.Logger{
			Out:       stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
	}

	return &testState{GlobalState: gs, cancel: cancel, stdout: stdout, stderr: stderr}
}

func (ts *testState) run() int {
	return run(ts.GlobalState, ts.cancel)
}

// fakeType is a browser type whose pages answer from canned values.
type fakeType struct {
	name string

	value   any
	evalErr error
	navErr  error
	shot    []byte

	mu          sync.Mutex
	launched    []*common.LaunchOptions
	connected   []*common.LaunchOptions
	navigated   []string
	evaluated   []string
	screenshots []*common.ScreenshotOptions
	closed      atomic.Int32
}

// registerFake registers a fake browser type under a name unique to the
// test.
func registerFake(t *testing.T) *fakeType {
	t.Helper()

	name := "fake-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	ft := &fakeType{name: name, shot: []byte("image")}
	browser.Register(name, ft)
	return ft
}

func (f *fakeType) Name() string           { return f.name }
func (f *fakeType) ExecutablePath() string { return "" }

func (f *fakeType) Launch(
	_ context.Context, opts *common.LaunchOptions, _ *log.Logger,
) (api.Browser, api.Page, error) {
	f.mu.Lock()
	f.launched = append(f.launched, opts)
	f.mu.Unlock()
	return &fakeBrowser{t: f}, &fakePage{t: f}, nil
}

func (f *fakeType) Connect(
	_ context.Context, opts *common.LaunchOptions, _ *log.Logger,
) (api.Browser, api.Page, error) {
	f.mu.Lock()
	f.connected = append(f.connected, opts)
	f.mu.Unlock()
	return &fakeBrowser{t: f}, &fakePage{t: f}, nil
}

type fakeBrowser struct {
	api.Browser
	t *fakeType
}

func (b *fakeBrowser) Name() string { return b.t.name }

func (b *fakeBrowser) Close() error {
	b.t.closed.Add(1)
	return nil
}

type fakePage struct {
	api.Page
	t *fakeType
}

func (p *fakePage) Navigate(_ context.Context, url string) (string, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.t.navigated = append(p.t.navigated, url)
	return url, p.t.navErr
}

func (p *fakePage) Evaluate(_ context.Context, expression string) (any, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.t.evaluated = append(p.t.evaluated, expression)
	return p.t.value, p.t.evalErr
}

func (p *fakePage) Screenshot(_ context.Context, opts *common.ScreenshotOptions) ([]byte, error) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	p.t.screenshots = append(p.t.screenshots, opts)
	return p.t.shot, nil
}

func writeFile(t *testing.T, fs afero.Fs, path, data string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(data), 0o644))
}
