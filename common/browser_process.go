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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/remotebrowser/log"
)

// OutputFunc receives every line the browser prints, tagged with the
// stream name ("stdout" or "stderr"). It runs on a draining goroutine.
type OutputFunc func(stream, line string)

// BrowserProcess supervises a browser executable.
type BrowserProcess struct {
	cmd    *exec.Cmd
	logger *log.Logger

	stdout io.ReadCloser
	stderr io.ReadCloser

	done    chan struct{}
	waitErr error

	terminateOnce sync.Once
	terminateErr  error
}

// LaunchBrowserProcess starts the executable at path and drains its
// output. onOutput may be nil.
func LaunchBrowserProcess(
	ctx context.Context, path string, args, env []string, logger *log.Logger, onOutput OutputFunc,
) (*BrowserProcess, error) {
	if path == "" {
		return nil, errors.New("launching browser: executable not found")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	cmd := exec.Command(path, args...) //nolint:gosec
	killAfterParent(cmd)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping browser stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("piping browser stderr: %w", err)
	}

	logger.Debugf("BrowserProcess:Launch", "%s %q", path, args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting browser executable %q: %w", path, err)
	}

	p := &BrowserProcess{
		cmd:    cmd,
		logger: logger,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}

	var g errgroup.Group
	g.Go(func() error { return p.drain("stdout", stdout, onOutput) })
	g.Go(func() error { return p.drain("stderr", stderr, onOutput) })
	go func() {
		// Output has to be consumed before Wait closes the pipes.
		if err := g.Wait(); err != nil {
			logger.Debugf("BrowserProcess:drain", "pid:%d: %v", p.Pid(), err)
		}
		p.waitErr = cmd.Wait()
		logger.Debugf("BrowserProcess:exit", "pid:%d state:%v", p.Pid(), cmd.ProcessState)
		close(p.done)
	}()

	return p, nil
}

func (p *BrowserProcess) drain(stream string, r io.Reader, onOutput OutputFunc) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		p.logger.Debugf("BrowserProcess:"+stream, "pid:%d %s", p.Pid(), line)
		if onOutput != nil {
			onOutput(stream, line)
		}
	}
	if err := s.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("reading %s: %w", stream, err)
	}
	return nil
}

// Pid returns the process id of the browser.
func (p *BrowserProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the browser process has exited.
func (p *BrowserProcess) Done() <-chan struct{} {
	return p.done
}

// Terminate kills the browser and waits for it to exit. Only the first
// call does anything.
func (p *BrowserProcess) Terminate() error {
	p.terminateOnce.Do(func() {
		select {
		case <-p.done:
			// already gone
			return
		default:
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.terminateErr = fmt.Errorf("killing browser process %d: %w", p.Pid(), err)
		}
		// Children of the browser may hold the write ends open.
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		<-p.done
	})

	return p.terminateErr
}

// ExitErr returns the error cmd.Wait reported once Done is closed.
func (p *BrowserProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}
