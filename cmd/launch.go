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
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/remotebrowser/api"
	"github.com/liuxd6825/remotebrowser/browser"
	"github.com/liuxd6825/remotebrowser/cmd/state"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/internal/trace"
	"github.com/liuxd6825/remotebrowser/log"
)

const (
	defaultBrowser        = "chromium"
	tracerShutdownTimeout = 5 * time.Second
)

func launchFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false

	flags.String("browser", defaultBrowser, "browser family to drive, see the browsers command")
	flags.Bool("connect", false, "attach to a browser already listening on --host and --port instead of launching one")
	flags.String("host", common.DefaultHost, "remote debugging host")
	flags.Int("port", 0, "remote debugging port, the browser default if 0")
	flags.Bool("headless", true, "run the launched browser without a window")
	flags.String("executable-path", "", "browser executable to launch")
	flags.StringArray("arg", nil, "extra browser command line argument, can be repeated")
	flags.StringArray("ignore-default-arg", nil, "default browser argument to leave out, can be repeated")
	flags.String("user-data-dir", "", "browser profile directory, kept after the run")
	flags.Duration("timeout", common.DefaultTimeout, "timeout of the whole operation")
	flags.String("log-category-filter", ".*", "regular expression the protocol log categories must match")

	return flags
}

// launchConfigFromFlags returns the launch options the user set on the
// command line. Flags left at their defaults stay unset so that the config
// file and the environment can provide them.
func launchConfigFromFlags(flags *pflag.FlagSet) (common.LaunchConfig, error) {
	var (
		c   common.LaunchConfig
		err error
	)
	getString := func(name string) null.String {
		if err != nil || !flags.Changed(name) {
			return null.String{}
		}
		var v string
		v, err = flags.GetString(name)
		return null.StringFrom(v)
	}

	c.Host = getString("host")
	c.ExecutablePath = getString("executable-path")
	c.UserDataDir = getString("user-data-dir")
	c.LogCategoryFilter = getString("log-category-filter")
	if err != nil {
		return c, err
	}

	if flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return c, err
		}
		c.Port = null.IntFrom(int64(port))
	}
	if flags.Changed("headless") {
		headless, err := flags.GetBool("headless")
		if err != nil {
			return c, err
		}
		c.Headless = null.BoolFrom(headless)
	}
	if flags.Changed("timeout") {
		timeout, err := flags.GetDuration("timeout")
		if err != nil {
			return c, err
		}
		c.Timeout = null.StringFrom(timeout.String())
	}
	if flags.Changed("arg") {
		if c.Args, err = flags.GetStringArray("arg"); err != nil {
			return c, err
		}
	}
	if flags.Changed("ignore-default-arg") {
		if c.IgnoreDefaultArgs, err = flags.GetStringArray("ignore-default-arg"); err != nil {
			return c, err
		}
	}

	return c, nil
}

// getLaunchOptions layers the defaults, the config file, the environment
// and the command line flags, in increasing priority.
func getLaunchOptions(gs *state.GlobalState, flags *pflag.FlagSet) (*common.LaunchOptions, error) {
	opts := common.NewLaunchOptions()

	fileConf, err := readConfigFile(gs)
	if err != nil {
		return nil, err
	}
	envConf, err := common.LaunchConfigFromEnv(gs.LookupEnv)
	if err != nil {
		return nil, err
	}
	flagConf, err := launchConfigFromFlags(flags)
	if err != nil {
		return nil, err
	}

	for _, c := range []common.LaunchConfig{fileConf, envConf, flagConf} {
		if err := opts.Apply(c); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// readConfigFile reads the launch options file. A missing file at the
// default location is not an error.
func readConfigFile(gs *state.GlobalState) (common.LaunchConfig, error) {
	path := gs.Flags.ConfigFilePath
	if path == "" {
		return common.LaunchConfig{}, nil
	}
	exists, err := afero.Exists(gs.FS, path)
	if err != nil {
		return common.LaunchConfig{}, err
	}
	if !exists {
		if path == gs.DefaultFlags.ConfigFilePath {
			return common.LaunchConfig{}, nil
		}
		return common.LaunchConfig{}, fmt.Errorf("config file %q doesn't exist", path)
	}

	gs.Logger.Debugf("Loading launch options from %s", path)
	return common.LoadLaunchConfigFile(gs.FS, path)
}

// session is a browser with its initial page, ready for one command.
type session struct {
	browser api.Browser
	page    api.Page
	ctx     context.Context
	cancel  context.CancelFunc
	tracer  *trace.TracerProvider
	logger  logrus.FieldLogger
}

func (s *session) close() error {
	defer s.cancel()
	err := s.browser.Close()

	ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if terr := s.tracer.Shutdown(ctx); terr != nil {
		s.logger.WithError(terr).Warn("Couldn't flush the traces")
	}
	return err
}

// startSession launches or attaches to the browser the flags select and
// bounds the rest of the command by the configured timeout.
func startSession(gs *state.GlobalState, flags *pflag.FlagSet) (*session, error) {
	opts, err := getLaunchOptions(gs, flags)
	if err != nil {
		return nil, withExitCode(err, invalidConfig)
	}
	name, err := flags.GetString("browser")
	if err != nil {
		return nil, err
	}
	attach, err := flags.GetBool("connect")
	if err != nil {
		return nil, err
	}
	logger, err := protocolLogger(gs, opts)
	if err != nil {
		return nil, withExitCode(err, invalidConfig)
	}

	tp, err := trace.TracerProviderFromConfigLine(gs.Ctx, gs.Flags.TracesOutput)
	if err != nil {
		return nil, withExitCode(err, invalidConfig)
	}

	ctx, cancel := context.WithTimeout(gs.Ctx, opts.Timeout)
	ctx = common.WithTracerProvider(ctx, tp)
	start := browser.Launch
	if attach {
		start = browser.Connect
	}
	began := time.Now()
	b, p, err := start(ctx, name, opts, logger)
	if err != nil {
		cancel()
		_ = tp.Shutdown(context.Background())
		if errors.Is(err, common.ErrUnknownBrowser) {
			return nil, withExitCode(err, invalidConfig)
		}
		return nil, withExitCode(err, launchFailed)
	}
	gs.Logger.Debugf("%s ready in %s", b.Name(), time.Since(began))

	return &session{browser: b, page: p, ctx: ctx, cancel: cancel, tracer: tp, logger: gs.Logger}, nil
}

func protocolLogger(gs *state.GlobalState, opts *common.LaunchOptions) (*log.Logger, error) {
	var filter *regexp.Regexp
	if opts.LogCategoryFilter != "" {
		var err error
		if filter, err = regexp.Compile(opts.LogCategoryFilter); err != nil {
			return nil, fmt.Errorf("parsing log category filter: %w", err)
		}
	}
	return log.New(gs.Logger, opts.Debug, filter), nil
}
