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

// Package cmd implements the remotebrowser command line: small commands
// that launch or attach to a browser, run one operation and exit.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	stdlog "log"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/remotebrowser/cmd/state"
	"github.com/liuxd6825/remotebrowser/log"
)

const waitLoggerCloseTimeout = time.Second * 5

// rootCommand is the base command when called without any subcommands.
type rootCommand struct {
	globalState *state.GlobalState

	cmd            *cobra.Command
	loggerStopped  <-chan struct{}
	loggerIsRemote bool
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{globalState: gs}

	rootCmd := &cobra.Command{
		Use:               "remotebrowser",
		Short:             "drive Chrome and Firefox through their remote debugging protocols",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	rootCmd.PersistentFlags().AddFlagSet(rootCmdPersistentFlagSet(gs))
	rootCmd.SetArgs(gs.CmdArgs[1:])
	rootCmd.SetOut(gs.Stdout)
	rootCmd.SetErr(gs.Stderr)
	rootCmd.SetIn(strings.NewReader(""))

	rootCmd.AddCommand(
		getCmdEval(gs),
		getCmdScreenshot(gs),
		getCmdBrowsers(gs),
		getCmdVersion(gs),
	)
	c.cmd = rootCmd

	return c
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	var err error

	c.loggerStopped, err = c.setupLoggers()
	if err != nil {
		return err
	}
	select {
	case <-c.loggerStopped:
	default:
		c.loggerIsRemote = true
	}

	stdlog.SetOutput(c.globalState.Logger.Writer())
	c.globalState.Logger.Debugf("remotebrowser version: v%s", version)
	return nil
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	gs := state.NewGlobalState(ctx)
	os.Exit(run(gs, cancel))
}

// run executes the command line of gs and returns the process exit code.
func run(gs *state.GlobalState, cancel context.CancelFunc) int {
	c := newRootCommand(gs)
	defer c.waitLoggerClose(cancel)

	if err := c.cmd.Execute(); err != nil {
		exitCode := genericFailure
		var ecerr *exitCodeError
		if errors.As(err, &ecerr) {
			exitCode = ecerr.code
		}
		gs.Logger.Error(err)
		return int(exitCode)
	}
	return 0
}

func (c *rootCommand) waitLoggerClose(cancel context.CancelFunc) {
	cancel()
	if !c.loggerIsRemote {
		return
	}
	select {
	case <-c.loggerStopped:
	case <-time.After(waitLoggerCloseTimeout):
		c.globalState.FallbackLogger.Errorf("the log file hook didn't stop in %s", waitLoggerCloseTimeout)
	}
}

func rootCmdPersistentFlagSet(gs *state.GlobalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)

	flags.BoolVarP(&gs.Flags.Verbose, "verbose", "v", gs.Flags.Verbose, "enable verbose logging")
	flags.BoolVar(&gs.Flags.NoColor, "no-color", gs.Flags.NoColor, "disable colored output")
	flags.StringVar(&gs.Flags.LogOutput, "log-output", gs.Flags.LogOutput,
		"change the output for logs, possible values are stderr,stdout,none,file[=./path.fileformat]")
	flags.Lookup("log-output").DefValue = gs.DefaultFlags.LogOutput
	flags.StringVar(&gs.Flags.LogFormat, "log-format", gs.Flags.LogFormat, "log output format, one of text,json,raw")
	flags.StringVar(&gs.Flags.TracesOutput, "traces-output", gs.Flags.TracesOutput,
		"set the output for operation traces, possible values are none,otel[=host:port|url,proto=grpc|http,header.name=value]")
	flags.Lookup("traces-output").DefValue = gs.DefaultFlags.TracesOutput
	flags.StringVarP(&gs.Flags.ConfigFilePath, "config", "c", gs.Flags.ConfigFilePath, "YAML launch options file")
	flags.Lookup("config").DefValue = gs.DefaultFlags.ConfigFilePath
	must(cobra.MarkFlagFilename(flags, "config"))

	return flags
}

// RawFormatter it does nothing with the message just prints it
type RawFormatter struct{}

// Format renders a single log entry
func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// The returned channel will be closed when the logger has finished flushing
// the log file after the context is done. It is closed right away when the
// logs are not written to a file.
func (c *rootCommand) setupLoggers() (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)

	gs := c.globalState
	if gs.Flags.Verbose {
		gs.Logger.SetLevel(logrus.DebugLevel)
	}
	if gs.Flags.NoColor {
		color.NoColor = true
		gs.Stdout.Writer = colorable.NewNonColorable(gs.Stdout.Writer)
		gs.Stderr.Writer = colorable.NewNonColorable(gs.Stderr.Writer)
	}

	switch line := gs.Flags.LogOutput; {
	case line == "stderr":
		gs.Logger.SetOutput(gs.Stderr)
	case line == "stdout":
		gs.Logger.SetOutput(gs.Stdout)
	case line == "none":
		gs.Logger.SetOutput(io.Discard)
	case strings.HasPrefix(line, "file"):
		ch = make(chan struct{})
		hook, err := log.FileHookFromConfigLine(gs.Ctx, gs.FS, gs.Getwd, gs.FallbackLogger, line, ch)
		if err != nil {
			return nil, err
		}
		gs.Logger.AddHook(hook)
		gs.Logger.SetOutput(io.Discard)
	default:
		return nil, fmt.Errorf("unsupported log output '%s'", line)
	}

	switch gs.Flags.LogFormat {
	case "raw":
		gs.Logger.SetFormatter(&RawFormatter{})
		gs.Logger.Debug("Logger format: RAW")
	case "json":
		gs.Logger.SetFormatter(&logrus.JSONFormatter{})
		gs.Logger.Debug("Logger format: JSON")
	default:
		gs.Logger.SetFormatter(&logrus.TextFormatter{ForceColors: gs.Stderr.IsTTY, DisableColors: gs.Flags.NoColor})
		gs.Logger.Debug("Logger format: TEXT")
	}
	return ch, nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
