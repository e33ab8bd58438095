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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/remotebrowser/cmd/state"
	"github.com/liuxd6825/remotebrowser/common"
)

type cmdEval struct {
	gs *state.GlobalState

	url string
}

func (c *cmdEval) run(cmd *cobra.Command, args []string) (err error) {
	s, err := startSession(c.gs, cmd.Flags())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if c.url != "" {
		if _, err := s.page.Navigate(s.ctx, c.url); err != nil {
			return classify(err)
		}
	}
	v, err := s.page.Evaluate(s.ctx, args[0])
	if err != nil {
		return classify(err)
	}

	// JSON cannot carry NaN, the infinities, -0 or BigInts; those print
	// in their JavaScript spelling.
	lit, err := common.SerializeArgument(v)
	if err != nil {
		return fmt.Errorf("encoding %T result: %w", v, err)
	}
	_, err = fmt.Fprintln(c.gs.Stdout, lit.JSLiteral())
	return err
}

func (c *cmdEval) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(&c.url, "url", "", "navigate to this URL before evaluating")
	return flags
}

func getCmdEval(gs *state.GlobalState) *cobra.Command {
	c := &cmdEval{gs: gs}

	evalCmd := &cobra.Command{
		Use:   "eval [flags] <expression>",
		Short: "Evaluate a script expression in a browser page",
		Long: `Evaluate a script expression in the initial page of a launched or
attached browser and print its value as JSON.`,
		Example: `
  # Print the title of a page.
  remotebrowser eval --url https://example.com document.title

  # Use an already running Firefox.
  remotebrowser eval --browser firefox --connect --port 6000 navigator.userAgent`[1:],
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}
	evalCmd.Flags().SortFlags = false
	evalCmd.Flags().AddFlagSet(c.flagSet())
	evalCmd.Flags().AddFlagSet(launchFlagSet())

	return evalCmd
}
