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
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/remotebrowser/browser"
	"github.com/liuxd6825/remotebrowser/cmd/state"
)

// version is overridden at build time with -ldflags.
var version = "0.1.0" //nolint:gochecknoglobals

// fullVersion returns the version with the commit it was built from, when
// the build info records one.
func fullVersion() string {
	v := fmt.Sprintf("v%s", version)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 8 {
				v += "-" + s.Value[:8]
			}
		}
	}
	return fmt.Sprintf("%s (%s, %s/%s)", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func getCmdVersion(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(gs.Stdout, "remotebrowser %s\n", fullVersion())
			return err
		},
	}
}

func getCmdBrowsers(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "browsers",
		Short: "List the browser families that can be launched or attached to",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			name := color.New(color.FgCyan)
			var sb strings.Builder
			for _, n := range browser.Types() {
				bt, err := browser.Lookup(n)
				if err != nil {
					return err
				}
				path := bt.ExecutablePath()
				if path == "" {
					path = "not found"
				}
				fmt.Fprintf(&sb, "%s\t%s\n", name.Sprint(n), path)
			}
			_, err := fmt.Fprint(gs.Stdout, sb.String())
			return err
		},
	}
}
