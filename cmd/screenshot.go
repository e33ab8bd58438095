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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/remotebrowser/cmd/state"
	"github.com/liuxd6825/remotebrowser/common"
	"github.com/liuxd6825/remotebrowser/storage"
)

type cmdScreenshot struct {
	gs *state.GlobalState

	url      string
	out      string
	format   string
	quality  int
	fullPage bool
}

func (c *cmdScreenshot) options(flags *pflag.FlagSet) (*common.ScreenshotOptions, error) {
	opts := common.NewScreenshotOptions()
	opts.FullPage = c.fullPage
	switch {
	case flags.Changed("format"):
		opts.Format = common.ImageFormat(c.format)
	case filepath.Ext(c.out) == ".png":
		opts.Format = common.ImageFormatPNG
	}
	if flags.Changed("quality") {
		opts.Quality = null.IntFrom(int64(c.quality))
	}
	if err := opts.Validate(); err != nil {
		return nil, withExitCode(err, invalidConfig)
	}
	return opts, nil
}

func (c *cmdScreenshot) run(cmd *cobra.Command, _ []string) (err error) {
	opts, err := c.options(cmd.Flags())
	if err != nil {
		return err
	}

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
	buf, err := s.page.Screenshot(s.ctx, opts)
	if err != nil {
		return classify(err)
	}

	persister := &storage.LocalFilePersister{Fs: c.gs.FS}
	if err := persister.Persist(s.ctx, c.out, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("saving screenshot: %w", err)
	}
	c.gs.Logger.Infof("Saved a %s screenshot of %d bytes to %s", opts.Format, len(buf), c.out)

	return nil
}

func (c *cmdScreenshot) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVar(&c.url, "url", "", "navigate to this URL before capturing")
	flags.StringVarP(&c.out, "out", "o", "screenshot.jpeg", "file to write the image to")
	flags.StringVar(&c.format, "format", string(common.ImageFormatJPEG),
		"image format, jpeg or png; a .png --out implies png")
	flags.IntVar(&c.quality, "quality", common.DefaultScreenshotQuality, "jpeg quality between 0 and 100")
	flags.BoolVar(&c.fullPage, "full-page", false, "capture the whole scrollable page")
	return flags
}

func getCmdScreenshot(gs *state.GlobalState) *cobra.Command {
	c := &cmdScreenshot{gs: gs}

	screenshotCmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture a browser page as an image",
		Example: `
  remotebrowser screenshot --url https://example.com -o example.png --full-page`[1:],
		Args: cobra.NoArgs,
		RunE: c.run,
	}
	screenshotCmd.Flags().SortFlags = false
	screenshotCmd.Flags().AddFlagSet(c.flagSet())
	screenshotCmd.Flags().AddFlagSet(launchFlagSet())

	return screenshotCmd
}
