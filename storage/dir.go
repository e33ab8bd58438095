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

// Package storage holds the transient directories and files a browser run
// leaves behind: profiles, user data directories and screenshots.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const profilePrefix = "remotebrowser-profile-"

// Dir manages a temporary profile or user data directory.
// A directory supplied by the caller is never removed.
type Dir struct {
	// Fs is the filesystem the directory lives on, the OS one if nil.
	Fs afero.Fs

	Dir string // path to the directory

	mu        sync.Mutex
	remove    bool // whether to remove the directory on cleanup
	cleanedUp bool
}

func (d *Dir) fs() afero.Fs {
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	return d.Fs
}

// Make creates a new temporary directory in tmpDir, and stores the path to
// the directory in the Dir field. When dir is not empty it is used as is
// and left in place on cleanup.
func (d *Dir) Make(tmpDir, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	var err error
	if d.Dir, err = afero.TempDir(d.fs(), tmpDir, profilePrefix); err != nil {
		return fmt.Errorf("making temporary directory in %q: %w", tmpDir, err)
	}
	d.remove = true

	return nil
}

// WriteFile writes data to name inside the directory.
func (d *Dir) WriteFile(name string, data []byte) error {
	if d.Dir == "" {
		return fmt.Errorf("writing %q: directory was not made", name)
	}
	p := filepath.Join(d.Dir, name)
	if err := afero.WriteFile(d.fs(), p, data, 0o600); err != nil {
		return fmt.Errorf("writing %q: %w", p, err)
	}
	return nil
}

// Cleanup removes the temporary directory if it was made by Make. It is
// safe to call more than once.
func (d *Dir) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.remove || d.cleanedUp {
		return nil
	}
	d.cleanedUp = true
	if err := d.fs().RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing %q: %w", d.Dir, err)
	}
	return nil
}
