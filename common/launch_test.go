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
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := NewLaunchOptions()
	assert.True(t, opts.Headless)
	assert.Equal(t, DefaultHost, opts.Host)
	assert.Equal(t, DefaultConnectAttempts, opts.ConnectAttempts)
	assert.Equal(t, DefaultConnectInterval, opts.ConnectInterval)
	assert.Equal(t, ".*", opts.LogCategoryFilter)
}

func TestLaunchConfigFromEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"RB_HEADLESS":         "false",
		"RB_PORT":             "9333",
		"RB_ARGS":             "no-sandbox,window-size=1280x720",
		"RB_CONNECT_INTERVAL": "250ms",
		"RB_EXECUTABLE_PATH":  "/opt/chrome/chrome",
	}
	c, err := LaunchConfigFromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)

	opts := NewLaunchOptions()
	require.NoError(t, opts.Apply(c))
	assert.False(t, opts.Headless)
	assert.Equal(t, 9333, opts.Port)
	assert.Equal(t, []string{"no-sandbox", "window-size=1280x720"}, opts.Args)
	assert.Equal(t, 250*time.Millisecond, opts.ConnectInterval)
	assert.Equal(t, "/opt/chrome/chrome", opts.ExecutablePath)
	// untouched by the config
	assert.Equal(t, DefaultConnectAttempts, opts.ConnectAttempts)
	assert.Equal(t, DefaultTimeout, opts.Timeout)
}

func TestLaunchConfigFromEnvInvalid(t *testing.T) {
	t.Parallel()

	_, err := LaunchConfigFromEnv(func(key string) (string, bool) {
		if key == "RB_PORT" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestLoadLaunchConfigFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/rb.yaml", []byte(`
headless: false
host: 10.0.0.5
port: 6000
connectAttempts: 10
timeout: 1m
args:
  - -private
env:
  MOZ_LOG: timestamp
`), 0o600))

	c, err := LoadLaunchConfigFile(fs, "/etc/rb.yaml")
	require.NoError(t, err)

	opts := NewLaunchOptions()
	require.NoError(t, opts.Apply(c))
	assert.False(t, opts.Headless)
	assert.Equal(t, "10.0.0.5", opts.Host)
	assert.Equal(t, 6000, opts.Port)
	assert.Equal(t, 10, opts.ConnectAttempts)
	assert.Equal(t, time.Minute, opts.Timeout)
	assert.Equal(t, []string{"-private"}, opts.Args)
	assert.Equal(t, []string{"MOZ_LOG=timestamp"}, opts.EnvList())
	assert.Equal(t, DefaultConnectInterval, opts.ConnectInterval)

	_, err = LoadLaunchConfigFile(fs, "/missing.yaml")
	require.Error(t, err)
}

func TestLaunchOptionsApplyInvalid(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	for name, content := range map[string]string{
		"port":     "port: 70000",
		"attempts": "connectAttempts: 0",
		"interval": "connectInterval: often",
		"timeout":  "timeout: 5 parsecs",
	} {
		path := "/" + name + ".yaml"
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o600))
		c, err := LoadLaunchConfigFile(fs, path)
		require.NoError(t, err, name)
		require.Error(t, NewLaunchOptions().Apply(c), name)
	}
}
