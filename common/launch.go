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
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
)

// LaunchOptions stores browser launch and connect options.
type LaunchOptions struct {
	Args              []string
	Debug             bool
	Env               map[string]string
	ExecutablePath    string
	Headless          bool
	Host              string
	IgnoreDefaultArgs []string
	LogCategoryFilter string
	// Port is the remote debugging port, the browser default if 0.
	Port        int
	UserDataDir string

	// ConnectAttempts and ConnectInterval bound the discovery and connect
	// polling done while the browser starts up.
	ConnectAttempts int
	ConnectInterval time.Duration
	Timeout         time.Duration
}

// NewLaunchOptions returns the default launch options.
func NewLaunchOptions() *LaunchOptions {
	return &LaunchOptions{
		Env:               make(map[string]string),
		Headless:          true,
		Host:              DefaultHost,
		LogCategoryFilter: ".*",
		ConnectAttempts:   DefaultConnectAttempts,
		ConnectInterval:   DefaultConnectInterval,
		Timeout:           DefaultTimeout,
	}
}

// LaunchConfig is a partial set of launch options read from a config
// source. Unset fields leave the options they are applied to unchanged.
type LaunchConfig struct {
	Args              []string          `envconfig:"RB_ARGS"`
	Debug             null.Bool         `envconfig:"RB_DEBUG"`
	Env               map[string]string `envconfig:"RB_ENV"`
	ExecutablePath    null.String       `envconfig:"RB_EXECUTABLE_PATH"`
	Headless          null.Bool         `envconfig:"RB_HEADLESS"`
	Host              null.String       `envconfig:"RB_HOST"`
	IgnoreDefaultArgs []string          `envconfig:"RB_IGNORE_DEFAULT_ARGS"`
	LogCategoryFilter null.String       `envconfig:"RB_LOG_CATEGORY_FILTER"`
	Port              null.Int          `envconfig:"RB_PORT"`
	UserDataDir       null.String       `envconfig:"RB_USER_DATA_DIR"`
	ConnectAttempts   null.Int          `envconfig:"RB_CONNECT_ATTEMPTS"`
	ConnectInterval   null.String       `envconfig:"RB_CONNECT_INTERVAL"`
	Timeout           null.String       `envconfig:"RB_TIMEOUT"`
}

// LaunchConfigFromEnv reads a launch config from RB_* variables through
// lookup.
func LaunchConfigFromEnv(lookup func(string) (string, bool)) (LaunchConfig, error) {
	var c LaunchConfig
	if err := envconfig.Process("", &c, lookup); err != nil {
		return LaunchConfig{}, fmt.Errorf("reading launch options from environment: %w", err)
	}
	return c, nil
}

// launchFile mirrors LaunchConfig in the YAML config file.
type launchFile struct {
	Args              []string          `yaml:"args"`
	Debug             *bool             `yaml:"debug"`
	Env               map[string]string `yaml:"env"`
	ExecutablePath    *string           `yaml:"executablePath"`
	Headless          *bool             `yaml:"headless"`
	Host              *string           `yaml:"host"`
	IgnoreDefaultArgs []string          `yaml:"ignoreDefaultArgs"`
	LogCategoryFilter *string           `yaml:"logCategoryFilter"`
	Port              *int64            `yaml:"port"`
	UserDataDir       *string           `yaml:"userDataDir"`
	ConnectAttempts   *int64            `yaml:"connectAttempts"`
	ConnectInterval   *string           `yaml:"connectInterval"`
	Timeout           *string           `yaml:"timeout"`
}

// LoadLaunchConfigFile reads a launch config from a YAML file on fs.
func LoadLaunchConfigFile(fs afero.Fs, path string) (LaunchConfig, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return LaunchConfig{}, fmt.Errorf("reading launch options file: %w", err)
	}
	var f launchFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return LaunchConfig{}, fmt.Errorf("parsing launch options file %q: %w", path, err)
	}

	return LaunchConfig{
		Args:              f.Args,
		Debug:             null.BoolFromPtr(f.Debug),
		Env:               f.Env,
		ExecutablePath:    null.StringFromPtr(f.ExecutablePath),
		Headless:          null.BoolFromPtr(f.Headless),
		Host:              null.StringFromPtr(f.Host),
		IgnoreDefaultArgs: f.IgnoreDefaultArgs,
		LogCategoryFilter: null.StringFromPtr(f.LogCategoryFilter),
		Port:              null.IntFromPtr(f.Port),
		UserDataDir:       null.StringFromPtr(f.UserDataDir),
		ConnectAttempts:   null.IntFromPtr(f.ConnectAttempts),
		ConnectInterval:   null.StringFromPtr(f.ConnectInterval),
		Timeout:           null.StringFromPtr(f.Timeout),
	}, nil
}

// Apply overrides the options with every field set in c.
//
//nolint:cyclop
func (l *LaunchOptions) Apply(c LaunchConfig) error {
	if c.Args != nil {
		l.Args = c.Args
	}
	if c.Debug.Valid {
		l.Debug = c.Debug.Bool
	}
	for k, v := range c.Env {
		if l.Env == nil {
			l.Env = make(map[string]string)
		}
		l.Env[k] = v
	}
	if c.ExecutablePath.Valid {
		l.ExecutablePath = c.ExecutablePath.String
	}
	if c.Headless.Valid {
		l.Headless = c.Headless.Bool
	}
	if c.Host.Valid {
		l.Host = c.Host.String
	}
	if c.IgnoreDefaultArgs != nil {
		l.IgnoreDefaultArgs = c.IgnoreDefaultArgs
	}
	if c.LogCategoryFilter.Valid {
		l.LogCategoryFilter = c.LogCategoryFilter.String
	}
	if c.Port.Valid {
		if c.Port.Int64 < 0 || c.Port.Int64 > 65535 {
			return fmt.Errorf("invalid remote debugging port %d", c.Port.Int64)
		}
		l.Port = int(c.Port.Int64)
	}
	if c.UserDataDir.Valid {
		l.UserDataDir = c.UserDataDir.String
	}
	if c.ConnectAttempts.Valid {
		if c.ConnectAttempts.Int64 <= 0 {
			return fmt.Errorf("connect attempts should be positive, got %d", c.ConnectAttempts.Int64)
		}
		l.ConnectAttempts = int(c.ConnectAttempts.Int64)
	}
	if c.ConnectInterval.Valid {
		d, err := time.ParseDuration(c.ConnectInterval.String)
		if err != nil {
			return fmt.Errorf("parsing connect interval: %w", err)
		}
		l.ConnectInterval = d
	}
	if c.Timeout.Valid {
		d, err := time.ParseDuration(c.Timeout.String)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		l.Timeout = d
	}

	return nil
}

// EnvList returns Env in the KEY=value form exec.Cmd expects.
func (l *LaunchOptions) EnvList() []string {
	envs := make([]string, 0, len(l.Env))
	for k, v := range l.Env {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}
