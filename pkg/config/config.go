// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides basic infrastructure to set configuration settings
// for kmutex. Each setting is tagged with the command line flag that sets it
// and the key that sets it in a TOML configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"gvisor.dev/kmutex/pkg/log"
)

// Config holds configuration that is not part of the simulated programs
// themselves.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add field tags with the flag name and the TOML and YAML keys.
//  3. Register the flag in flags.go, in RegisterFlags.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the path of an optional TOML or YAML file overlaid on
	// the flag defaults. Flags set explicitly on the command line take precedence.
	ConfigFile string `flag:"config" toml:"-" yaml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log" yaml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log-format" yaml:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug" yaml:"debug"`

	// Strategy is how the kernel reaches mutex state in user memory.
	Strategy Strategy `flag:"strategy" toml:"strategy" yaml:"strategy"`

	// StagingBuffers bounds the number of staging copies outstanding at
	// once. It only applies to the staged strategy.
	StagingBuffers int `flag:"staging-buffers" toml:"staging-buffers" yaml:"staging-buffers"`

	// CPUs is the number of simulated CPUs tasks are assigned to.
	CPUs int `flag:"cpus" toml:"cpus" yaml:"cpus"`

	// ContentionLogEvery is the minimum interval between two contention
	// messages. Zero logs every contention.
	ContentionLogEvery time.Duration `flag:"contention-log-every" toml:"contention-log-every" yaml:"contention-log-every"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", c.LogFormat)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.StagingBuffers < 1 {
		return fmt.Errorf("staging-buffers must be at least 1, got %d", c.StagingBuffers)
	}
	if c.CPUs < 1 {
		return fmt.Errorf("cpus must be at least 1, got %d", c.CPUs)
	}
	if c.ContentionLogEvery < 0 {
		return fmt.Errorf("contention-log-every must not be negative, got %v", c.ContentionLogEvery)
	}
	return nil
}

// Validate checks c for consistency.
func (c *Config) Validate() error {
	return c.validate()
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config: strategy=%s, cpus=%d, staging-buffers=%d", c.Strategy, c.CPUs, c.StagingBuffers)
	if flags := c.ToFlags(); len(flags) > 0 {
		log.Infof("Non-default flags: %s", strings.Join(flags, " "))
	}
	if c.ConfigFile != "" {
		log.Infof("Config file: %s", c.ConfigFile)
	}
}

// Strategy is how the kernel reaches the state of a mutex held in user
// memory.
type Strategy string

const (
	// StrategyLive accesses every field of the mutex in place through the
	// bounds-checked user memory accessor.
	StrategyLive Strategy = "live"

	// StrategyStaged copies the mutex into a kernel staging buffer,
	// mutates the copy and writes it back.
	StrategyStaged Strategy = "staged"
)

// ParseStrategy parses a Strategy from its name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLive, StrategyStaged:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("invalid strategy %q, must be live or staged", s)
	}
}

func strategyPtr(s Strategy) *Strategy {
	return &s
}

// Set implements flag.Value.Set.
func (s *Strategy) Set(v string) error {
	parsed, err := ParseStrategy(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Get implements flag.Getter.Get.
func (s *Strategy) Get() any {
	return *s
}

// String implements flag.Value.String.
func (s *Strategy) String() string {
	if s == nil {
		return ""
	}
	return string(*s)
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText, which the
// TOML decoder uses.
func (s *Strategy) UnmarshalText(text []byte) error {
	return s.Set(string(text))
}
