// Copyright 2021 The gVisor Authors.
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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestFlags() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newTestFlags())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	want := &Config{
		LogFormat:          "text",
		Strategy:           StrategyLive,
		StagingBuffers:     64,
		CPUs:               4,
		ContentionLogEvery: 100 * time.Millisecond,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newTestFlags()
	for name, val := range map[string]string{
		"debug":           "true",
		"strategy":        "staged",
		"staging-buffers": "3",
		"cpus":            "2",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Fatalf("Flag set %q: %v", name, err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := StrategyStaged; c.Strategy != want {
		t.Errorf("Strategy=%v, want: %v", c.Strategy, want)
	}
	if want := 3; c.StagingBuffers != want {
		t.Errorf("StagingBuffers=%v, want: %v", c.StagingBuffers, want)
	}
	if want := 2; c.CPUs != want {
		t.Errorf("CPUs=%v, want: %v", c.CPUs, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newTestFlags()
	testFlags.Set("debug", "true")
	testFlags.Set("cpus", "4") // Matches default value.
	testFlags.Set("strategy", "staged")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	got := c.ToFlags()
	want := []string{"--debug=true", "--strategy=staged"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidStrategyFlag(t *testing.T) {
	if err := newTestFlags().Set("strategy", "optimistic"); err == nil {
		t.Errorf("setting strategy to an unknown value succeeded")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "log format", modify: func(c *Config) { c.LogFormat = "xml" }},
		{name: "strategy", modify: func(c *Config) { c.Strategy = "optimistic" }},
		{name: "staging buffers", modify: func(c *Config) { c.StagingBuffers = 0 }},
		{name: "cpus", modify: func(c *Config) { c.CPUs = 0 }},
		{name: "contention interval", modify: func(c *Config) { c.ContentionLogEvery = -time.Second }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewFromFlags(newTestFlags())
			if err != nil {
				t.Fatal(err)
			}
			tc.modify(c)
			if err := c.Validate(); err == nil {
				t.Errorf("Validate() succeeded, want error")
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmutex.toml")
	contents := strings.Join([]string{
		`strategy = "staged"`,
		`staging-buffers = 8`,
		`cpus = 16`,
		`contention-log-every = "1s"`,
		`debug = true`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := newTestFlags()
	testFlags.Set("config", path)
	// Explicit flags override the file.
	testFlags.Set("cpus", "2")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:         path,
		LogFormat:          "text",
		Debug:              true,
		Strategy:           StrategyStaged,
		StagingBuffers:     8,
		CPUs:               2,
		ContentionLogEvery: time.Second,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmutex.toml")
	if err := os.WriteFile(path, []byte(`strategy = "optimistic"`), 0644); err != nil {
		t.Fatal(err)
	}
	testFlags := newTestFlags()
	testFlags.Set("config", path)
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags succeeded with an invalid strategy in the file")
	}
}

func TestConfigFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmutex.yaml")
	contents := strings.Join([]string{
		`strategy: staged`,
		`staging-buffers: 3`,
		`log-format: json`,
		`contention-log-every: 250ms`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	testFlags := newTestFlags()
	testFlags.Set("config", path)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:         path,
		LogFormat:          "json",
		Strategy:           StrategyStaged,
		StagingBuffers:     3,
		CPUs:               4,
		ContentionLogEvery: 250 * time.Millisecond,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileUnknownKey(t *testing.T) {
	for name, contents := range map[string]string{
		"kmutex.toml": `spin-limit = 3`,
		"kmutex.yml":  `spin-limit: 3`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
				t.Fatal(err)
			}
			testFlags := newTestFlags()
			testFlags.Set("config", path)
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags succeeded with an unknown key")
			}
		})
	}
}
