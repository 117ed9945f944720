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

// Package testutil contains utility functions for kmutex tests.
package testutil

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/log"
)

// pollInterval is the interval between two polls.
const pollInterval = 5 * time.Millisecond

// Logger is a simple logging wrapper.
//
// This is designed to be implemented by *testing.T.
type Logger interface {
	Name() string
	Logf(fmt string, args ...any)
}

// DefaultLogger logs using the log package.
type DefaultLogger string

// Name implements Logger.Name.
func (d DefaultLogger) Name() string {
	return string(d)
}

// Logf implements Logger.Logf.
func (d DefaultLogger) Logf(fmt string, args ...any) {
	log.Infof(string(d)+": "+fmt, args...)
}

// TestConfig returns the default configuration to use in tests, with the
// given strategy.
func TestConfig(t testing.TB, strategy config.Strategy) *config.Config {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(testFlags)
	if err := testFlags.Set("strategy", string(strategy)); err != nil {
		t.Fatalf("setting strategy: %v", err)
	}
	if err := testFlags.Set("debug", "true"); err != nil {
		t.Fatalf("setting debug: %v", err)
	}
	conf, err := config.NewFromFlags(testFlags)
	if err != nil {
		t.Fatalf("config.NewFromFlags: %v", err)
	}
	return conf
}

// Poll is a shorthand function to poll for something with given timeout.
func Poll(cb func() error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return PollContext(ctx, cb)
}

// PollContext is like Poll, but takes a context instead of a timeout.
func PollContext(ctx context.Context, cb func() error) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(pollInterval), ctx)
	return backoff.Retry(cb, b)
}
