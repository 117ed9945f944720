// Copyright 2024 The gVisor Authors.
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

// Package kerneltest provides helpers for tests that run simulated programs
// on an emulated kernel.
package kerneltest

import (
	"fmt"
	"testing"
	"time"

	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/kernel/rendezvous"
	"gvisor.dev/kmutex/pkg/sentry/kernel/umutex"
	"gvisor.dev/kmutex/pkg/test/testutil"
)

// Timeout bounds every wait in tests.
const Timeout = 10 * time.Second

// Strategies lists every mutex strategy, for table tests.
var Strategies = []config.Strategy{config.StrategyLive, config.StrategyStaged}

// Options customize New.
type Options struct {
	// Mutexes is the number of mutexes in the image. Zero means 1.
	Mutexes int

	// StagingBuffers overrides the configured number of staging buffers
	// if positive.
	StagingBuffers int

	// Inheritance is passed to the loader.
	Inheritance umutex.InheritanceStrategy
}

// New returns a loader using strategy and a shared image.
func New(t testing.TB, strategy config.Strategy, opts Options) (*boot.Loader, *boot.Image) {
	t.Helper()
	conf := testutil.TestConfig(t, strategy)
	if opts.StagingBuffers > 0 {
		conf.StagingBuffers = opts.StagingBuffers
	}
	l, err := boot.New(boot.Args{Conf: conf, Inheritance: opts.Inheritance})
	if err != nil {
		t.Fatalf("boot.New: %v", err)
	}
	mutexes := opts.Mutexes
	if mutexes == 0 {
		mutexes = 1
	}
	img, err := boot.NewImage(context.Background(), mutexes)
	if err != nil {
		t.Fatalf("boot.NewImage: %v", err)
	}
	return l, img
}

// StartTask starts prog on a new task sharing img and fails t on error.
func StartTask(t testing.TB, l *boot.Loader, img *boot.Image, name string, prog kernel.Program) *kernel.Task {
	t.Helper()
	task, err := l.StartTask(name, img, prog)
	if err != nil {
		t.Fatalf("StartTask(%q): %v", name, err)
	}
	return task
}

// PollSleepers waits until n tasks sleep on mutex i of img. It may be
// called from a task goroutine.
func PollSleepers(k *kernel.Kernel, img *boot.Image, i, n int) error {
	key := rendezvous.Key{Space: img.MemoryManager(), Addr: img.Mutex(i)}
	return testutil.Poll(func() error {
		if got := k.Rendezvous().Sleepers(key); got != n {
			return fmt.Errorf("%d tasks sleeping on mutex %d, want %d", got, i, n)
		}
		return nil
	}, Timeout)
}

// WaitSleepers is like PollSleepers, but fails t on timeout. It must be
// called from the test goroutine.
func WaitSleepers(t testing.TB, k *kernel.Kernel, img *boot.Image, i, n int) {
	t.Helper()
	if err := PollSleepers(k, img, i, n); err != nil {
		t.Fatal(err)
	}
}

// WaitExited waits until task exits.
func WaitExited(t testing.TB, task *kernel.Task) {
	t.Helper()
	select {
	case <-task.Exited():
	case <-time.After(Timeout):
		t.Fatalf("task %d (%s) did not exit within %v", task.ThreadID(), task.Name(), Timeout)
	}
}
