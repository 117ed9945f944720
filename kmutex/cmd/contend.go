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

// Package cmd holds implementations of the kmutex commands.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/kmutex/cmd/util"
	"gvisor.dev/kmutex/kmutex/ulib"
	"gvisor.dev/kmutex/pkg/config"
	kcontext "gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/usermem"
)

// Contend implements subcommands.Command for the "contend" command.
type Contend struct {
	tasks      int
	iterations int
	unlocked   bool
	timeout    time.Duration
}

// Name implements subcommands.Command.Name.
func (*Contend) Name() string {
	return "contend"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Contend) Synopsis() string {
	return "runs tasks that increment a shared counter under a mutex"
}

// Usage implements subcommands.Command.Usage.
func (*Contend) Usage() string {
	return `contend [flags] - start N tasks that each increment a shared counter M
times while holding the same mutex, then print the counter and mutex stats.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Contend) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.tasks, "tasks", 4, "number of tasks to start.")
	f.IntVar(&c.iterations, "iterations", 1000, "number of increments per task.")
	f.BoolVar(&c.unlocked, "unlocked", false, "increment without taking the mutex, to show lost updates.")
	f.DurationVar(&c.timeout, "timeout", time.Minute, "how long to wait for tasks to finish.")
}

// Execute implements subcommands.Command.Execute.
func (c *Contend) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if c.tasks < 1 || c.iterations < 0 {
		util.Fatalf("-tasks must be positive and -iterations non-negative")
	}
	conf := args[0].(*config.Config)

	l, err := boot.New(boot.Args{Conf: conf})
	if err != nil {
		util.Fatalf("creating loader: %v", err)
	}
	img, err := boot.NewImage(kcontext.Background(), 1)
	if err != nil {
		util.Fatalf("creating image: %v", err)
	}

	start := time.Now()
	prog := incrementer(img.Mutex(0), img.Counter(0), c.iterations, !c.unlocked)
	tasks := make([]*kernel.Task, 0, c.tasks)
	for i := 0; i < c.tasks; i++ {
		t, err := l.StartTask(fmt.Sprintf("contend-%d", i), img, prog)
		if err != nil {
			util.Fatalf("%v", err)
		}
		tasks = append(tasks, t)
	}
	if err := waitTasks(ctx, tasks, c.timeout); err != nil {
		util.Fatalf("%v", err)
	}

	got, err := img.ReadCounter(kcontext.Background(), 0)
	if err != nil {
		util.Fatalf("reading counter: %v", err)
	}
	want := uint32(c.tasks * c.iterations)
	s := l.Kernel().UMutex().Stats()
	util.Infof("strategy=%s cpus=%d tasks=%d iterations=%d elapsed=%v", conf.Strategy, l.Kernel().ApplicationCores(), c.tasks, c.iterations, time.Since(start))
	util.Infof("counter=%d want=%d", got, want)
	util.Infof("acquires=%d releases=%d contentions=%d wakeups=%d interrupted=%d", s.Acquires, s.Releases, s.Contentions, s.Wakeups, s.Interrupted)
	if got != want && !c.unlocked {
		util.Fatalf("lost updates: counter is %d, want %d", got, want)
	}
	return subcommands.ExitSuccess
}

// incrementer returns a program that increments the counter at counter n
// times, holding the mutex at m around each increment if locked is set. The
// load and the store are separate accesses.
func incrementer(m, counter hostarch.Addr, n int, locked bool) kernel.Program {
	return func(t *kernel.Task) error {
		for i := 0; i < n; i++ {
			if locked {
				if err := ulib.Error(ulib.Macquire(t, m)); err != nil {
					return fmt.Errorf("macquire: %w", err)
				}
			}
			v, err := t.MemoryManager().LoadUint32(t, counter, usermem.IOOpts{})
			if err != nil {
				return err
			}
			if err := t.MemoryManager().StoreUint32(t, counter, v+1, usermem.IOOpts{}); err != nil {
				return err
			}
			if locked {
				if err := ulib.Error(ulib.Mrelease(t, m)); err != nil {
					return fmt.Errorf("mrelease: %w", err)
				}
			}
		}
		return nil
	}
}

// waitTasks waits for every task to exit and returns the first program
// error.
func waitTasks(ctx context.Context, tasks []*kernel.Task, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			select {
			case <-t.Exited():
			case <-ctx.Done():
				return fmt.Errorf("task %d (%s): %w", t.ThreadID(), t.Name(), ctx.Err())
			}
			return t.ExitError()
		})
	}
	return g.Wait()
}
