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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/kmutex/cmd/util"
	"gvisor.dev/kmutex/kmutex/ulib"
	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
)

// Nice implements subcommands.Command for the "nice" command.
type Nice struct {
	initial int
}

// Name implements subcommands.Command.Name.
func (*Nice) Name() string {
	return "nice"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Nice) Synopsis() string {
	return "applies nice increments to a task and prints its niceness"
}

// Usage implements subcommands.Command.Usage.
func (*Nice) Usage() string {
	return `nice [flags] [--] <increment>... - start a task, call nice(increment)
for each argument in order and print the resulting niceness.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (n *Nice) SetFlags(f *flag.FlagSet) {
	f.IntVar(&n.initial, "initial", 0, "initial niceness of the task.")
}

// Execute implements subcommands.Command.Execute.
func (n *Nice) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	incs := make([]int, 0, f.NArg())
	for _, arg := range f.Args() {
		inc, err := strconv.Atoi(arg)
		if err != nil {
			util.Fatalf("invalid increment %q: %v", arg, err)
		}
		incs = append(incs, inc)
	}
	conf := args[0].(*config.Config)

	l, err := boot.New(boot.Args{Conf: conf})
	if err != nil {
		util.Fatalf("creating loader: %v", err)
	}
	t, err := l.Kernel().NewTask(&kernel.TaskConfig{Name: "nice", Niceness: n.initial})
	if err != nil {
		util.Fatalf("creating task: %v", err)
	}
	t.Start(func(t *kernel.Task) error {
		util.Infof("pid %d: niceness %d", ulib.Getpid(t), t.Niceness())
		for _, inc := range incs {
			if ret := ulib.Nice(t, inc); ret != 0 {
				return fmt.Errorf("nice(%d) = %d", inc, ret)
			}
			util.Infof("nice(%d): niceness %d", inc, t.Niceness())
		}
		return nil
	})
	if err := l.Wait(); err != nil {
		util.Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
