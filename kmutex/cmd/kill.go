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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/kmutex/cmd/util"
	"gvisor.dev/kmutex/kmutex/ulib"
	"gvisor.dev/kmutex/pkg/config"
	kcontext "gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/kernel/rendezvous"
)

// Kill implements subcommands.Command for the "kill" command.
type Kill struct {
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Kill) Name() string {
	return "kill"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Kill) Synopsis() string {
	return "kills a task blocked on a mutex and checks that it wakes up"
}

// Usage implements subcommands.Command.Usage.
func (*Kill) Usage() string {
	return `kill [flags] - P1 takes a mutex, P2 and P3 block on it, P1 kills P3
and releases the mutex. P3 must fail with EINTR and P2 must get the mutex.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (k *Kill) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&k.timeout, "timeout", 10*time.Second, "how long to wait for each step.")
}

// Execute implements subcommands.Command.Execute.
func (k *Kill) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
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
	m := img.Mutex(0)
	key := rendezvous.Key{Space: img.MemoryManager(), Addr: m}
	waitSleepers := func(n int) error {
		return k.poll(ctx, func() error {
			if got := l.Kernel().Rendezvous().Sleepers(key); got != n {
				return fmt.Errorf("%d tasks sleeping, want %d", got, n)
			}
			return nil
		})
	}

	// P1 holds the mutex until both waiters are blocked.
	held := make(chan int32, 1)
	var victim *kernel.Task
	victimReady := make(chan struct{})
	p1, err := l.StartTask("P1", img, func(t *kernel.Task) error {
		if err := ulib.Error(ulib.Macquire(t, m)); err != nil {
			return fmt.Errorf("macquire: %w", err)
		}
		held <- ulib.Getpid(t)
		<-victimReady
		if err := waitSleepers(2); err != nil {
			return err
		}
		util.Infof("P1: killing pid %d", victim.ThreadID())
		if err := ulib.Error(ulib.Kill(t, victim.ThreadID())); err != nil {
			return fmt.Errorf("kill(%d): %w", victim.ThreadID(), err)
		}
		if err := waitSleepers(1); err != nil {
			return err
		}
		util.Infof("P1: releasing")
		return ulib.Error(ulib.Mrelease(t, m))
	})
	if err != nil {
		util.Fatalf("%v", err)
	}
	<-held

	waiter := func(name string, wantErr *errors.Error) kernel.Program {
		return func(t *kernel.Task) error {
			err := ulib.Error(ulib.Macquire(t, m))
			util.Infof("%s (pid %d): macquire returned %v", name, ulib.Getpid(t), err)
			if wantErr != nil {
				if !linuxerr.Equals(wantErr, err) {
					return fmt.Errorf("macquire got %v, want %v", err, wantErr)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("macquire: %w", err)
			}
			return ulib.Error(ulib.Mrelease(t, m))
		}
	}
	p2, err := l.StartTask("P2", img, waiter("P2", nil))
	if err != nil {
		util.Fatalf("%v", err)
	}
	victim, err = l.StartTask("P3", img, waiter("P3", linuxerr.EINTR))
	if err != nil {
		util.Fatalf("%v", err)
	}
	close(victimReady)

	if err := waitTasks(ctx, []*kernel.Task{p1, p2, victim}, k.timeout); err != nil {
		util.Fatalf("%v", err)
	}
	s := l.Kernel().UMutex().Stats()
	util.Infof("acquires=%d releases=%d interrupted=%d", s.Acquires, s.Releases, s.Interrupted)
	return subcommands.ExitSuccess
}

// poll retries cb with exponential backoff until it succeeds or k.timeout
// elapses.
func (k *Kill) poll(ctx context.Context, cb func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = k.timeout
	return backoff.Retry(cb, backoff.WithContext(b, ctx))
}
