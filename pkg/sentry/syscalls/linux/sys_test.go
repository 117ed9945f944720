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

package linux_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kmutex/kmutex/ulib"
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/abi/linux/errno"
	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/kernel/kerneltest"
	sys "gvisor.dev/kmutex/pkg/sentry/syscalls/linux"
)

func TestTableNames(t *testing.T) {
	for sysno, want := range map[uintptr]string{
		linux.SYS_KILL:     "kill",
		linux.SYS_GETPID:   "getpid",
		linux.SYS_NICE:     "nice",
		linux.SYS_MACQUIRE: "macquire",
		linux.SYS_MRELEASE: "mrelease",
	} {
		if got := sys.Table.LookupName(sysno); got != want {
			t.Errorf("LookupName(%d) = %q, want %q", sysno, got, want)
		}
	}
	if no, err := sys.Table.LookupNo("macquire"); err != nil || no != linux.SYS_MACQUIRE {
		t.Errorf("LookupNo(macquire) = %d, %v; want %d", no, err, linux.SYS_MACQUIRE)
	}
}

func TestNice(t *testing.T) {
	for _, tc := range []struct {
		name  string
		start int
		incs  []int
		want  int
	}{
		{name: "clamp low", incs: []int{-100}, want: linux.MinNice},
		{name: "clamp high", incs: []int{100}, want: linux.MaxNice},
		{name: "zero", incs: []int{0}, want: 0},
		{name: "interior", start: 2, incs: []int{3, -1}, want: 4},
		{name: "back from floor", incs: []int{-100, 5}, want: linux.MinNice + 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, img := kerneltest.New(t, config.StrategyLive, kerneltest.Options{})
			task, err := l.Kernel().NewTask(&kernel.TaskConfig{
				MemoryManager: img.MemoryManager(),
				Niceness:      tc.start,
			})
			if err != nil {
				t.Fatalf("NewTask: %v", err)
			}
			var rets []int64
			task.Start(func(task *kernel.Task) error {
				for _, inc := range tc.incs {
					rets = append(rets, ulib.Nice(task, inc))
				}
				return nil
			})
			if err := l.Wait(); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(make([]int64, len(tc.incs)), rets); diff != "" {
				t.Errorf("nice return values mismatch (-want +got):\n%s", diff)
			}
			if got := task.Niceness(); got != tc.want {
				t.Errorf("niceness = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNiceUnfetchableIncrement(t *testing.T) {
	l, img := kerneltest.New(t, config.StrategyLive, kerneltest.Options{})
	ret := make(chan int64, 1)
	task := kerneltest.StartTask(t, l, img, "nice", func(task *kernel.Task) error {
		// Not a sign-extended C int.
		ret <- task.Invoke(linux.SYS_NICE, 1<<40)
		return nil
	})
	if err := l.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := <-ret; got != 0 {
		t.Errorf("nice returned %d, want 0", got)
	}
	if got := task.Niceness(); got != 0 {
		t.Errorf("niceness = %d, want 0", got)
	}
}

func TestGetpid(t *testing.T) {
	l, img := kerneltest.New(t, config.StrategyLive, kerneltest.Options{})
	got := make(chan int32, 1)
	task := kerneltest.StartTask(t, l, img, "getpid", func(task *kernel.Task) error {
		got <- ulib.Getpid(task)
		return nil
	})
	if err := l.Wait(); err != nil {
		t.Fatal(err)
	}
	if pid := <-got; pid != task.ThreadID() {
		t.Errorf("getpid() = %d, want %d", pid, task.ThreadID())
	}
}

func TestUnknownSyscall(t *testing.T) {
	l, img := kerneltest.New(t, config.StrategyLive, kerneltest.Options{})
	got := make(chan int64, 1)
	kerneltest.StartTask(t, l, img, "bogus", func(task *kernel.Task) error {
		got <- task.Invoke(7)
		return nil
	})
	if err := l.Wait(); err != nil {
		t.Fatal(err)
	}
	if ret := <-got; ret != -int64(errno.ENOSYS) {
		t.Errorf("syscall 7 returned %d, want %d", ret, -int64(errno.ENOSYS))
	}
}

func TestKillSyscall(t *testing.T) {
	for _, strategy := range kerneltest.Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			l, img := kerneltest.New(t, strategy, kerneltest.Options{})
			mutex := img.Mutex(0)
			k := l.Kernel()

			acquired := make(chan struct{})
			victimPID := make(chan int32, 1)
			holderDone := make(chan error, 1)
			kerneltest.StartTask(t, l, img, "p1", func(task *kernel.Task) error {
				if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
					return err
				}
				close(acquired)
				pid := <-victimPID
				if err := kerneltest.PollSleepers(k, img, 0, 1); err != nil {
					return err
				}
				if err := ulib.Error(ulib.Kill(task, pid)); err != nil {
					return fmt.Errorf("kill(%d): %w", pid, err)
				}
				holderDone <- ulib.Error(ulib.Kill(task, 9999))
				return ulib.Error(ulib.Mrelease(task, mutex))
			})
			<-acquired

			victimErr := make(chan error, 1)
			p3 := kerneltest.StartTask(t, l, img, "p3", func(task *kernel.Task) error {
				victimErr <- ulib.Error(ulib.Macquire(task, mutex))
				return nil
			})
			victimPID <- p3.ThreadID()

			if err := l.Wait(); err != nil {
				t.Fatal(err)
			}
			if err := <-victimErr; !linuxerr.Equals(linuxerr.EINTR, err) {
				t.Errorf("victim macquire = %v, want EINTR", err)
			}
			if err := <-holderDone; !linuxerr.Equals(linuxerr.ESRCH, err) {
				t.Errorf("kill(9999) = %v, want ESRCH", err)
			}
			m, err := img.ReadMutex(0)
			if err != nil {
				t.Fatalf("ReadMutex: %v", err)
			}
			if diff := cmp.Diff(linux.NewUMutex(img.Name(0)), m); diff != "" {
				t.Errorf("final mutex mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
