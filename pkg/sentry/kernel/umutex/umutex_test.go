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

package umutex_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/kmutex/ulib"
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/kernel/kerneltest"
	"gvisor.dev/kmutex/pkg/sentry/kernel/rendezvous"
	"gvisor.dev/kmutex/pkg/sentry/kernel/umutex"
	"gvisor.dev/kmutex/pkg/sentry/mm"
	"gvisor.dev/kmutex/pkg/sync"
	"gvisor.dev/kmutex/pkg/usermem"
)

func forEachStrategy(t *testing.T, fn func(t *testing.T, strategy config.Strategy)) {
	for _, strategy := range kerneltest.Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			fn(t, strategy)
		})
	}
}

func readMutex(t *testing.T, img *boot.Image, i int) linux.UMutex {
	t.Helper()
	m, err := img.ReadMutex(i)
	if err != nil {
		t.Fatalf("ReadMutex(%d): %v", i, err)
	}
	return m
}

func rendezvousKey(img *boot.Image, i int) rendezvous.Key {
	return rendezvous.Key{Space: img.MemoryManager(), Addr: img.Mutex(i)}
}

// incrementSlowly increments the counter at addr with a plain read-modify-
// write that yields in between, so that unsynchronized callers lose updates.
func incrementSlowly(t *kernel.Task, addr hostarch.Addr) error {
	buf := make([]byte, 4)
	if _, err := t.CopyInBytes(addr, buf); err != nil {
		return err
	}
	v := hostarch.ByteOrder.Uint32(buf)
	sync.Goyield()
	hostarch.ByteOrder.PutUint32(buf, v+1)
	_, err := t.CopyOutBytes(addr, buf)
	return err
}

func TestMutualExclusion(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		const (
			tasks      = 8
			iterations = 200
		)
		var inside atomic.Int32
		for i := 0; i < tasks; i++ {
			kerneltest.StartTask(t, l, img, fmt.Sprintf("worker-%d", i), func(task *kernel.Task) error {
				for j := 0; j < iterations; j++ {
					if err := ulib.Error(ulib.Macquire(task, img.Mutex(0))); err != nil {
						return fmt.Errorf("macquire: %w", err)
					}
					if n := inside.Add(1); n != 1 {
						return fmt.Errorf("%d tasks inside the critical section", n)
					}
					m, err := img.ReadMutex(0)
					if err != nil {
						return err
					}
					if m.Locked != 1 || m.Owner != task.ThreadID() {
						return fmt.Errorf("owned mutex is %v, want locked by %d", m, task.ThreadID())
					}
					if err := incrementSlowly(task, img.Counter(0)); err != nil {
						return err
					}
					inside.Add(-1)
					if err := ulib.Error(ulib.Mrelease(task, img.Mutex(0))); err != nil {
						return fmt.Errorf("mrelease: %w", err)
					}
				}
				return nil
			})
		}
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}

		got, err := img.ReadCounter(context.Background(), 0)
		if err != nil {
			t.Fatalf("ReadCounter: %v", err)
		}
		if want := uint32(tasks * iterations); got != want {
			t.Errorf("counter = %d, want %d", got, want)
		}
		want := linux.NewUMutex(img.Name(0))
		if diff := cmp.Diff(want, readMutex(t, img, 0)); diff != "" {
			t.Errorf("final mutex state mismatch (-want +got):\n%s", diff)
		}
		if got := l.Kernel().StagingAllocator().Outstanding(); got != 0 {
			t.Errorf("%d staging buffers leaked", got)
		}
	})
}

func TestReleaseUnlockedIsNoop(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		before := readMutex(t, img, 0)
		kerneltest.StartTask(t, l, img, "releaser", func(task *kernel.Task) error {
			for i := 0; i < 2; i++ {
				if ret := ulib.Mrelease(task, img.Mutex(0)); ret != 0 {
					return fmt.Errorf("mrelease #%d returned %d, want 0", i, ret)
				}
			}
			return nil
		})
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(before, readMutex(t, img, 0)); diff != "" {
			t.Errorf("mutex changed (-before +after):\n%s", diff)
		}
	})
}

func TestHandoff(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		mutex := img.Mutex(0)
		release := make(chan struct{})
		acquired := make(chan struct{})

		p1 := kerneltest.StartTask(t, l, img, "p1", func(task *kernel.Task) error {
			if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
				return err
			}
			close(acquired)
			<-release
			return ulib.Error(ulib.Mrelease(task, mutex))
		})
		<-acquired

		p2Owner := make(chan linux.UMutex, 1)
		p2 := kerneltest.StartTask(t, l, img, "p2", func(task *kernel.Task) error {
			if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
				return err
			}
			m, err := img.ReadMutex(0)
			if err != nil {
				return err
			}
			p2Owner <- m
			return ulib.Error(ulib.Mrelease(task, mutex))
		})
		kerneltest.WaitSleepers(t, l.Kernel(), img, 0, 1)

		if m := readMutex(t, img, 0); m.Locked != 1 || m.Owner != p1.ThreadID() {
			t.Errorf("while p2 waits, mutex is %v, want owned by p1 (%d)", m, p1.ThreadID())
		}
		close(release)
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}
		if m := <-p2Owner; m.Locked != 1 || m.Owner != p2.ThreadID() {
			t.Errorf("after handoff, mutex is %v, want owned by p2 (%d)", m, p2.ThreadID())
		}
		if stats := l.Kernel().UMutex().Stats(); stats.Contentions == 0 || stats.Wakeups == 0 {
			t.Errorf("stats = %+v, want contention and wakeup recorded", stats)
		}
	})
}

func TestKillBlockedWaiter(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		mutex := img.Mutex(0)
		release := make(chan struct{})
		acquired := make(chan struct{})

		p1 := kerneltest.StartTask(t, l, img, "p1", func(task *kernel.Task) error {
			if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
				return err
			}
			close(acquired)
			<-release
			return ulib.Error(ulib.Mrelease(task, mutex))
		})
		<-acquired

		p3Err := make(chan error, 1)
		p3 := kerneltest.StartTask(t, l, img, "p3", func(task *kernel.Task) error {
			p3Err <- ulib.Error(ulib.Macquire(task, mutex))
			return nil
		})
		kerneltest.WaitSleepers(t, l.Kernel(), img, 0, 1)

		if err := l.Kernel().Kill(p3.TID()); err != nil {
			t.Fatalf("Kill(p3): %v", err)
		}
		kerneltest.WaitExited(t, p3)
		if err := <-p3Err; !linuxerr.Equals(linuxerr.EINTR, err) {
			t.Errorf("p3 macquire = %v, want EINTR", err)
		}
		if m := readMutex(t, img, 0); m.Locked != 1 || m.Owner != p1.ThreadID() {
			t.Errorf("after kill, mutex is %v, want still owned by p1 (%d)", m, p1.ThreadID())
		}
		if got := l.Kernel().Rendezvous().Sleepers(rendezvousKey(img, 0)); got != 0 {
			t.Errorf("%d sleepers left after kill", got)
		}

		close(release)
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}
		if got := l.Kernel().UMutex().Stats().Interrupted; got != 1 {
			t.Errorf("Interrupted = %d, want 1", got)
		}
	})
}

func TestKilledTaskCannotAcquire(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		before := readMutex(t, img, 0)
		start := make(chan struct{})
		result := make(chan error, 1)
		task := kerneltest.StartTask(t, l, img, "victim", func(task *kernel.Task) error {
			<-start
			result <- ulib.Error(ulib.Macquire(task, img.Mutex(0)))
			return nil
		})
		if err := l.Kernel().Kill(task.TID()); err != nil {
			t.Fatalf("Kill: %v", err)
		}
		close(start)
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}
		if err := <-result; !linuxerr.Equals(linuxerr.EINTR, err) {
			t.Errorf("macquire by killed task = %v, want EINTR", err)
		}
		if diff := cmp.Diff(before, readMutex(t, img, 0)); diff != "" {
			t.Errorf("mutex changed (-before +after):\n%s", diff)
		}
	})
}

// A live mode caller spinning on a lock word that user code never clears
// still returns when killed.
func TestKillSpinningOnEmbeddedLock(t *testing.T) {
	l, img := kerneltest.New(t, config.StrategyLive, kerneltest.Options{})
	ctx := context.Background()
	flag := img.Mutex(0) + linux.UMutexLockOffset + linux.SpinlockLockedOffset
	if err := img.MemoryManager().StoreUint32(ctx, flag, 1, usermem.IOOpts{}); err != nil {
		t.Fatalf("StoreUint32: %v", err)
	}

	started := make(chan struct{})
	result := make(chan error, 1)
	task := kerneltest.StartTask(t, l, img, "spinner", func(task *kernel.Task) error {
		close(started)
		result <- ulib.Error(ulib.Macquire(task, img.Mutex(0)))
		return nil
	})
	<-started
	time.Sleep(10 * time.Millisecond)
	if err := l.Kernel().Kill(task.TID()); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	kerneltest.WaitExited(t, task)
	if err := <-result; !linuxerr.Equals(linuxerr.EINTR, err) {
		t.Errorf("macquire = %v, want EINTR", err)
	}
	if m := readMutex(t, img, 0); m.Locked != 0 || m.Lock.Locked != 1 {
		t.Errorf("mutex is %v, want unowned with the lock word untouched", m)
	}
}

func TestInvalidPointers(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		l, img := kerneltest.New(t, strategy, kerneltest.Options{})
		ctx := context.Background()

		// A page with nothing mapped after it.
		const edge = hostarch.Addr(0x70000000)
		if _, err := img.MemoryManager().MMap(ctx, mm.MMapOpts{
			Length: hostarch.PageSize,
			Addr:   edge,
			Fixed:  true,
			Perms:  hostarch.ReadWrite,
			Hint:   "[edge]",
		}); err != nil {
			t.Fatalf("MMap: %v", err)
		}

		before := readMutex(t, img, 0)
		for _, tc := range []struct {
			name string
			addr hostarch.Addr
		}{
			{name: "null", addr: 0},
			{name: "unmapped", addr: 0x60000000},
			{name: "misaligned", addr: img.Mutex(0) + 4},
			{name: "read-only", addr: img.Name(0).RoundDown()},
			{name: "straddles mapping end", addr: edge + hostarch.PageSize - 16},
			{name: "wraps address space", addr: ^hostarch.Addr(7)},
		} {
			t.Run(tc.name, func(t *testing.T) {
				results := make(chan [2]error, 1)
				kerneltest.StartTask(t, l, img, tc.name, func(task *kernel.Task) error {
					results <- [2]error{
						ulib.Error(ulib.Macquire(task, tc.addr)),
						ulib.Error(ulib.Mrelease(task, tc.addr)),
					}
					return nil
				})
				if err := l.Wait(); err != nil {
					t.Fatal(err)
				}
				got := <-results
				for i, op := range []string{"macquire", "mrelease"} {
					if !linuxerr.Equals(linuxerr.EINVAL, got[i]) {
						t.Errorf("%s(%v) = %v, want EINVAL", op, tc.addr, got[i])
					}
				}
			})
		}
		if diff := cmp.Diff(before, readMutex(t, img, 0)); diff != "" {
			t.Errorf("mutex changed (-before +after):\n%s", diff)
		}
	})
}

func TestStagedAllocationFailure(t *testing.T) {
	l, img := kerneltest.New(t, config.StrategyStaged, kerneltest.Options{StagingBuffers: 1})
	alloc := l.Kernel().StagingAllocator()
	held, err := alloc.Allocate(linux.SizeOfUMutex)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	before := readMutex(t, img, 0)

	results := make(chan [2]error, 1)
	kerneltest.StartTask(t, l, img, "starved", func(task *kernel.Task) error {
		results <- [2]error{
			ulib.Error(ulib.Macquire(task, img.Mutex(0))),
			ulib.Error(ulib.Mrelease(task, img.Mutex(0))),
		}
		return nil
	})
	if err := l.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, err := range <-results {
		if !linuxerr.Equals(linuxerr.ENOMEM, err) {
			t.Errorf("operation %d = %v, want ENOMEM", i, err)
		}
	}
	if diff := cmp.Diff(before, readMutex(t, img, 0)); diff != "" {
		t.Errorf("mutex changed (-before +after):\n%s", diff)
	}

	alloc.Free(held)
	kerneltest.StartTask(t, l, img, "fed", func(task *kernel.Task) error {
		return ulib.Error(ulib.Macquire(task, img.Mutex(0)))
	})
	if err := l.Wait(); err != nil {
		t.Fatalf("macquire after freeing a buffer: %v", err)
	}
}

// recordingInheritance records every contention it is told about.
type recordingInheritance struct {
	mu    sync.Mutex
	calls [][2]int32
}

func (r *recordingInheritance) Contended(waiter umutex.Task, holder int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]int32{waiter.ThreadID(), holder})
}

func TestInheritanceHook(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, strategy config.Strategy) {
		rec := &recordingInheritance{}
		l, img := kerneltest.New(t, strategy, kerneltest.Options{Inheritance: rec})
		mutex := img.Mutex(0)
		release := make(chan struct{})
		acquired := make(chan struct{})

		holder := kerneltest.StartTask(t, l, img, "holder", func(task *kernel.Task) error {
			if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
				return err
			}
			close(acquired)
			<-release
			return ulib.Error(ulib.Mrelease(task, mutex))
		})
		<-acquired
		waiter := kerneltest.StartTask(t, l, img, "waiter", func(task *kernel.Task) error {
			if err := ulib.Error(ulib.Macquire(task, mutex)); err != nil {
				return err
			}
			return ulib.Error(ulib.Mrelease(task, mutex))
		})
		kerneltest.WaitSleepers(t, l.Kernel(), img, 0, 1)
		close(release)
		if err := l.Wait(); err != nil {
			t.Fatal(err)
		}

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if len(rec.calls) == 0 {
			t.Fatalf("inheritance strategy was never called")
		}
		if want := [2]int32{waiter.ThreadID(), holder.ThreadID()}; rec.calls[0] != want {
			t.Errorf("first contention = %v, want %v", rec.calls[0], want)
		}
	})
}

func TestModeString(t *testing.T) {
	for mode, want := range map[umutex.Mode]string{
		umutex.Live:    "live",
		umutex.Staged:  "staged",
		umutex.Mode(9): "Mode(9)",
	} {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(mode), got, want)
		}
	}
}

func TestStagedModeRequiresAllocator(t *testing.T) {
	if _, err := umutex.NewBridge(nil, umutex.Opts{Mode: umutex.Staged}); err == nil {
		t.Errorf("NewBridge in staged mode without an allocator succeeded")
	}
}
