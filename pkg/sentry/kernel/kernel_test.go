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

package kernel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/abi/linux/errno"
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/arch"
	"gvisor.dev/kmutex/pkg/sentry/kernel/umutex"
	"gvisor.dev/kmutex/pkg/sentry/mm"
)

const (
	testSysOK = iota + 100
	testSysEINVAL
	testSysInternal
)

var errInternal = errors.New("internal failure")

var testTable = &SyscallTable{
	Name: "test",
	Table: map[uintptr]Syscall{
		testSysOK: {Name: "ok", Fn: func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
			return args[0].Value + 1, nil
		}},
		testSysEINVAL: {Name: "einval", Fn: func(*Task, uintptr, arch.SyscallArguments) (uintptr, error) {
			return 0, linuxerr.EINVAL
		}},
		testSysInternal: {Name: "internal", Fn: func(*Task, uintptr, arch.SyscallArguments) (uintptr, error) {
			return 0, fmt.Errorf("wrapped: %w", errInternal)
		}},
	},
}

func newTestKernel(t *testing.T, cpus int) *Kernel {
	t.Helper()
	k, err := New(InitKernelArgs{
		CPUs:           cpus,
		SyscallTable:   testTable,
		MutexMode:      umutex.Live,
		StagingBuffers: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k
}

func newTestTask(t *testing.T, k *Kernel, cfg *TaskConfig) *Task {
	t.Helper()
	if cfg == nil {
		cfg = &TaskConfig{}
	}
	task, err := k.NewTask(cfg)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return task
}

// runOnTask runs fn on task's goroutine and waits for it to return.
func runOnTask(t *testing.T, k *Kernel, task *Task, fn func(*Task) error) {
	t.Helper()
	task.Start(fn)
	if err := k.WaitExited(); err != nil {
		t.Fatal(err)
	}
}

func TestInitRejectsBadArgs(t *testing.T) {
	for _, args := range []InitKernelArgs{
		{CPUs: 0, SyscallTable: testTable},
		{CPUs: 1},
		{CPUs: 1, SyscallTable: testTable, MutexMode: umutex.Mode(7)},
	} {
		if _, err := New(args); err == nil {
			t.Errorf("New(%+v) succeeded, want error", args)
		}
	}
}

func TestNewTask(t *testing.T) {
	k := newTestKernel(t, 2)
	var got []ThreadID
	var cpus []int32
	for i := 0; i < 3; i++ {
		task := newTestTask(t, k, nil)
		got = append(got, task.TID())
		cpus = append(cpus, task.CPU())
	}
	if diff := cmp.Diff([]ThreadID{1, 2, 3}, got); diff != "" {
		t.Errorf("pids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int32{0, 1, 0}, cpus); diff != "" {
		t.Errorf("CPUs mismatch (-want +got):\n%s", diff)
	}
	if n := len(k.Tasks()); n != 3 {
		t.Errorf("len(Tasks()) = %d, want 3", n)
	}
	if _, err := k.NewTask(&TaskConfig{Niceness: linux.MaxNice + 1}); err == nil {
		t.Errorf("NewTask with niceness %d succeeded", linux.MaxNice+1)
	}
}

func TestTaskExitRemovesFromTable(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, &TaskConfig{Name: "short"})
	runOnTask(t, k, task, func(*Task) error { return nil })
	if got := k.TaskWithID(task.TID()); got != nil {
		t.Errorf("TaskWithID(%d) = %v after exit, want nil", task.TID(), got)
	}
	if err := k.Kill(task.TID()); !linuxerr.Equals(linuxerr.ESRCH, err) {
		t.Errorf("Kill of exited task = %v, want ESRCH", err)
	}
}

func TestWaitExitedReportsProgramError(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	task.Start(func(*Task) error { return errInternal })
	if err := k.WaitExited(); !errors.Is(err, errInternal) {
		t.Errorf("WaitExited() = %v, want %v", err, errInternal)
	}
	if err := task.ExitError(); !errors.Is(err, errInternal) {
		t.Errorf("ExitError() = %v, want %v", err, errInternal)
	}
}

func TestKillUnknownTask(t *testing.T) {
	k := newTestKernel(t, 1)
	if err := k.Kill(42); !linuxerr.Equals(linuxerr.ESRCH, err) {
		t.Errorf("Kill(42) = %v, want ESRCH", err)
	}
}

func TestKillInterruptsBlockOn(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	blocked := make(chan struct{})
	woken := make(chan bool, 2)
	task.Start(func(task *Task) error {
		close(blocked)
		never := make(chan struct{})
		woken <- task.BlockOn(never)
		// A killed task stays interrupted.
		woken <- task.BlockOn(never)
		return nil
	})
	<-blocked
	if err := k.Kill(task.TID()); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := k.WaitExited(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if <-woken {
			t.Errorf("BlockOn #%d reported a wakeup, want an interrupt", i)
		}
	}
	if !task.Killed() || !task.Interrupted() {
		t.Errorf("Killed() = %t, Interrupted() = %t, want both true", task.Killed(), task.Interrupted())
	}
	// Killing twice is harmless.
	if err := k.Kill(task.TID()); err != nil && !linuxerr.Equals(linuxerr.ESRCH, err) {
		t.Errorf("second Kill = %v", err)
	}
}

func TestBlockOnWakeup(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	runOnTask(t, k, task, func(task *Task) error {
		if !task.BlockOn(ch) {
			return fmt.Errorf("BlockOn on a ready channel was interrupted")
		}
		return nil
	})
}

func TestAdjustNiceness(t *testing.T) {
	for _, tc := range []struct {
		start int
		delta int
		want  int
	}{
		{start: 0, delta: -100, want: linux.MinNice},
		{start: 0, delta: 100, want: linux.MaxNice},
		{start: 0, delta: 0, want: 0},
		{start: 5, delta: 3, want: 8},
		{start: -18, delta: -5, want: linux.MinNice},
		{start: 17, delta: 2, want: linux.MaxNice},
		{start: 3, delta: -3, want: 0},
		{start: -20, delta: 0, want: linux.MinNice},
		{start: 19, delta: 0, want: linux.MaxNice},
		{start: 0, delta: int(^uint(0) >> 1), want: linux.MaxNice},
	} {
		t.Run(fmt.Sprintf("%d%+d", tc.start, tc.delta), func(t *testing.T) {
			k := newTestKernel(t, 1)
			task := newTestTask(t, k, &TaskConfig{Niceness: tc.start})
			if got := task.AdjustNiceness(tc.delta); got != tc.want {
				t.Errorf("AdjustNiceness(%d) = %d, want %d", tc.delta, got, tc.want)
			}
			if got := task.Niceness(); got != tc.want {
				t.Errorf("Niceness() = %d, want %d", got, tc.want)
			}
			if got := task.Priority(); got != tc.want+20 {
				t.Errorf("Priority() = %d, want %d", got, tc.want+20)
			}
		})
	}
}

func TestSetNiceness(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, &TaskConfig{Niceness: 4})
	if got := task.Niceness(); got != 4 {
		t.Fatalf("initial Niceness() = %d, want 4", got)
	}
	for _, tc := range []struct {
		n    int
		want int
	}{
		{n: -7, want: -7},
		{n: -21, want: linux.MinNice},
		{n: 40, want: linux.MaxNice},
	} {
		task.SetNiceness(tc.n)
		if got := task.Niceness(); got != tc.want {
			t.Errorf("SetNiceness(%d): Niceness() = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestApplicationCores(t *testing.T) {
	k := newTestKernel(t, 3)
	if got := k.ApplicationCores(); got != 3 {
		t.Errorf("ApplicationCores() = %d, want 3", got)
	}
	for i := 0; i < 5; i++ {
		task := newTestTask(t, k, nil)
		if cpu := task.CPU(); cpu < 0 || uint(cpu) >= k.ApplicationCores() {
			t.Errorf("task %d on CPU %d, want [0, %d)", task.ThreadID(), cpu, k.ApplicationCores())
		}
	}
}

func TestSyscallDispatch(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	got := map[string]int64{}
	runOnTask(t, k, task, func(task *Task) error {
		got["ok"] = task.Invoke(testSysOK, 41)
		got["einval"] = task.Invoke(testSysEINVAL)
		got["internal"] = task.Invoke(testSysInternal)
		got["missing"] = task.Invoke(9999)
		return nil
	})
	want := map[string]int64{
		"ok":       42,
		"einval":   -int64(errno.EINVAL),
		"internal": -int64(errno.EINVAL),
		"missing":  -int64(errno.ENOSYS),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("syscall results mismatch (-want +got):\n%s", diff)
	}
}

func signExtend(v int64) uintptr {
	return uintptr(v)
}

func TestIntArg(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	for _, tc := range []struct {
		value   uintptr
		want    int32
		wantErr bool
	}{
		{value: 5, want: 5},
		{value: signExtend(-20), want: -20},
		{value: 1 << 40, wantErr: true},
		{value: 0xffffff9c, wantErr: true},
	} {
		got, err := task.IntArg(arch.SyscallArguments{{Value: tc.value}}, 0)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("IntArg(%#x) = %d, %v; want %d, error %t", tc.value, got, err, tc.want, tc.wantErr)
		}
	}
	if _, err := task.IntArg(arch.SyscallArguments{}, arch.NumArgs); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("IntArg past the last argument = %v, want EINVAL", err)
	}
}

func TestCheckUserRange(t *testing.T) {
	k := newTestKernel(t, 1)
	image := mm.NewMemoryManager()
	ctx := context.Background()
	rw, err := image.MMap(ctx, mm.MMapOpts{Length: hostarch.PageSize, Perms: hostarch.ReadWrite})
	if err != nil {
		t.Fatalf("MMap: %v", err)
	}
	ro, err := image.MMap(ctx, mm.MMapOpts{Length: hostarch.PageSize, Perms: hostarch.Read})
	if err != nil {
		t.Fatalf("MMap: %v", err)
	}
	task := newTestTask(t, k, &TaskConfig{MemoryManager: image})

	for _, tc := range []struct {
		name    string
		addr    hostarch.Addr
		at      hostarch.AccessType
		wantErr bool
	}{
		{name: "read-write", addr: rw, at: hostarch.ReadWrite},
		{name: "read-only for read", addr: ro, at: hostarch.Read},
		{name: "read-only for write", addr: ro, at: hostarch.ReadWrite, wantErr: true},
		{name: "misaligned", addr: rw + 4, at: hostarch.ReadWrite, wantErr: true},
		{name: "unmapped", addr: 0x50000000, at: hostarch.Read, wantErr: true},
		{name: "overflow", addr: ^hostarch.Addr(7), at: hostarch.Read, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := task.CheckUserRange(tc.addr, linux.SizeOfUMutex, linux.UMutexAlign, tc.at)
			if tc.wantErr && !linuxerr.Equals(linuxerr.EINVAL, err) {
				t.Errorf("CheckUserRange = %v, want EINVAL", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("CheckUserRange = %v, want nil", err)
			}
		})
	}
}

func TestStagingAllocator(t *testing.T) {
	a := NewStagingAllocator(2)
	var bufs [][]byte
	for i := 0; i < 2; i++ {
		buf, err := a.Allocate(linux.SizeOfUMutex)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if len(buf) != linux.SizeOfUMutex {
			t.Errorf("len(buf) = %d, want %d", len(buf), linux.SizeOfUMutex)
		}
		bufs = append(bufs, buf)
	}
	if _, err := a.Allocate(linux.SizeOfUMutex); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("Allocate past capacity = %v, want ENOMEM", err)
	}
	if got := a.Outstanding(); got != 2 {
		t.Errorf("Outstanding() = %d, want 2", got)
	}
	a.Free(bufs[0])
	if _, err := a.Allocate(linux.SizeOfUMutex); err != nil {
		t.Errorf("Allocate after Free: %v", err)
	}
	if got := NewStagingAllocator(0).Capacity(); got != 0 {
		t.Errorf("Capacity() = %d, want 0", got)
	}
	if _, err := NewStagingAllocator(0).Allocate(1); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("Allocate from an empty allocator = %v, want ENOMEM", err)
	}
}

func TestContextValues(t *testing.T) {
	k := newTestKernel(t, 1)
	task := newTestTask(t, k, nil)
	if got := KernelFromContext(task); got != k {
		t.Errorf("KernelFromContext = %p, want %p", got, k)
	}
	if got := TaskFromContext(task); got != task {
		t.Errorf("TaskFromContext = %p, want %p", got, task)
	}
	if got := TaskFromContext(context.Background()); got != nil {
		t.Errorf("TaskFromContext(Background) = %v, want nil", got)
	}
	if _, ok := task.Deadline(); ok {
		t.Errorf("task has a deadline")
	}
}
