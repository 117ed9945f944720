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

// Package kernel provides an emulation of the small part of a kernel that
// user-memory mutexes need: tasks running on goroutines, a task table, the
// sleep/wakeup rendezvous, kill, niceness and syscall dispatch.
//
// Lock order:
//
//	TaskSet.mu
//		Task.mu
//
// rendezvous.Table bucket locks and the umutex low-level locks are leaf
// locks with respect to the above.
package kernel

import (
	"context"
	"fmt"
	"time"

	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/log"
	"gvisor.dev/kmutex/pkg/sentry/kernel/rendezvous"
	"gvisor.dev/kmutex/pkg/sentry/kernel/umutex"
	"gvisor.dev/kmutex/pkg/sync"
)

// Kernel represents an emulated kernel.
type Kernel struct {
	// cpus is the number of simulated CPUs. cpus is immutable.
	cpus int32

	// syscalls is the syscall table every task dispatches through. syscalls
	// is immutable.
	syscalls *SyscallTable

	// rendezvous holds the sleep channels of every task.
	rendezvous *rendezvous.Table

	// umutex implements user-memory mutexes. umutex is immutable.
	umutex *umutex.Bridge

	// staging provides the buffers of the staged mutex mode.
	staging *StagingAllocator

	// tasks is the table of live tasks.
	tasks TaskSet

	// running tracks task goroutines.
	running sync.WaitGroupErr

	// goctx is the parent of every task context.
	goctx context.Context
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// CPUs is the number of simulated CPUs.
	CPUs int

	// SyscallTable is the syscall table tasks dispatch through.
	SyscallTable *SyscallTable

	// MutexMode selects how mutex state in user memory is reached.
	MutexMode umutex.Mode

	// StagingBuffers bounds the number of staging buffers outstanding at
	// once.
	StagingBuffers int

	// Inheritance is invoked when a mutex is contended. Nil means
	// umutex.NoopInheritance.
	Inheritance umutex.InheritanceStrategy

	// ContentionLogEvery rate limits contention log messages.
	ContentionLogEvery time.Duration
}

// Init initializes the Kernel with no tasks.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.CPUs < 1 {
		return fmt.Errorf("CPUs is %d, must be at least 1", args.CPUs)
	}
	if args.SyscallTable == nil {
		return fmt.Errorf("SyscallTable is nil")
	}
	k.cpus = int32(args.CPUs)
	k.syscalls = args.SyscallTable
	k.rendezvous = rendezvous.NewTable()
	k.staging = NewStagingAllocator(args.StagingBuffers)
	bridge, err := umutex.NewBridge(k.rendezvous, umutex.Opts{
		Mode:               args.MutexMode,
		Allocator:          k.staging,
		Inheritance:        args.Inheritance,
		ContentionLogEvery: args.ContentionLogEvery,
	})
	if err != nil {
		return fmt.Errorf("creating mutex bridge: %w", err)
	}
	k.umutex = bridge
	k.tasks.init()
	k.goctx = context.Background()
	log.Infof("Kernel initialized: %d CPUs, %s mutexes, syscall table %q", k.cpus, args.MutexMode, k.syscalls.Name)
	return nil
}

// New returns an initialized Kernel.
func New(args InitKernelArgs) (*Kernel, error) {
	k := &Kernel{}
	if err := k.Init(args); err != nil {
		return nil, err
	}
	return k, nil
}

// ApplicationCores returns the number of CPUs visible to tasks.
func (k *Kernel) ApplicationCores() uint {
	return uint(k.cpus)
}

// UMutex returns the user-memory mutex implementation.
func (k *Kernel) UMutex() *umutex.Bridge {
	return k.umutex
}

// Rendezvous returns the sleep channels shared by every task.
func (k *Kernel) Rendezvous() *rendezvous.Table {
	return k.rendezvous
}

// StagingAllocator returns the allocator of mutex staging buffers.
func (k *Kernel) StagingAllocator() *StagingAllocator {
	return k.staging
}

// SyscallTable returns the syscall table of k.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// TaskWithID returns the live task with the given pid, or nil.
func (k *Kernel) TaskWithID(tid ThreadID) *Task {
	return k.tasks.taskWithID(tid)
}

// Tasks returns the live tasks of k, ordered by pid.
func (k *Kernel) Tasks() []*Task {
	return k.tasks.list()
}

// Kill marks the task with the given pid killed and interrupts any blocking
// operation it is in. A killed task's pending and future mutex acquisitions
// fail with EINTR; the task exits when its program next observes Killed.
//
// It returns ESRCH if no such task is live.
func (k *Kernel) Kill(tid ThreadID) error {
	t := k.TaskWithID(tid)
	if t == nil {
		return linuxerr.ESRCH
	}
	if t.killed.Swap(true) {
		return nil
	}
	log.Infof("Task %d (%s) killed", tid, t.name)
	t.Interrupt()
	return nil
}

// WaitExited blocks until every started task has exited and returns the
// first error a task program returned.
func (k *Kernel) WaitExited() error {
	return k.running.Error()
}
