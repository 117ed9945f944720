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

// Package umutex implements blocking mutexes whose state lives in user
// memory while blocking and waking happen in the kernel.
//
// A mutex is a linux.UMutex at an 8-byte aligned user address. Its locked
// and owner words are guarded by a low-level lock; a contended acquirer
// sleeps on the mutex's address in a rendezvous.Table, dropping the
// low-level lock atomically with going to sleep, and rechecks the mutex when
// woken. Release clears the mutex and wakes every sleeper.
package umutex

import (
	"fmt"
	"sync/atomic"
	"time"

	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/log"
	"gvisor.dev/kmutex/pkg/sentry/kernel/rendezvous"
	"gvisor.dev/kmutex/pkg/sentry/mm"
	"gvisor.dev/kmutex/pkg/usermem"
)

// Task is the caller of a mutex operation.
type Task interface {
	context.Context

	// ThreadID returns the caller's pid.
	ThreadID() int32

	// CPU returns the CPU the caller runs on.
	CPU() int32

	// Killed returns true once the caller has been killed.
	Killed() bool

	// MemoryManager returns the caller's address space.
	MemoryManager() *mm.MemoryManager

	// CheckUserRange returns EINVAL unless the size bytes at addr are
	// aligned to align and mapped with access at.
	CheckUserRange(addr hostarch.Addr, size int, align uint64, at hostarch.AccessType) error
}

// InheritanceStrategy is told when a task is about to sleep on a mutex held
// by another task, so that it can lend the waiter's priority to the holder.
type InheritanceStrategy interface {
	// Contended is called with the low-level lock of the mutex held.
	// Implementations must not block.
	Contended(waiter Task, holder int32)
}

// NoopInheritance is an InheritanceStrategy that does nothing.
type NoopInheritance struct{}

// Contended implements InheritanceStrategy.Contended.
func (NoopInheritance) Contended(Task, int32) {}

// StagingAllocator provides the kernel buffers the staged mode copies mutex
// state into.
type StagingAllocator interface {
	// Allocate returns a buffer of size bytes, or ENOMEM.
	Allocate(size int) ([]byte, error)

	// Free returns a buffer obtained from Allocate.
	Free(buf []byte)
}

// Mode selects how the kernel reaches the state of a mutex.
type Mode int

const (
	// Live accesses every field in place through the bounds-checked
	// accessor. The low-level lock is the spinlock embedded in the mutex.
	Live Mode = iota

	// Staged copies the mutex into a staging buffer, mutates the copy and
	// writes it back. The low-level lock is a kernel lock keyed by the
	// mutex's address.
	Staged
)

// String implements fmt.Stringer.String.
func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Staged:
		return "staged"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Opts configures a Bridge.
type Opts struct {
	// Mode is the access mode.
	Mode Mode

	// Allocator provides staging buffers. It is required in Staged mode.
	Allocator StagingAllocator

	// Inheritance is invoked on contention. Nil means NoopInheritance.
	Inheritance InheritanceStrategy

	// ContentionLogEvery rate limits contention messages. Zero logs every
	// contention.
	ContentionLogEvery time.Duration
}

// Stats are cumulative counters of a Bridge.
type Stats struct {
	Acquires    uint64
	Releases    uint64
	Contentions uint64
	Wakeups     uint64
	Interrupted uint64
}

// Bridge implements Acquire and Release for every mutex of a kernel.
type Bridge struct {
	mode        Mode
	table       *rendezvous.Table
	alloc       StagingAllocator
	inheritance InheritanceStrategy
	contention  log.Logger

	// locks are the low-level locks of Staged mode.
	locks *lockTable

	acquires    atomic.Uint64
	releases    atomic.Uint64
	contentions atomic.Uint64
	wakeups     atomic.Uint64
	interrupted atomic.Uint64
}

// NewBridge returns a Bridge whose sleepers block in table.
func NewBridge(table *rendezvous.Table, opts Opts) (*Bridge, error) {
	b := &Bridge{
		mode:        opts.Mode,
		table:       table,
		alloc:       opts.Allocator,
		inheritance: opts.Inheritance,
	}
	switch opts.Mode {
	case Live:
	case Staged:
		if opts.Allocator == nil {
			return nil, fmt.Errorf("staged mode requires a staging allocator")
		}
		b.locks = newLockTable()
	default:
		return nil, fmt.Errorf("unknown mode %v", opts.Mode)
	}
	if b.inheritance == nil {
		b.inheritance = NoopInheritance{}
	}
	b.contention = log.BasicRateLimitedLogger(opts.ContentionLogEvery)
	return b, nil
}

// Mode returns the access mode of b.
func (b *Bridge) Mode() Mode {
	return b.mode
}

// Stats returns a snapshot of b's counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Acquires:    b.acquires.Load(),
		Releases:    b.releases.Load(),
		Contentions: b.contentions.Load(),
		Wakeups:     b.wakeups.Load(),
		Interrupted: b.interrupted.Load(),
	}
}

// Acquire blocks until t owns the mutex at addr.
//
// It returns EINVAL if addr does not refer to a mutex t can read and write,
// ENOMEM if no staging buffer is available, EINTR if t is killed before it
// owns the mutex, and EFAULT if the mutex becomes inaccessible midway.
func (b *Bridge) Acquire(t Task, addr hostarch.Addr) error {
	if err := checkMutex(t, addr); err != nil {
		return err
	}
	var err error
	if b.mode == Staged {
		err = b.acquireStaged(t, addr)
	} else {
		err = b.acquireLive(t, addr)
	}
	switch {
	case err == nil:
		b.acquires.Add(1)
	case linuxerr.Equals(linuxerr.EINTR, err):
		b.interrupted.Add(1)
		t.Debugf("Acquire of mutex %#x interrupted", addr)
	}
	return err
}

// Release marks the mutex at addr unowned and wakes every task sleeping on
// it. Releasing an unowned mutex succeeds and leaves it unchanged. Ownership
// is not checked.
//
// It returns EINVAL if addr does not refer to a mutex t can read and write,
// ENOMEM if no staging buffer is available and EFAULT if the mutex becomes
// inaccessible midway.
func (b *Bridge) Release(t Task, addr hostarch.Addr) error {
	if err := checkMutex(t, addr); err != nil {
		return err
	}
	var err error
	if b.mode == Staged {
		err = b.releaseStaged(t, addr)
	} else {
		err = b.releaseLive(t, addr)
	}
	if err == nil {
		b.releases.Add(1)
	}
	return err
}

// checkMutex validates that addr holds a whole mutex that t may read and
// write.
func checkMutex(t Task, addr hostarch.Addr) error {
	return t.CheckUserRange(addr, linux.SizeOfUMutex, linux.UMutexAlign, hostarch.ReadWrite)
}

// contended runs the inheritance strategy and records a contention of the
// mutex at addr, held by holder, by t.
//
// Preconditions: The low-level lock of the mutex is held.
func (b *Bridge) contended(t Task, addr hostarch.Addr, holder int32) {
	b.contentions.Add(1)
	b.inheritance.Contended(t, holder)
	b.contention.Debugf("[%d] mutex %#x contended, held by %d", t.ThreadID(), addr, holder)
}

// sleep blocks t on addr, releasing lk while asleep. It returns nil with lk
// held after a wakeup or an interrupt; any other error means lk is not held.
func (b *Bridge) sleep(t Task, addr hostarch.Addr, lk rendezvous.Lock) error {
	err := b.table.Sleep(t, key(t, addr), lk)
	if err == errSpinKilled {
		// Not relocked; the caller must not recheck.
		return linuxerr.EINTR
	}
	if linuxerr.Equals(linuxerr.EINTR, err) {
		// The caller rechecks whether t was killed.
		return nil
	}
	return err
}

// wakeup wakes every task sleeping on the mutex at addr.
//
// Preconditions: The low-level lock of the mutex is held.
func (b *Bridge) wakeup(t Task, addr hostarch.Addr) {
	if n := b.table.WakeupAll(key(t, addr)); n > 0 {
		b.wakeups.Add(uint64(n))
	}
}

func key(t Task, addr hostarch.Addr) rendezvous.Key {
	return rendezvous.Key{Space: t.MemoryManager(), Addr: addr}
}

// unlockWith releases lk and returns err, or the release error if err is
// nil.
func unlockWith(lk rendezvous.Lock, err error) error {
	if uerr := lk.Unlock(); err == nil {
		return uerr
	}
	return err
}

// ioOpts are the options for every access to a mutex. Permissions were
// checked by checkMutex.
var ioOpts = usermem.IOOpts{}
