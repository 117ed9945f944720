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

package umutex

import (
	"errors"

	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/mm"
	"gvisor.dev/kmutex/pkg/sync"
)

// Addresses of the mutex words, relative to the mutex.
const (
	lockedOff     = linux.UMutexLockedOffset
	ownerOff      = linux.UMutexOwnerOffset
	lockFlagOff   = linux.UMutexLockOffset + linux.SpinlockLockedOffset
	lockHolderOff = linux.UMutexLockOffset + linux.SpinlockCPUOffset

	// noCPUWord is linux.SpinlockNoCPU as stored in memory.
	noCPUWord = ^uint32(0)
)

// errSpinKilled is returned by userSpinLock.Lock when the caller is killed
// while spinning. The lock is not held.
var errSpinKilled = errors.New("killed while taking mutex lock")

// spinErr converts an error from userSpinLock.Lock to the error returned to
// the caller.
func spinErr(err error) error {
	if err == errSpinKilled {
		return linuxerr.EINTR
	}
	return err
}

// userSpinLock is the spinlock embedded in a mutex, taken in place in user
// memory.
type userSpinLock struct {
	t    Task
	mm   *mm.MemoryManager
	addr hostarch.Addr
}

// Lock implements rendezvous.Lock.Lock.
func (l *userSpinLock) Lock() error {
	for {
		old, err := l.mm.CompareAndSwapUint32(l.t, l.addr+lockFlagOff, 0, 1, ioOpts)
		if err != nil {
			return err
		}
		if old == 0 {
			break
		}
		// The flag word is user memory; a holder may never clear it.
		if l.t.Killed() {
			return errSpinKilled
		}
		sync.Goyield()
	}
	if err := l.mm.StoreUint32(l.t, l.addr+lockHolderOff, uint32(l.t.CPU()), ioOpts); err != nil {
		// Best effort. The flag shares a page with the holder word, so
		// this only fails if the mapping changed under us.
		_ = l.mm.StoreUint32(l.t, l.addr+lockFlagOff, 0, ioOpts)
		return err
	}
	return nil
}

// Unlock implements rendezvous.Lock.Unlock.
func (l *userSpinLock) Unlock() error {
	if err := l.mm.StoreUint32(l.t, l.addr+lockHolderOff, noCPUWord, ioOpts); err != nil {
		return err
	}
	return l.mm.StoreUint32(l.t, l.addr+lockFlagOff, 0, ioOpts)
}

func (b *Bridge) acquireLive(t Task, addr hostarch.Addr) error {
	m := t.MemoryManager()
	lk := &userSpinLock{t: t, mm: m, addr: addr}
	if err := lk.Lock(); err != nil {
		return spinErr(err)
	}
	for {
		// A killed task fails with EINTR even when the mutex is free.
		if t.Killed() {
			return unlockWith(lk, linuxerr.EINTR)
		}
		locked, err := m.LoadUint32(t, addr+lockedOff, ioOpts)
		if err != nil {
			return unlockWith(lk, err)
		}
		if locked == 0 {
			break
		}
		owner, err := m.LoadUint32(t, addr+ownerOff, ioOpts)
		if err != nil {
			return unlockWith(lk, err)
		}
		b.contended(t, addr, int32(owner))
		if err := b.sleep(t, addr, lk); err != nil {
			return err
		}
	}
	if err := m.StoreUint32(t, addr+ownerOff, uint32(t.ThreadID()), ioOpts); err != nil {
		return unlockWith(lk, err)
	}
	if err := m.StoreUint32(t, addr+lockedOff, 1, ioOpts); err != nil {
		return unlockWith(lk, err)
	}
	return lk.Unlock()
}

func (b *Bridge) releaseLive(t Task, addr hostarch.Addr) error {
	m := t.MemoryManager()
	lk := &userSpinLock{t: t, mm: m, addr: addr}
	if err := lk.Lock(); err != nil {
		return spinErr(err)
	}
	if err := m.StoreUint32(t, addr+lockedOff, 0, ioOpts); err != nil {
		return unlockWith(lk, err)
	}
	if err := m.StoreUint32(t, addr+ownerOff, 0, ioOpts); err != nil {
		return unlockWith(lk, err)
	}
	b.wakeup(t, addr)
	return lk.Unlock()
}
