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
	"fmt"

	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sync"
)

const (
	// lockCount is the number of kernel locks shared by all staged mutexes.
	lockCount     = 1 << lockCountBits
	lockCountBits = 8
)

// lockTable holds the low-level locks of Staged mode. Mutexes whose
// addresses hash to the same slot share a lock.
type lockTable struct {
	locks [lockCount]sync.SpinLock
}

func newLockTable() *lockTable {
	lt := &lockTable{}
	for i := range lt.locks {
		lt.locks[i].Init(fmt.Sprintf("umutex-%d", i))
	}
	return lt
}

func (lt *lockTable) lockFor(addr hostarch.Addr) *sync.SpinLock {
	a := uintptr(addr)
	return &lt.locks[((a>>3)+(a>>11)+(a>>19))%lockCount]
}

// kernelLock adapts a kernel SpinLock held on behalf of a CPU to
// rendezvous.Lock.
type kernelLock struct {
	l   *sync.SpinLock
	cpu int32
}

// Lock implements rendezvous.Lock.Lock.
func (k kernelLock) Lock() error {
	k.l.Lock(k.cpu)
	return nil
}

// Unlock implements rendezvous.Lock.Unlock.
func (k kernelLock) Unlock() error {
	k.l.Unlock()
	return nil
}

// stage reads the mutex at addr into buf and decodes it into mu.
//
// Preconditions: The low-level lock of the mutex is held.
func stage(t Task, addr hostarch.Addr, buf []byte, mu *linux.UMutex) error {
	if _, err := t.MemoryManager().CopyIn(t, addr, buf, ioOpts); err != nil {
		return err
	}
	mu.UnmarshalBytes(buf)
	return nil
}

// writeBack encodes mu into buf and writes it to addr.
//
// Preconditions: The low-level lock of the mutex is held.
func writeBack(t Task, addr hostarch.Addr, buf []byte, mu *linux.UMutex) error {
	mu.MarshalBytes(buf)
	_, err := t.MemoryManager().CopyOut(t, addr, buf, ioOpts)
	return err
}

func (b *Bridge) acquireStaged(t Task, addr hostarch.Addr) error {
	buf, err := b.alloc.Allocate(linux.SizeOfUMutex)
	if err != nil {
		return err
	}
	defer b.alloc.Free(buf)

	lk := kernelLock{l: b.locks.lockFor(addr), cpu: t.CPU()}
	lk.Lock()
	var mu linux.UMutex
	for {
		// A killed task fails with EINTR even when the mutex is free.
		if t.Killed() {
			return unlockWith(lk, linuxerr.EINTR)
		}
		// The copy is stale after every sleep.
		if err := stage(t, addr, buf, &mu); err != nil {
			return unlockWith(lk, err)
		}
		if mu.Locked == 0 {
			break
		}
		b.contended(t, addr, mu.Owner)
		if err := b.sleep(t, addr, lk); err != nil {
			return err
		}
	}
	mu.Locked = 1
	mu.Owner = t.ThreadID()
	return unlockWith(lk, writeBack(t, addr, buf, &mu))
}

func (b *Bridge) releaseStaged(t Task, addr hostarch.Addr) error {
	buf, err := b.alloc.Allocate(linux.SizeOfUMutex)
	if err != nil {
		return err
	}
	defer b.alloc.Free(buf)

	lk := kernelLock{l: b.locks.lockFor(addr), cpu: t.CPU()}
	lk.Lock()
	var mu linux.UMutex
	if err := stage(t, addr, buf, &mu); err != nil {
		return unlockWith(lk, err)
	}
	mu.Locked = 0
	mu.Owner = 0
	if err := writeBack(t, addr, buf, &mu); err != nil {
		return unlockWith(lk, err)
	}
	b.wakeup(t, addr)
	return lk.Unlock()
}
