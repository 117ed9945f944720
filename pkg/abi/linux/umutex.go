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

package linux

import (
	"fmt"

	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/marshal"
)

// Field offsets within a UMutex in user memory. The layout is stable so that
// any process mapping the same memory agrees on it.
const (
	UMutexLockedOffset   = 0
	UMutexOwnerOffset    = 4
	UMutexLockOffset     = 8
	SpinlockNameOffset   = 0
	SpinlockLockedOffset = 8
	SpinlockCPUOffset    = 12

	// UMutexAlign is the required alignment of a UMutex in user memory.
	UMutexAlign = 8

	// SizeOfSpinlock is the marshalled size of a Spinlock.
	SizeOfSpinlock = 16

	// SizeOfUMutex is the marshalled size of a UMutex.
	SizeOfUMutex = 24

	// SpinlockNoCPU is the CPU recorded in a free Spinlock.
	SpinlockNoCPU = -1
)

// Spinlock is the low-level lock embedded in a UMutex.
//
// +marshal
type Spinlock struct {
	// Name points to a NUL-terminated name in user memory. The kernel never
	// dereferences it.
	Name uint64

	// Locked is 1 while the lock is held.
	Locked uint32

	// CPU is the CPU holding the lock, or SpinlockNoCPU.
	CPU int32
}

// UMutex is the user-visible mutex, as laid out in user memory.
//
// +marshal
type UMutex struct {
	// Locked is 1 while the mutex is owned.
	Locked int32

	// Owner is the pid of the owning process, or 0.
	Owner int32

	// Lock guards Locked and Owner.
	Lock Spinlock
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *Spinlock) SizeBytes() int {
	return SizeOfSpinlock
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Spinlock) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[SpinlockNameOffset:], s.Name)
	hostarch.ByteOrder.PutUint32(dst[SpinlockLockedOffset:], s.Locked)
	hostarch.ByteOrder.PutUint32(dst[SpinlockCPUOffset:], uint32(s.CPU))
	return dst[SizeOfSpinlock:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Spinlock) UnmarshalBytes(src []byte) []byte {
	s.Name = hostarch.ByteOrder.Uint64(src[SpinlockNameOffset:])
	s.Locked = hostarch.ByteOrder.Uint32(src[SpinlockLockedOffset:])
	s.CPU = int32(hostarch.ByteOrder.Uint32(src[SpinlockCPUOffset:]))
	return src[SizeOfSpinlock:]
}

// CopyOut implements marshal.Marshallable.CopyOut.
func (s *Spinlock) CopyOut(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := cc.CopyScratchBuffer(s.SizeBytes())
	s.MarshalBytes(buf)
	return cc.CopyOutBytes(addr, buf)
}

// CopyIn implements marshal.Marshallable.CopyIn.
func (s *Spinlock) CopyIn(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := cc.CopyScratchBuffer(s.SizeBytes())
	n, err := cc.CopyInBytes(addr, buf)
	if err != nil {
		return n, err
	}
	s.UnmarshalBytes(buf)
	return n, nil
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (m *UMutex) SizeBytes() int {
	return SizeOfUMutex
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (m *UMutex) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[UMutexLockedOffset:], uint32(m.Locked))
	hostarch.ByteOrder.PutUint32(dst[UMutexOwnerOffset:], uint32(m.Owner))
	return m.Lock.MarshalBytes(dst[UMutexLockOffset:])
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (m *UMutex) UnmarshalBytes(src []byte) []byte {
	m.Locked = int32(hostarch.ByteOrder.Uint32(src[UMutexLockedOffset:]))
	m.Owner = int32(hostarch.ByteOrder.Uint32(src[UMutexOwnerOffset:]))
	return m.Lock.UnmarshalBytes(src[UMutexLockOffset:])
}

// CopyOut implements marshal.Marshallable.CopyOut.
func (m *UMutex) CopyOut(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := cc.CopyScratchBuffer(m.SizeBytes())
	m.MarshalBytes(buf)
	return cc.CopyOutBytes(addr, buf)
}

// CopyIn implements marshal.Marshallable.CopyIn.
func (m *UMutex) CopyIn(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := cc.CopyScratchBuffer(m.SizeBytes())
	n, err := cc.CopyInBytes(addr, buf)
	if err != nil {
		return n, err
	}
	m.UnmarshalBytes(buf)
	return n, nil
}

// String implements fmt.Stringer.String.
func (m UMutex) String() string {
	return fmt.Sprintf("{locked=%d owner=%d lock={name=%#x locked=%d cpu=%d}}", m.Locked, m.Owner, m.Lock.Name, m.Lock.Locked, m.Lock.CPU)
}

// NewUMutex returns an initialized, unlocked UMutex whose embedded lock name
// points at name.
func NewUMutex(name hostarch.Addr) UMutex {
	return UMutex{
		Lock: Spinlock{
			Name: uint64(name),
			CPU:  SpinlockNoCPU,
		},
	}
}

var _ marshal.Marshallable = (*UMutex)(nil)
var _ marshal.Marshallable = (*Spinlock)(nil)
