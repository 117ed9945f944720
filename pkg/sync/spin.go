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

package sync

import (
	"runtime"
	"sync/atomic"
)

// Goyield is runtime.goyield, which is similar to runtime.Gosched but only
// yields the processor to other goroutines already on the processor's
// runqueue.
//
// This implementation falls back to runtime.Gosched, which is always
// available.
func Goyield() {
	runtime.Gosched()
}

// NoCPU is the owning CPU recorded for an unheld SpinLock.
const NoCPU = -1

// SpinLock is a non-blocking mutual exclusion lock over small state. It
// records the CPU that holds it, which is useful when debugging lock leaks.
//
// The zero value of SpinLock is an unlocked lock owned by CPU 0; use
// NewSpinLock or Init to record NoCPU as the initial owner.
type SpinLock struct {
	locked atomic.Uint32
	cpu    atomic.Int32
	name   string
}

// NewSpinLock returns an unlocked SpinLock with the given name.
func NewSpinLock(name string) *SpinLock {
	l := &SpinLock{}
	l.Init(name)
	return l
}

// Init initializes l as unlocked.
func (l *SpinLock) Init(name string) {
	l.name = name
	l.cpu.Store(NoCPU)
	l.locked.Store(0)
}

// Name returns the name l was initialized with.
func (l *SpinLock) Name() string {
	return l.name
}

// Lock acquires l on behalf of cpu, spinning until it is available.
func (l *SpinLock) Lock(cpu int32) {
	for !l.TryLock(cpu) {
		Goyield()
	}
}

// TryLock attempts to acquire l on behalf of cpu without spinning.
func (l *SpinLock) TryLock(cpu int32) bool {
	if !l.locked.CompareAndSwap(0, 1) {
		return false
	}
	l.cpu.Store(cpu)
	return true
}

// Unlock releases l.
//
// Preconditions: l is held.
func (l *SpinLock) Unlock() {
	l.cpu.Store(NoCPU)
	if l.locked.Swap(0) == 0 {
		panic("sync: unlock of unlocked SpinLock " + l.name)
	}
}

// Holding returns true if l is held by cpu.
func (l *SpinLock) Holding(cpu int32) bool {
	return l.locked.Load() != 0 && l.cpu.Load() == cpu
}
