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

// Package rendezvous implements the sleep/wakeup channels on which tasks block
// while waiting for user-memory synchronization objects.
//
// A sleeper is registered under a Key before the lock guarding the awaited
// condition is released, so a waker that changes the condition under the same
// lock and then calls WakeupAll cannot miss it. Wakeups are broadcasts and may
// be spurious: sleepers must recheck their condition after Sleep returns.
package rendezvous

import (
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sync"
)

// Key identifies a sleep channel: an address within one address space.
type Key struct {
	// Space identifies the address space containing Addr. It is compared
	// by identity only and must hold a comparable value, typically a
	// pointer.
	Space any

	// Addr is the user address being waited on.
	Addr hostarch.Addr
}

// Lock is the lock guarding the condition a sleeper waits for. Sleep
// releases it after the sleeper is registered and reacquires it after the
// sleeper is woken or interrupted.
type Lock interface {
	Lock() error
	Unlock() error
}

// Waiter is a single sleeper.
type Waiter struct {
	// Synchronization:
	//
	// - A Waiter that is not enqueued in a bucket is exclusively owned (no
	// synchronization applies).
	//
	// - A Waiter is enqueued in a bucket by calling enqueue while holding
	// that bucket's lock.
	//
	// - A Waiter is only guaranteed to be no longer queued after calling
	// dequeue while holding that bucket's lock.
	waiterEntry

	// key is the channel this waiter sleeps on. key is immutable while the
	// waiter is enqueued.
	key Key

	// C is sent to when the Waiter is woken.
	C chan struct{}
}

// NewWaiter returns a new unqueued Waiter.
func NewWaiter() *Waiter {
	return &Waiter{
		C: make(chan struct{}, 1),
	}
}

// woken returns true if w has been woken since the last time w.C was drained.
func (w *Waiter) woken() bool {
	return len(w.C) != 0
}

// bucket holds a list of waiters whose keys hash to the same bucket.
type bucket struct {
	mu sync.Mutex

	// waiters is protected by mu.
	waiters waiterList
}

// wakeLocked wakes every waiter in b sleeping on key and returns the number
// woken.
//
// Preconditions: b.mu must be locked.
func (b *bucket) wakeLocked(key Key) int {
	done := 0
	for w := b.waiters.Front(); w != nil; {
		if w.key != key {
			w = w.Next()
			continue
		}
		woke := w
		w = w.Next() // Next iteration.
		b.waiters.Remove(woke)
		woke.C <- struct{}{}
		done++
	}
	return done
}

const (
	// bucketCount is the number of buckets per Table. By having many of
	// these we reduce contention when concurrent yet unrelated calls are
	// made.
	bucketCount     = 1 << bucketCountBits
	bucketCountBits = 10
)

// bucketIndexForAddr returns the index into Table.buckets for addr.
func bucketIndexForAddr(addr hostarch.Addr) uintptr {
	// Mutexes are 8-byte aligned, so the bottom 3 bits carry no entropy.
	// The remaining sum keeps adjacent mutexes in adjacent buckets.
	a := uintptr(addr)
	h1 := (a >> 3) + (a >> 13) + (a >> 23)
	h2 := (a >> 33) + (a >> 43)
	return (h1 + h2) % bucketCount
}

// Table is the set of sleep channels shared by every task of a kernel.
//
// The zero value is ready for use.
type Table struct {
	buckets [bucketCount]bucket
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) lockBucket(key Key) *bucket {
	b := &t.buckets[bucketIndexForAddr(key.Addr)]
	b.mu.Lock()
	return b
}

// Sleep blocks the caller on key.
//
// Sleep registers the caller, releases lk, and blocks until a WakeupAll on
// key or until b is interrupted. lk is reacquired before Sleep returns in
// every case except a failure to release it.
//
// It returns linuxerr.EINTR if the sleep was interrupted before a wakeup
// arrived. Errors from lk are returned as is.
//
// Preconditions: lk is held by the caller.
func (t *Table) Sleep(b context.Blocker, key Key, lk Lock) error {
	w := NewWaiter()
	w.key = key

	bkt := t.lockBucket(key)
	bkt.waiters.PushBack(w)
	bkt.mu.Unlock()

	if err := lk.Unlock(); err != nil {
		t.dequeue(w)
		return err
	}

	woken := b.BlockOn(w.C)
	if !woken {
		// A wakeup may have raced with the interrupt; either way the
		// waiter must be off the queue before it is discarded.
		t.dequeue(w)
	}

	if err := lk.Lock(); err != nil {
		return err
	}
	if !woken {
		return linuxerr.EINTR
	}
	return nil
}

// dequeue removes w from its bucket if it is still queued.
func (t *Table) dequeue(w *Waiter) {
	bkt := t.lockBucket(w.key)
	defer bkt.mu.Unlock()
	if !w.woken() {
		bkt.waiters.Remove(w)
	}
}

// WakeupAll wakes every task sleeping on key and returns the number woken.
func (t *Table) WakeupAll(key Key) int {
	bkt := t.lockBucket(key)
	defer bkt.mu.Unlock()
	return bkt.wakeLocked(key)
}

// Sleepers returns the number of tasks sleeping on key.
func (t *Table) Sleepers(key Key) int {
	bkt := t.lockBucket(key)
	defer bkt.mu.Unlock()
	n := 0
	for w := bkt.waiters.Front(); w != nil; w = w.Next() {
		if w.key == key {
			n++
		}
	}
	return n
}
