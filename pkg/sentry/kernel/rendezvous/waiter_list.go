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

package rendezvous

// waiterEntry is an entry in an intrusive doubly-linked waiterList.
type waiterEntry struct {
	next *Waiter
	prev *Waiter
}

// Next returns the entry that follows e in the list.
func (e *waiterEntry) Next() *Waiter {
	return e.next
}

// Prev returns the entry that precedes e in the list.
func (e *waiterEntry) Prev() *Waiter {
	return e.prev
}

// SetNext assigns 'entry' as the entry that follows e in the list.
func (e *waiterEntry) SetNext(elem *Waiter) {
	e.next = elem
}

// SetPrev assigns 'entry' as the entry that precedes e in the list.
func (e *waiterEntry) SetPrev(elem *Waiter) {
	e.prev = elem
}

// waiterList is an intrusive list of Waiters.
//
// The zero value for waiterList is an empty list ready to use.
//
// To iterate over a list (where l is a waiterList):
//
//	for e := l.Front(); e != nil; e = e.Next() {
//		// do something with e.
//	}
type waiterList struct {
	head *Waiter
	tail *Waiter
}

// Empty returns true iff the list is empty.
func (l *waiterList) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
func (l *waiterList) Front() *Waiter {
	return l.head
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
func (l *waiterList) Len() (count int) {
	for e := l.Front(); e != nil; e = e.Next() {
		count++
	}
	return count
}

// PushBack inserts the element e at the back of list l.
func (l *waiterList) PushBack(e *Waiter) {
	e.SetNext(nil)
	e.SetPrev(l.tail)
	if l.tail != nil {
		l.tail.SetNext(e)
	} else {
		l.head = e
	}
	l.tail = e
}

// Remove removes e from l.
func (l *waiterList) Remove(e *Waiter) {
	prev := e.Prev()
	next := e.Next()

	if prev != nil {
		prev.SetNext(next)
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		next.SetPrev(prev)
	} else if l.tail == e {
		l.tail = prev
	}

	e.SetNext(nil)
	e.SetPrev(nil)
}
