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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUMutexLayout(t *testing.T) {
	m := UMutex{
		Locked: 1,
		Owner:  0x01020304,
		Lock: Spinlock{
			Name:   0x1122334455667788,
			Locked: 1,
			CPU:    SpinlockNoCPU,
		},
	}
	buf := make([]byte, SizeOfUMutex)
	if rest := m.MarshalBytes(buf); len(rest) != 0 {
		t.Fatalf("MarshalBytes left %d bytes", len(rest))
	}
	want := []byte{
		1, 0, 0, 0, // locked
		4, 3, 2, 1, // owner
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, // lock.name
		1, 0, 0, 0, // lock.locked
		0xff, 0xff, 0xff, 0xff, // lock.cpu
	}
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	var got UMutex
	got.UnmarshalBytes(buf)
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("UnmarshalBytes mismatch (-want +got):\n%s", diff)
	}
}

func TestNewUMutexIsFree(t *testing.T) {
	m := NewUMutex(0x4000)
	if m.Locked != 0 || m.Owner != 0 || m.Lock.Locked != 0 || m.Lock.CPU != SpinlockNoCPU {
		t.Errorf("NewUMutex returned a held mutex: %v", m)
	}
}
