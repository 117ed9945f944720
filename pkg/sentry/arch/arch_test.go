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

package arch

import (
	"testing"
)

func TestSyscallArgumentConversions(t *testing.T) {
	a := SyscallArgument{Value: ^uintptr(0)}
	if got := a.Int(); got != -1 {
		t.Errorf("Int() = %d, want -1", got)
	}
	if got := a.Uint(); got != 0xffffffff {
		t.Errorf("Uint() = %#x, want 0xffffffff", got)
	}
	if got := a.Int64(); got != -1 {
		t.Errorf("Int64() = %d, want -1", got)
	}
}

func TestRegisters(t *testing.T) {
	r := NewSyscall(23, 0x1000)
	if r.SyscallNo() != 23 {
		t.Errorf("SyscallNo() = %d, want 23", r.SyscallNo())
	}
	args := r.SyscallArgs()
	if got := args[0].Pointer(); got != 0x1000 {
		t.Errorf("args[0].Pointer() = %v, want 0x1000", got)
	}
	for i := 1; i < NumArgs; i++ {
		if args[i].Value != 0 {
			t.Errorf("args[%d] = %#x, want 0", i, args[i].Value)
		}
	}
	r.SetReturn(^uintptr(21))
	if got := int64(r.Return()); got != -22 {
		t.Errorf("Return() = %d, want -22", got)
	}
}

func TestNewSyscallTooManyArgs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("NewSyscall with %d args did not panic", NumArgs+1)
		}
	}()
	NewSyscall(0, make([]uintptr, NumArgs+1)...)
}
