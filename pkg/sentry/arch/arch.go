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

// Package arch provides abstractions around the register file that a task
// presents at a syscall boundary.
package arch

import (
	"fmt"
)

// NumArgs is the number of argument registers available to a syscall.
const NumArgs = len(SyscallArguments{})

// Registers is the register file of a task stopped at a syscall boundary:
// the syscall number, its arguments, and the return value slot.
type Registers struct {
	// Sysno is the syscall number register.
	Sysno uintptr

	// Args are the argument registers, in order.
	Args [NumArgs]uintptr

	// Ret is the return value register.
	Ret uintptr
}

// Context provides an interface to a task's register state.
type Context interface {
	// SyscallNo returns the syscall number.
	SyscallNo() uintptr

	// SyscallArgs returns the syscall arguments in an array.
	SyscallArgs() SyscallArguments

	// SetReturn sets the return value.
	SetReturn(value uintptr)

	// Return returns the current return value.
	Return() uintptr
}

// SyscallNo implements Context.SyscallNo.
func (r *Registers) SyscallNo() uintptr {
	return r.Sysno
}

// SyscallArgs implements Context.SyscallArgs.
func (r *Registers) SyscallArgs() SyscallArguments {
	var args SyscallArguments
	for i, v := range r.Args {
		args[i] = SyscallArgument{Value: v}
	}
	return args
}

// SetReturn implements Context.SetReturn.
func (r *Registers) SetReturn(value uintptr) {
	r.Ret = value
}

// Return implements Context.Return.
func (r *Registers) Return() uintptr {
	return r.Ret
}

// String implements fmt.Stringer.String.
func (r *Registers) String() string {
	return fmt.Sprintf("sysno=%d args=%#x ret=%#x", r.Sysno, r.Args, r.Ret)
}

// NewSyscall returns a register file set up to issue syscall sysno with
// the given arguments.
func NewSyscall(sysno uintptr, args ...uintptr) *Registers {
	if len(args) > NumArgs {
		panic(fmt.Sprintf("too many syscall arguments: %d", len(args)))
	}
	r := &Registers{Sysno: sysno}
	copy(r.Args[:], args)
	return r
}

var _ Context = (*Registers)(nil)
