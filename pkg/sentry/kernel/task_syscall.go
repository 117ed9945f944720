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

package kernel

import (
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/log"
	"gvisor.dev/kmutex/pkg/sentry/arch"
)

// executeSyscall executes a syscall from the task goroutine and returns its
// result and error.
func (t *Task) executeSyscall(sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	s := t.k.syscalls
	if fn := s.Lookup(sysno); fn != nil {
		return fn(t, sysno, args)
	}
	if s.Missing != nil {
		return s.Missing(t, sysno, args)
	}
	t.Warningf("Unsupported syscall %d", sysno)
	return 0, linuxerr.ENOSYS
}

// doSyscall runs the syscall described by ac and stores its return value:
// the result on success, or the negated errno on failure.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) doSyscall(ac arch.Context) {
	sysno := ac.SyscallNo()
	args := ac.SyscallArgs()
	if t.IsLogging(log.Debug) {
		t.Debugf("Syscall %s(%#x, %#x, %#x)", t.k.syscalls.LookupName(sysno), args[0].Value, args[1].Value, args[2].Value)
	}

	rval, err := t.executeSyscall(sysno, args)
	if err == nil {
		ac.SetReturn(rval)
		return
	}
	e, ok := linuxerr.Translate(err)
	if !ok {
		// Internal errors never reach user space as is.
		t.Warningf("Syscall %s returned untranslatable error %v, returning EINVAL", t.k.syscalls.LookupName(sysno), err)
		e = linuxerr.EINVAL
	}
	t.Debugf("Syscall %s failed: %v", t.k.syscalls.LookupName(sysno), e)
	ac.SetReturn(uintptr(-int64(e.Errno())))
}

// Syscall runs the syscall whose number and arguments are in regs and stores
// the result in regs.Ret.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) Syscall(regs *arch.Registers) {
	t.doSyscall(regs)
}

// Invoke issues syscall sysno with the given arguments and returns the value
// user space sees: the result, or the negated errno.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) Invoke(sysno uintptr, args ...uintptr) int64 {
	regs := arch.NewSyscall(sysno, args...)
	t.Syscall(regs)
	return int64(regs.Return())
}
