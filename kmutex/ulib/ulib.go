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

// Package ulib is the user-side library simulated programs use to issue
// syscalls.
package ulib

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
)

// Getpid returns the caller's pid.
func Getpid(t *kernel.Task) int32 {
	return int32(t.Invoke(linux.SYS_GETPID))
}

// Kill kills the task with the given pid.
func Kill(t *kernel.Task, pid int32) int64 {
	return t.Invoke(linux.SYS_KILL, uintptr(int64(pid)))
}

// Nice adds inc to the caller's niceness.
func Nice(t *kernel.Task, inc int) int64 {
	return t.Invoke(linux.SYS_NICE, uintptr(int64(inc)))
}

// Macquire blocks until the caller owns the mutex at m.
func Macquire(t *kernel.Task, m hostarch.Addr) int64 {
	return t.Invoke(linux.SYS_MACQUIRE, uintptr(m))
}

// Mrelease releases the mutex at m.
func Mrelease(t *kernel.Task, m hostarch.Addr) int64 {
	return t.Invoke(linux.SYS_MRELEASE, uintptr(m))
}

// Error returns the error encoded in a syscall return value, or nil if ret
// is not a negated errno.
func Error(ret int64) error {
	if ret >= 0 || ret < -4095 {
		return nil
	}
	return linuxerr.ErrorFromUnix(unix.Errno(-ret))
}
