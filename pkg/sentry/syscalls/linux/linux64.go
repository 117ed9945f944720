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

// Package linux provides the syscall table of the emulated kernel.
package linux

import (
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/syscalls"
)

// Table is the syscall table of the emulated kernel. Numbers follow the
// xv6 user ABI the simulated programs are written against; every number not
// listed fails with ENOSYS.
var Table = &kernel.SyscallTable{
	Name: "xv6",
	Table: map[uintptr]kernel.Syscall{
		linux.SYS_KILL:     syscalls.Supported("kill", Kill),
		linux.SYS_GETPID:   syscalls.Supported("getpid", Getpid),
		linux.SYS_NICE:     syscalls.Supported("nice", Nice),
		linux.SYS_MACQUIRE: syscalls.Supported("macquire", Macquire),
		linux.SYS_MRELEASE: syscalls.Supported("mrelease", Mrelease),
	},
	Missing: syscalls.Missing,
}
