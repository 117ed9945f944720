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
	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/arch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
)

// Macquire implements macquire(mutex): it blocks until the caller owns the
// linux.UMutex at mutex.
func Macquire(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	addr, err := t.PointerArg(args, 0, linux.SizeOfUMutex, linux.UMutexAlign, hostarch.ReadWrite)
	if err != nil {
		return 0, err
	}
	if err := t.Kernel().UMutex().Acquire(t, addr); err != nil {
		return 0, err
	}
	return 0, nil
}

// Mrelease implements mrelease(mutex): it marks the linux.UMutex at mutex
// unowned and wakes its waiters.
func Mrelease(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	addr, err := t.PointerArg(args, 0, linux.SizeOfUMutex, linux.UMutexAlign, hostarch.ReadWrite)
	if err != nil {
		return 0, err
	}
	if err := t.Kernel().UMutex().Release(t, addr); err != nil {
		return 0, err
	}
	return 0, nil
}
