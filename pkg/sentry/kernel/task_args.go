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

package kernel

import (
	"math"

	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/arch"
)

// CheckUserRange returns nil if the size bytes at addr are aligned to align
// and mapped in t's address space with at least the access in at. It fails
// closed: any failure, including a fault, is reported as EINVAL.
func (t *Task) CheckUserRange(addr hostarch.Addr, size int, align uint64, at hostarch.AccessType) error {
	if size < 0 || !addr.IsAligned(align) {
		return linuxerr.EINVAL
	}
	ar, ok := t.image.CheckIORange(addr, int64(size))
	if !ok {
		return linuxerr.EINVAL
	}
	if err := t.image.CheckAccess(ar, at); err != nil {
		t.Debugf("Rejecting user range %v (%v): %v", ar, at, err)
		return linuxerr.EINVAL
	}
	return nil
}

// IntArg returns syscall argument i as a C int. It returns EINVAL if there is
// no such argument or its register does not hold a sign-extended 32-bit
// value.
func (t *Task) IntArg(args arch.SyscallArguments, i int) (int32, error) {
	if i < 0 || i >= len(args) {
		return 0, linuxerr.EINVAL
	}
	v := args[i].Int64()
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, linuxerr.EINVAL
	}
	return int32(v), nil
}

// PointerArg returns syscall argument i as a pointer to size bytes aligned to
// align that t can access with at. It returns EINVAL if the pointer is not
// valid.
func (t *Task) PointerArg(args arch.SyscallArguments, i int, size int, align uint64, at hostarch.AccessType) (hostarch.Addr, error) {
	if i < 0 || i >= len(args) {
		return 0, linuxerr.EINVAL
	}
	addr := args[i].Pointer()
	if err := t.CheckUserRange(addr, size, align, at); err != nil {
		return 0, err
	}
	return addr, nil
}
