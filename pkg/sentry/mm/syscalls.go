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

package mm

import (
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/usermem"
)

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Addr is the suggested address for the mapping. If Fixed is false, Addr
	// is ignored.
	Addr hostarch.Addr

	// Fixed specifies whether this is a fixed mapping (it must be located at
	// Addr). A fixed mapping never replaces an existing one.
	Fixed bool

	// Perms is the set of permissions to the applied to this mapping.
	Perms hostarch.AccessType

	// Hint is the name used for the mapping in MapsEntries.
	Hint string
}

// MMap establishes a memory mapping.
func (mm *MemoryManager) MMap(ctx context.Context, opts MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.Addr(opts.Length).RoundUp()
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	if opts.Fixed && !opts.Addr.IsPageAligned() {
		return 0, linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()

	var addr hostarch.Addr
	if opts.Fixed {
		ar, ok := opts.Addr.ToRange(uint64(length))
		if !ok || ar.End > maxAddr || opts.Addr < hostarch.PageSize {
			return 0, linuxerr.ENOMEM
		}
		if mm.overlapsLocked(ar) {
			return 0, linuxerr.EINVAL
		}
		addr = opts.Addr
	} else {
		addr, ok = mm.findAvailableLocked(length)
		if !ok {
			return 0, linuxerr.ENOMEM
		}
	}

	v := &vma{
		ar:    hostarch.AddrRange{Start: addr, End: addr + length},
		perms: opts.Perms,
		data:  make([]byte, length),
		hint:  opts.Hint,
	}
	mm.vmas.ReplaceOrInsert(v)
	mm.usageAS += uint64(length)
	ctx.Debugf("mmap %v %s %q", v.ar, v.perms, v.hint)
	return addr, nil
}

// MUnmap implements the semantics of Linux's munmap(2).
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	if !addr.IsPageAligned() || length == 0 {
		return linuxerr.EINVAL
	}
	la, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(uint64(la))
	if !ok || ar.End > maxAddr {
		return linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	for _, v := range mm.isolateLocked(ar) {
		mm.vmas.Delete(v)
		mm.usageAS -= uint64(v.ar.Length())
	}
	ctx.Debugf("munmap %v", ar)
	return nil
}

// MProtect implements the semantics of Linux's mprotect(2).
func (mm *MemoryManager) MProtect(ctx context.Context, addr hostarch.Addr, length uint64, perms hostarch.AccessType) error {
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return nil
	}
	la, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return linuxerr.ENOMEM
	}
	ar, ok := addr.ToRange(uint64(la))
	if !ok || ar.End > maxAddr {
		return linuxerr.ENOMEM
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	// Linux fails with ENOMEM if any part of the range is unmapped, without
	// changing anything.
	if _, err := mm.withVMAsLocked(ar, hostarch.NoAccess, usermem.IOOpts{IgnorePermissions: true}, func(*vma, int, hostarch.AddrRange) {}); err != nil {
		return linuxerr.ENOMEM
	}
	for _, v := range mm.isolateLocked(ar) {
		v.perms = perms
	}
	return nil
}

// Usage returns the number of bytes mapped.
func (mm *MemoryManager) Usage() uint64 {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.usageAS
}
