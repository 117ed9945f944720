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
	"sync/atomic"

	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/usermem"
)

// CheckIORange is similar to hostarch.Addr.ToRange, but applies bounds checks
// consistent with Linux's arch/x86/include/asm/uaccess.h:access_ok().
//
// Preconditions: length >= 0.
func (mm *MemoryManager) CheckIORange(addr hostarch.Addr, length int64) (hostarch.AddrRange, bool) {
	// Note that access_ok() constrains end even if length == 0.
	ar, ok := addr.ToRange(uint64(length))
	return ar, (ok && ar.End <= maxAddr)
}

// CheckAccess returns nil if every byte of ar is mapped with at least the
// permissions in at, and EFAULT otherwise.
func (mm *MemoryManager) CheckAccess(ar hostarch.AddrRange, at hostarch.AccessType) error {
	if !ar.WellFormed() || ar.End > maxAddr {
		return linuxerr.EFAULT
	}
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	n, err := mm.withVMAsLocked(ar, at, usermem.IOOpts{}, func(*vma, int, hostarch.AddrRange) {})
	if err != nil {
		return err
	}
	if n != int(ar.Length()) {
		return linuxerr.EFAULT
	}
	return nil
}

// withVMAsLocked calls fn for each contiguous piece of ar, in ascending
// order, that is mapped with permissions at. off is the offset of the piece
// within ar. It stops at the first unmapped or inaccessible byte and returns
// the number of bytes visited and EFAULT in that case.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) withVMAsLocked(ar hostarch.AddrRange, at hostarch.AccessType, opts usermem.IOOpts, fn func(v *vma, off int, piece hostarch.AddrRange)) (int, error) {
	next := ar.Start
	mm.forEachVMALocked(ar, func(v *vma) bool {
		if !v.ar.Contains(next) {
			// Gap before this vma.
			return false
		}
		if !opts.IgnorePermissions && !v.perms.SupersetOf(at) {
			return false
		}
		piece := v.ar.Intersect(ar)
		fn(v, int(piece.Start-ar.Start), piece)
		next = piece.End
		return next < ar.End
	})
	n := int(next - ar.Start)
	if next < ar.End {
		return n, linuxerr.EFAULT
	}
	return n, nil
}

// CopyOut implements usermem.IO.CopyOut. Aligned words are written
// atomically, so copies may run concurrently with the 32-bit atomics below.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts usermem.IOOpts) (int, error) {
	ar, ok := mm.CheckIORange(addr, int64(len(src)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	if len(src) == 0 {
		return 0, nil
	}
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.withVMAsLocked(ar, hostarch.Write, opts, func(v *vma, off int, piece hostarch.AddrRange) {
		usermem.StoreBytes(v.data, int(piece.Start-v.ar.Start), src[off:off+int(piece.Length())])
	})
}

// CopyIn implements usermem.IO.CopyIn. Aligned words are read atomically.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts usermem.IOOpts) (int, error) {
	ar, ok := mm.CheckIORange(addr, int64(len(dst)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	if len(dst) == 0 {
		return 0, nil
	}
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.withVMAsLocked(ar, hostarch.Read, opts, func(v *vma, off int, piece hostarch.AddrRange) {
		usermem.LoadBytes(dst[off:off+int(piece.Length())], v.data, int(piece.Start-v.ar.Start))
	})
}

// ZeroOut implements usermem.IO.ZeroOut.
func (mm *MemoryManager) ZeroOut(ctx context.Context, addr hostarch.Addr, toZero int64, opts usermem.IOOpts) (int64, error) {
	ar, ok := mm.CheckIORange(addr, toZero)
	if !ok {
		return 0, linuxerr.EFAULT
	}
	if toZero == 0 {
		return 0, nil
	}
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	n, err := mm.withVMAsLocked(ar, hostarch.Write, opts, func(v *vma, _ int, piece hostarch.AddrRange) {
		usermem.StoreBytes(v.data, int(piece.Start-v.ar.Start), make([]byte, piece.Length()))
	})
	return int64(n), err
}

// word32Locked returns the aligned word at addr, checking that the vma
// containing it permits at.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) word32Locked(addr hostarch.Addr, at hostarch.AccessType, opts usermem.IOOpts) (*uint32, error) {
	if !addr.IsAligned(4) {
		return nil, linuxerr.EINVAL
	}
	v := mm.findVMALocked(addr)
	if v == nil {
		return nil, linuxerr.EFAULT
	}
	if !opts.IgnorePermissions && !v.perms.SupersetOf(at) {
		return nil, linuxerr.EFAULT
	}
	// vmas are page-aligned and addr is 4-byte aligned, so the word never
	// straddles the end of v.
	return usermem.Word32(v.data, int(addr-v.ar.Start)), nil
}

// SwapUint32 implements usermem.IO.SwapUint32.
func (mm *MemoryManager) SwapUint32(ctx context.Context, addr hostarch.Addr, new uint32, opts usermem.IOOpts) (uint32, error) {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	p, err := mm.word32Locked(addr, hostarch.ReadWrite, opts)
	if err != nil {
		return 0, err
	}
	return atomic.SwapUint32(p, new), nil
}

// CompareAndSwapUint32 implements usermem.IO.CompareAndSwapUint32.
func (mm *MemoryManager) CompareAndSwapUint32(ctx context.Context, addr hostarch.Addr, old, new uint32, opts usermem.IOOpts) (uint32, error) {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	p, err := mm.word32Locked(addr, hostarch.ReadWrite, opts)
	if err != nil {
		return 0, err
	}
	return usermem.CompareAndSwap(p, old, new), nil
}

// LoadUint32 implements usermem.IO.LoadUint32.
func (mm *MemoryManager) LoadUint32(ctx context.Context, addr hostarch.Addr, opts usermem.IOOpts) (uint32, error) {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	p, err := mm.word32Locked(addr, hostarch.Read, opts)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// StoreUint32 implements usermem.IO.StoreUint32.
func (mm *MemoryManager) StoreUint32(ctx context.Context, addr hostarch.Addr, val uint32, opts usermem.IOOpts) error {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	p, err := mm.word32Locked(addr, hostarch.Write, opts)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, val)
	return nil
}
