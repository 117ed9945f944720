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

// Package mm provides a memory management subsystem. See README.md for a
// detailed overview.
//
// Lock order:
//
//	fs locks, except for memmap.Mappable locks
//		mm.MemoryManager.mappingMu
package mm

import (
	"github.com/google/btree"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sync"
)

const (
	// vmaDegree is the B-tree degree used to index vmas.
	vmaDegree = 8

	// mmapBase is the lowest address returned by MMap when no address hint is
	// given. Address 0 and the page after it are never mapped so that null
	// pointers always fault.
	mmapBase hostarch.Addr = 0x10000

	// maxAddr is the exclusive upper bound of the application address space.
	maxAddr hostarch.Addr = 1 << 47
)

// MemoryManager implements a virtual address space.
//
// Each mapping is backed by a private, zero-filled byte slice owned by the
// MemoryManager; there are no page tables and no demand paging.
type MemoryManager struct {
	// mappingMu is analogous to Linux's struct mm_struct::mmap_sem. Copies and
	// atomic operations hold mappingMu for reading; MMap, MUnmap and
	// MProtect hold it for writing.
	mappingMu sync.RWMutex `state:"nosave"`

	// vmas stores virtual memory areas, ordered by start address. vmas never
	// overlap.
	//
	// vmas is protected by mappingMu.
	vmas *btree.BTreeG[*vma]

	// usageAS is vmas.Span(), cached to accelerate RLIMIT_AS checks.
	//
	// usageAS is protected by mappingMu.
	usageAS uint64
}

// vma represents a virtual memory area.
type vma struct {
	// ar is the range of the vma. ar is page-aligned and non-empty.
	ar hostarch.AddrRange

	// perms is the set of permissions the application may use to access the
	// vma.
	perms hostarch.AccessType

	// data backs the vma; len(data) == ar.Length().
	data []byte

	// hint is an optional name shown by MapsEntries.
	hint string
}

func vmaLess(a, b *vma) bool {
	return a.ar.Start < b.ar.Start
}

// NewMemoryManager returns a new MemoryManager with no mappings.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		vmas: btree.NewG[*vma](vmaDegree, vmaLess),
	}
}

// findVMALocked returns the vma containing addr, or nil.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findVMALocked(addr hostarch.Addr) *vma {
	var found *vma
	mm.vmas.DescendLessOrEqual(&vma{ar: hostarch.AddrRange{Start: addr}}, func(v *vma) bool {
		if v.ar.Contains(addr) {
			found = v
		}
		return false
	})
	return found
}

// forEachVMALocked calls fn for each vma overlapping ar in ascending order,
// until fn returns false.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) forEachVMALocked(ar hostarch.AddrRange, fn func(v *vma) bool) {
	start := ar.Start
	if v := mm.findVMALocked(ar.Start); v != nil {
		start = v.ar.Start
	}
	mm.vmas.AscendGreaterOrEqual(&vma{ar: hostarch.AddrRange{Start: start}}, func(v *vma) bool {
		if v.ar.Start >= ar.End {
			return false
		}
		return fn(v)
	})
}

// overlapsLocked returns true if any vma overlaps ar.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) overlapsLocked(ar hostarch.AddrRange) bool {
	overlaps := false
	mm.forEachVMALocked(ar, func(v *vma) bool {
		overlaps = v.ar.Overlaps(ar)
		return !overlaps
	})
	return overlaps
}

// splitLocked ensures that no vma straddles addr.
//
// Preconditions: mm.mappingMu must be locked for writing. addr is page-aligned.
func (mm *MemoryManager) splitLocked(addr hostarch.Addr) {
	v := mm.findVMALocked(addr)
	if v == nil || v.ar.Start == addr {
		return
	}
	off := int(addr - v.ar.Start)
	tail := &vma{
		ar:    hostarch.AddrRange{Start: addr, End: v.ar.End},
		perms: v.perms,
		data:  v.data[off:],
		hint:  v.hint,
	}
	v.ar.End = addr
	v.data = v.data[:off:off]
	mm.vmas.ReplaceOrInsert(tail)
}

// isolateLocked splits vmas so that every vma overlapping ar lies entirely
// within ar, and returns those vmas.
//
// Preconditions: mm.mappingMu must be locked for writing. ar is page-aligned.
func (mm *MemoryManager) isolateLocked(ar hostarch.AddrRange) []*vma {
	mm.splitLocked(ar.Start)
	mm.splitLocked(ar.End)
	var vs []*vma
	mm.forEachVMALocked(ar, func(v *vma) bool {
		vs = append(vs, v)
		return true
	})
	return vs
}

// findAvailableLocked returns the lowest address at or above mmapBase where
// length bytes are unmapped.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findAvailableLocked(length hostarch.Addr) (hostarch.Addr, bool) {
	candidate := mmapBase
	mm.vmas.AscendGreaterOrEqual(&vma{ar: hostarch.AddrRange{Start: 0}}, func(v *vma) bool {
		if v.ar.End <= candidate {
			return true
		}
		if v.ar.Start >= candidate+length {
			return false
		}
		candidate = v.ar.End
		return true
	})
	end, ok := candidate.AddLength(uint64(length))
	if !ok || end > maxAddr {
		return 0, false
	}
	return candidate, true
}
