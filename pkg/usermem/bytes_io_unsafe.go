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

package usermem

import (
	"sync/atomic"
	"unsafe"

	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/hostarch"
)

// Word32 returns the uint32 at byte offset off in bs for atomic access.
//
// Preconditions: off is 4-byte aligned and bs[off:off+4] is in bounds. The
// backing array of bs is at least 4-byte aligned.
func Word32(bs []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&bs[off]))
}

// LoadBytes copies len(dst) bytes starting at bs[off] into dst. Each aligned
// word of bs is read with one atomic load; a byte at a ragged edge is taken
// from an atomic load of its containing word. LoadBytes therefore never
// races with the 32-bit atomics on bs.
//
// Preconditions: bs[off:off+len(dst)] is in bounds. The backing array of bs
// is at least 4-byte aligned. Words are little-endian.
func LoadBytes(dst, bs []byte, off int) {
	for i := 0; i < len(dst); {
		a := off + i
		w := a &^ 3
		if w+4 > len(bs) {
			// No whole word; nothing can access this byte atomically.
			dst[i] = bs[a]
			i++
			continue
		}
		v := atomic.LoadUint32(Word32(bs, w))
		if a == w && len(dst)-i >= 4 {
			hostarch.ByteOrder.PutUint32(dst[i:], v)
			i += 4
			continue
		}
		dst[i] = byte(v >> (8 * uint(a-w)))
		i++
	}
}

// StoreBytes copies src into bs starting at bs[off]. Each aligned word of bs
// is written with one atomic store; a byte at a ragged edge is merged into
// its containing word with compare-and-swap.
//
// Preconditions: as for LoadBytes.
func StoreBytes(bs []byte, off int, src []byte) {
	for i := 0; i < len(src); {
		a := off + i
		w := a &^ 3
		if w+4 > len(bs) {
			bs[a] = src[i]
			i++
			continue
		}
		p := Word32(bs, w)
		if a == w && len(src)-i >= 4 {
			atomic.StoreUint32(p, hostarch.ByteOrder.Uint32(src[i:]))
			i += 4
			continue
		}
		shift := 8 * uint(a-w)
		for {
			old := atomic.LoadUint32(p)
			new := old&^(0xff<<shift) | uint32(src[i])<<shift
			if atomic.CompareAndSwapUint32(p, old, new) {
				break
			}
		}
		i++
	}
}

// SwapUint32 implements IO.SwapUint32.
func (b *BytesIO) SwapUint32(ctx context.Context, addr hostarch.Addr, new uint32, opts IOOpts) (uint32, error) {
	if err := b.atomicCheck(addr); err != nil {
		return 0, err
	}
	return atomic.SwapUint32(Word32(b.Bytes, int(addr)), new), nil
}

// CompareAndSwapUint32 implements IO.CompareAndSwapUint32.
func (b *BytesIO) CompareAndSwapUint32(ctx context.Context, addr hostarch.Addr, old, new uint32, opts IOOpts) (uint32, error) {
	if err := b.atomicCheck(addr); err != nil {
		return 0, err
	}
	return CompareAndSwap(Word32(b.Bytes, int(addr)), old, new), nil
}

// LoadUint32 implements IO.LoadUint32.
func (b *BytesIO) LoadUint32(ctx context.Context, addr hostarch.Addr, opts IOOpts) (uint32, error) {
	if err := b.atomicCheck(addr); err != nil {
		return 0, err
	}
	return atomic.LoadUint32(Word32(b.Bytes, int(addr))), nil
}

// StoreUint32 implements IO.StoreUint32.
func (b *BytesIO) StoreUint32(ctx context.Context, addr hostarch.Addr, val uint32, opts IOOpts) error {
	if err := b.atomicCheck(addr); err != nil {
		return err
	}
	atomic.StoreUint32(Word32(b.Bytes, int(addr)), val)
	return nil
}

// CompareAndSwap is like atomic.CompareAndSwapUint32, but returns the value
// previously stored at ptr.
func CompareAndSwap(ptr *uint32, old, new uint32) uint32 {
	for {
		if atomic.CompareAndSwapUint32(ptr, old, new) {
			return old
		}
		if prev := atomic.LoadUint32(ptr); prev != old {
			return prev
		}
	}
}
