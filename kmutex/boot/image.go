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

package boot

import (
	"fmt"

	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/context"
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/sentry/mm"
	"gvisor.dev/kmutex/pkg/usermem"
)

// counterSize is the size of a shared counter.
const counterSize = 4

// Image is an address space shared by a group of simulated programs. It
// holds an array of initialized mutexes, an array of 32-bit counters, and
// the read-only names of the mutexes.
type Image struct {
	mm *mm.MemoryManager

	mutexes  hostarch.Addr
	counters hostarch.Addr
	names    hostarch.Addr
	count    int
}

// NewImage returns a new address space holding count unlocked mutexes and
// count zeroed counters.
func NewImage(ctx context.Context, count int) (*Image, error) {
	if count < 1 {
		return nil, fmt.Errorf("image needs at least one mutex, got %d", count)
	}
	img := &Image{mm: mm.NewMemoryManager(), count: count}

	var err error
	if img.mutexes, err = img.mm.MMap(ctx, mm.MMapOpts{
		Length: uint64(count * linux.SizeOfUMutex),
		Perms:  hostarch.ReadWrite,
		Hint:   "[mutexes]",
	}); err != nil {
		return nil, fmt.Errorf("mapping mutexes: %w", err)
	}
	if img.counters, err = img.mm.MMap(ctx, mm.MMapOpts{
		Length: uint64(count * counterSize),
		Perms:  hostarch.ReadWrite,
		Hint:   "[counters]",
	}); err != nil {
		return nil, fmt.Errorf("mapping counters: %w", err)
	}

	// Names are written once and then made read-only; the kernel never
	// reads them.
	names := make([]byte, 0, count*16)
	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		offsets[i] = len(names)
		names = append(names, fmt.Sprintf("mutex-%d", i)...)
		names = append(names, 0)
	}
	if img.names, err = img.mm.MMap(ctx, mm.MMapOpts{
		Length: uint64(len(names)),
		Perms:  hostarch.ReadWrite,
		Hint:   "[names]",
	}); err != nil {
		return nil, fmt.Errorf("mapping names: %w", err)
	}
	if _, err := img.mm.CopyOut(ctx, img.names, names, usermem.IOOpts{}); err != nil {
		return nil, fmt.Errorf("writing names: %w", err)
	}
	if err := img.mm.MProtect(ctx, img.names, uint64(len(names)), hostarch.Read); err != nil {
		return nil, fmt.Errorf("protecting names: %w", err)
	}

	buf := make([]byte, linux.SizeOfUMutex)
	for i := 0; i < count; i++ {
		m := linux.NewUMutex(img.names + hostarch.Addr(offsets[i]))
		m.MarshalBytes(buf)
		if _, err := img.mm.CopyOut(ctx, img.Mutex(i), buf, usermem.IOOpts{}); err != nil {
			return nil, fmt.Errorf("initializing mutex %d: %w", i, err)
		}
	}
	return img, nil
}

// MemoryManager returns the address space of img.
func (img *Image) MemoryManager() *mm.MemoryManager {
	return img.mm
}

// Count returns the number of mutexes in img.
func (img *Image) Count() int {
	return img.count
}

// Mutex returns the address of mutex i.
func (img *Image) Mutex(i int) hostarch.Addr {
	img.checkIndex(i)
	return img.mutexes + hostarch.Addr(i*linux.SizeOfUMutex)
}

// Counter returns the address of counter i.
func (img *Image) Counter(i int) hostarch.Addr {
	img.checkIndex(i)
	return img.counters + hostarch.Addr(i*counterSize)
}

// Name returns the address of the name of mutex i.
func (img *Image) Name(i int) hostarch.Addr {
	var m linux.UMutex
	if _, err := m.CopyIn(img.copyContext(), img.Mutex(i)); err != nil {
		panic(fmt.Sprintf("reading mutex %d: %v", i, err))
	}
	return hostarch.Addr(m.Lock.Name)
}

// ReadMutex returns the current state of mutex i.
func (img *Image) ReadMutex(i int) (linux.UMutex, error) {
	var m linux.UMutex
	_, err := m.CopyIn(img.copyContext(), img.Mutex(i))
	return m, err
}

// ReadCounter returns the current value of counter i.
func (img *Image) ReadCounter(ctx context.Context, i int) (uint32, error) {
	return img.mm.LoadUint32(ctx, img.Counter(i), usermem.IOOpts{})
}

// Maps returns the mappings of img in /proc/[pid]/maps format.
func (img *Image) Maps() []string {
	return img.mm.MapsEntries()
}

func (img *Image) checkIndex(i int) {
	if i < 0 || i >= img.count {
		panic(fmt.Sprintf("index %d out of range [0, %d)", i, img.count))
	}
}

func (img *Image) copyContext() *imageCopyContext {
	return &imageCopyContext{img: img}
}

// imageCopyContext implements marshal.CopyContext for inspecting an image
// from outside any task.
type imageCopyContext struct {
	img *Image
}

// CopyScratchBuffer implements marshal.CopyContext.CopyScratchBuffer.
func (cc *imageCopyContext) CopyScratchBuffer(size int) []byte {
	return make([]byte, size)
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
func (cc *imageCopyContext) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return cc.img.mm.CopyIn(context.Background(), addr, dst, usermem.IOOpts{})
}

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes.
func (cc *imageCopyContext) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return cc.img.mm.CopyOut(context.Background(), addr, src, usermem.IOOpts{})
}
