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
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"gvisor.dev/kmutex/pkg/errors/linuxerr"
)

// StagingAllocator hands out the kernel buffers that staged mutex operations
// copy mutex state into. At most a fixed number of buffers are outstanding
// at once; Allocate fails with ENOMEM rather than waiting when none is
// left.
//
// StagingAllocator implements umutex.StagingAllocator.
type StagingAllocator struct {
	sem      *semaphore.Weighted
	capacity int64

	outstanding atomic.Int64
}

// NewStagingAllocator returns an allocator of at most buffers outstanding
// buffers. A non-positive count means no buffer can ever be allocated.
func NewStagingAllocator(buffers int) *StagingAllocator {
	capacity := int64(buffers)
	if capacity < 0 {
		capacity = 0
	}
	return &StagingAllocator{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Allocate returns a zeroed buffer of size bytes, or ENOMEM if every buffer
// is outstanding.
func (a *StagingAllocator) Allocate(size int) ([]byte, error) {
	if size < 0 || size > math.MaxInt32 {
		return nil, linuxerr.EINVAL
	}
	if !a.sem.TryAcquire(1) {
		return nil, linuxerr.ENOMEM
	}
	a.outstanding.Add(1)
	return make([]byte, size), nil
}

// Free returns buf to the allocator.
//
// Preconditions: buf was returned by Allocate and has not been freed.
func (a *StagingAllocator) Free(buf []byte) {
	a.outstanding.Add(-1)
	a.sem.Release(1)
}

// Outstanding returns the number of buffers allocated and not yet freed.
func (a *StagingAllocator) Outstanding() int64 {
	return a.outstanding.Load()
}

// Capacity returns the maximum number of outstanding buffers.
func (a *StagingAllocator) Capacity() int64 {
	return a.capacity
}
