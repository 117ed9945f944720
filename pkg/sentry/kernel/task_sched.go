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

package kernel

import (
	"gvisor.dev/kmutex/pkg/abi/linux"
)

// CPU returns the CPU t runs on.
func (t *Task) CPU() int32 {
	return t.cpu
}

// assignCPU returns the virtualized CPU number for the task with TID tid on
// a kernel with cpus CPUs.
func assignCPU(cpus int32, tid ThreadID) int32 {
	// Pretend that tasks are evenly distributed across CPUs.
	return int32(tid-InitTID) % cpus
}

// Niceness returns t's niceness.
func (t *Task) Niceness() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.niceness
}

// Priority returns t's priority.
func (t *Task) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.niceness + 20
}

// SetNiceness sets t's niceness to n, clamped to [linux.MinNice,
// linux.MaxNice].
func (t *Task) SetNiceness(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.niceness = clampNiceness(int64(n))
}

// AdjustNiceness adds delta to t's niceness, clamping the result to
// [linux.MinNice, linux.MaxNice], and returns the new niceness.
func (t *Task) AdjustNiceness(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.niceness = clampNiceness(int64(t.niceness) + int64(delta))
	return t.niceness
}

func clampNiceness(n int64) int {
	switch {
	case n < linux.MinNice:
		return linux.MinNice
	case n > linux.MaxNice:
		return linux.MaxNice
	default:
		return int(n)
	}
}
