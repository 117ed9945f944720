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
	"sync/atomic"
	"time"

	"gvisor.dev/kmutex/pkg/sentry/mm"
	"gvisor.dev/kmutex/pkg/sync"
)

// Task represents a single process: a program running on its own goroutine,
// the task goroutine, against an address space.
//
// Task implements context.Context and umutex.Task.
type Task struct {
	// k is the Kernel that t belongs to. k is immutable.
	k *Kernel

	// tid is t's pid. tid is immutable after t is added to the TaskSet.
	tid ThreadID

	// name is t's name, used in logs. name is immutable.
	name string

	// cpu is the CPU t runs on. cpu is immutable.
	cpu int32

	// image is t's address space. image is immutable.
	image *mm.MemoryManager

	// logPrefix is a string containing the task's pid.
	logPrefix string

	// interruptChan is notified whenever the task goroutine is interrupted
	// (usually by a kill). interruptChan is not synchronized; it is notified
	// with non-blocking sends and cleared by the task goroutine.
	interruptChan chan struct{}

	// killed is set by Kernel.Kill and never cleared.
	killed atomic.Bool

	// exited is closed when the task goroutine returns.
	exited chan struct{}

	// mu protects the fields below.
	mu sync.Mutex

	// niceness is the task's niceness in [linux.MinNice, linux.MaxNice].
	niceness int

	// exitErr is the error the task program returned, valid after exited
	// is closed.
	exitErr error

	// copyScratchBuffer is a buffer available to CopyIn/CopyOut
	// implementations that require an intermediate buffer to copy data
	// into/out of. It prevents these buffers from being allocated/zeroed in
	// each syscall and eventually garbage collected.
	//
	// copyScratchBuffer is exclusive to the task goroutine.
	copyScratchBuffer [copyScratchBufferLen]byte
}

// copyScratchBufferLen is the length of Task.copyScratchBuffer.
const copyScratchBufferLen = 64

// CopyScratchBuffer returns a scratch buffer to be used in CopyIn/CopyOut
// functions. It must only be used within those functions and can only be used
// by the task goroutine; it exists to improve performance and thus
// intentionally lacks any synchronization.
//
// Callers should pass a constant value as an argument if possible, which will
// allow the compiler to inline and optimize out the if statement below.
func (t *Task) CopyScratchBuffer(size int) []byte {
	if size > copyScratchBufferLen {
		return make([]byte, size)
	}
	return t.copyScratchBuffer[:size]
}

// Kernel returns the Kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Name returns t's name.
func (t *Task) Name() string {
	return t.name
}

// MemoryManager returns t's MemoryManager.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.image
}

// Killed returns true if t has been killed.
func (t *Task) Killed() bool {
	return t.killed.Load()
}

// Exited returns a channel that is closed once t's goroutine returns.
func (t *Task) Exited() <-chan struct{} {
	return t.exited
}

// ExitError returns the error t's program returned.
//
// Preconditions: Exited() is closed.
func (t *Task) ExitError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// Deadline implements context.Context.Deadline.
func (*Task) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

// Done implements context.Context.Done.
func (*Task) Done() <-chan struct{} {
	return nil
}

// Err implements context.Context.Err.
func (*Task) Err() error {
	return nil
}

// Value implements context.Context.Value.
//
// Preconditions: The caller must be running on the task goroutine (as implied
// by the requirements of context.Context).
func (t *Task) Value(key any) any {
	switch key {
	case CtxKernel:
		return t.k
	case CtxTask:
		return t
	default:
		return t.k.goctx.Value(key)
	}
}
