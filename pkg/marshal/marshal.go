// Copyright 2021 The gVisor Authors.
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

// Package marshal defines the Marshallable interface for serialize/deserializing
// Go data structures to/from memory, according to the Linux ABI.
package marshal

import (
	"gvisor.dev/kmutex/pkg/hostarch"
)

// CopyContext defines the memory operations required to marshal to and from
// user memory. Typically, kernel.Task is used to provide implementations for
// these operations.
type CopyContext interface {
	// CopyScratchBuffer provides a task goroutine-local scratch buffer. See
	// kernel.CopyScratchBuffer.
	CopyScratchBuffer(size int) []byte

	// CopyOutBytes writes the contents of b to the task's memory. See
	// kernel.CopyOutBytes.
	CopyOutBytes(addr hostarch.Addr, b []byte) (int, error)

	// CopyInBytes reads the contents of the task's memory to b. See
	// kernel.CopyInBytes.
	CopyInBytes(addr hostarch.Addr, b []byte) (int, error)
}

// Marshallable represents operations on a type that can be marshalled to and
// from memory.
type Marshallable interface {
	// SizeBytes is the size of the memory representation of a type in
	// marshalled form.
	SizeBytes() int

	// MarshalBytes serializes a copy of a type to dst and returns the
	// remaining buffer.
	// Precondition: dst must be at least SizeBytes() in length.
	MarshalBytes(dst []byte) []byte

	// UnmarshalBytes deserializes a type from src and returns the remaining
	// buffer.
	// Precondition: size of src must be at least SizeBytes().
	UnmarshalBytes(src []byte) []byte

	// CopyOut serializes a Marshallable type to a task's memory. This may
	// only be called from a task goroutine. This is more efficient than
	// calling MarshalBytes on this type and manually copying out the
	// resulting buffer, as it can elide some allocations.
	//
	// If the copy-out fails, CopyOut returns the number of bytes copied and a
	// non-nil error.
	CopyOut(cc CopyContext, addr hostarch.Addr) (int, error)

	// CopyIn deserializes a Marshallable type from a task's memory. This may
	// only be called from a task goroutine. The resulting buffer is written
	// to the caller.
	//
	// If the copy-in fails, CopyIn returns the number of bytes copied and a
	// non-nil error; the receiver is left unmodified in that case.
	CopyIn(cc CopyContext, addr hostarch.Addr) (int, error)
}
