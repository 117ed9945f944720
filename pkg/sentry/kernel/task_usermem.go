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
	"gvisor.dev/kmutex/pkg/hostarch"
	"gvisor.dev/kmutex/pkg/marshal"
	"gvisor.dev/kmutex/pkg/usermem"
)

// CopyInBytes is a fast version of CopyIn if the caller can serialize the
// data without reflection and pass in a byte slice.
//
// This Task method does not exist in the context interface. However, marshal
// calls through to it via the marshal.CopyContext interface.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return t.image.CopyIn(t, addr, dst, usermem.IOOpts{})
}

// CopyOutBytes is a fast version of CopyOut if the caller can serialize the
// data without reflection and pass in a byte slice.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.image.CopyOut(t, addr, src, usermem.IOOpts{})
}

// CopyIn copies a Marshallable from t's memory at addr into dst.
func (t *Task) CopyIn(addr hostarch.Addr, dst marshal.Marshallable) (int, error) {
	return dst.CopyIn(t, addr)
}

// CopyOut copies a Marshallable src to t's memory at addr.
func (t *Task) CopyOut(addr hostarch.Addr, src marshal.Marshallable) (int, error) {
	return src.CopyOut(t, addr)
}

var _ marshal.CopyContext = (*Task)(nil)
