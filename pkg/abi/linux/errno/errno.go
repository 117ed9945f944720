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

// Package errno holds errno codes for abi/linux.
package errno

import "golang.org/x/sys/unix"

// Errno represents a Linux errno value.
type Errno uint32

// Errno values used by the sentry. The numbers are taken from the host so
// that Errno(e) and unix.Errno(e) always agree.
const (
	NOERRNO = 0
	EPERM   = Errno(unix.EPERM)
	ESRCH   = Errno(unix.ESRCH)
	EINTR   = Errno(unix.EINTR)
	EAGAIN  = Errno(unix.EAGAIN)
	ENOMEM  = Errno(unix.ENOMEM)
	EFAULT  = Errno(unix.EFAULT)
	EBUSY   = Errno(unix.EBUSY)
	EINVAL  = Errno(unix.EINVAL)
	EDEADLK = Errno(unix.EDEADLK)
	ENOSYS  = Errno(unix.ENOSYS)
)
