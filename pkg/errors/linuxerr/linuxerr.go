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

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/kmutex/pkg/abi/linux/errno"
	"gvisor.dev/kmutex/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or sycall.Errno. However, since the type are distinct ( these are
// *errors.Error), they are not directly comperable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno (e.g.
// unix.Errno(EPERM.Errno()) == unix.EPERM is true).
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(errno.EPERM, "operation not permitted")
	ESRCH                 = errors.New(errno.ESRCH, "no such process")
	EINTR                 = errors.New(errno.EINTR, "interrupted system call")
	EAGAIN                = errors.New(errno.EAGAIN, "try again")
	ENOMEM                = errors.New(errno.ENOMEM, "out of memory")
	EFAULT                = errors.New(errno.EFAULT, "bad address")
	EBUSY                 = errors.New(errno.EBUSY, "device or resource busy")
	EINVAL                = errors.New(errno.EINVAL, "invalid argument")
	EDEADLK               = errors.New(errno.EDEADLK, "resource deadlock would occur")
	ENOSYS                = errors.New(errno.ENOSYS, "invalid system call number")
)

var errNotValidError = goerrors.New("not a valid errno")

var errnoTable = map[unix.Errno]*errors.Error{
	0:            noError,
	unix.EPERM:   EPERM,
	unix.ESRCH:   ESRCH,
	unix.EINTR:   EINTR,
	unix.EAGAIN:  EAGAIN,
	unix.ENOMEM:  ENOMEM,
	unix.EFAULT:  EFAULT,
	unix.EBUSY:   EBUSY,
	unix.EINVAL:  EINVAL,
	unix.EDEADLK: EDEADLK,
	unix.ENOSYS:  ENOSYS,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	e, ok := errnoTable[err]
	if !ok {
		return errNotValidError
	}
	return e
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	if err == nil {
		return e == noError
	}
	if le, ok := err.(*errors.Error); ok {
		return e == le
	}
	return unixErr == err
}

// Translate returns the *errors.Error carried by err, unwrapping as needed. ok
// is false if err carries no errno.
func Translate(err error) (*errors.Error, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) && e != noError {
		return e, true
	}
	var u unix.Errno
	if goerrors.As(err, &u) {
		if e, ok := errnoTable[u]; ok && e != noError {
			return e, true
		}
	}
	return nil, false
}
