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

// Package linux contains the constants and types needed to interface with a
// Linux-like kernel ABI.
package linux

// Syscall numbers. The mutex and nice calls follow the xv6 numbering used by
// the user programs that issue them.
const (
	SYS_KILL     = 6
	SYS_GETPID   = 11
	SYS_NICE     = 22
	SYS_MACQUIRE = 23
	SYS_MRELEASE = 24
)
