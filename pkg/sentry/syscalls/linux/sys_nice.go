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

package linux

import (
	"gvisor.dev/kmutex/pkg/sentry/arch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
)

// Nice implements nice(inc): it adds inc to the caller's niceness, clamped
// to [linux.MinNice, linux.MaxNice]. It always returns 0; an argument that
// cannot be fetched is treated as 0.
func Nice(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	inc, err := t.IntArg(args, 0)
	if err != nil {
		t.Debugf("nice: ignoring unfetchable increment: %v", err)
		inc = 0
	}
	n := t.AdjustNiceness(int(inc))
	t.Debugf("nice(%d): niceness is now %d", inc, n)
	return 0, nil
}
