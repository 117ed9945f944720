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

package linux

import (
	"gvisor.dev/kmutex/pkg/sentry/arch"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
)

// Kill implements kill(pid): it kills the task with the given pid. A task
// blocked acquiring a mutex is woken and its acquisition fails with EINTR.
func Kill(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	pid := kernel.ThreadID(args[0].Int())
	if err := t.Kernel().Kill(pid); err != nil {
		return 0, err
	}
	return 0, nil
}
