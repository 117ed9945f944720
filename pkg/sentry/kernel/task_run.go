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
	"fmt"
)

// Program is the user code a task runs. It issues syscalls through the task
// it is given, and should return once the task is killed.
type Program func(t *Task) error

// Start runs prog on a new task goroutine. When prog returns the task exits
// and is removed from the task table.
func (t *Task) Start(prog Program) {
	t.k.running.Go(func() error {
		return t.run(prog)
	})
}

// run runs the task goroutine and returns the program's error.
func (t *Task) run(prog Program) error {
	t.Debugf("Starting task goroutine")
	err := prog(t)
	if err != nil {
		err = fmt.Errorf("task %d (%s): %w", t.tid, t.name, err)
		t.Warningf("Program failed: %v", err)
	}

	t.mu.Lock()
	t.exitErr = err
	t.mu.Unlock()
	t.k.tasks.remove(t)
	close(t.exited)
	t.Debugf("Task exited, killed: %t", t.Killed())
	return err
}
