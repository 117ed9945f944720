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

	"gvisor.dev/kmutex/pkg/abi/linux"
	"gvisor.dev/kmutex/pkg/sentry/mm"
)

// TaskConfig defines the configuration of a new Task (see below).
type TaskConfig struct {
	// Name is the task's name, used in logs.
	Name string

	// MemoryManager is the task's address space. Tasks given the same
	// MemoryManager share memory, and so may share mutexes. If nil, the
	// task gets a new, empty address space.
	MemoryManager *mm.MemoryManager

	// Niceness is the niceness of the new task.
	Niceness int
}

// NewTask creates a new task defined by cfg and adds it to the task table.
// The task does not run until Start is called.
func (k *Kernel) NewTask(cfg *TaskConfig) (*Task, error) {
	if cfg.Niceness < linux.MinNice || cfg.Niceness > linux.MaxNice {
		return nil, fmt.Errorf("niceness %d out of range [%d, %d]", cfg.Niceness, linux.MinNice, linux.MaxNice)
	}
	image := cfg.MemoryManager
	if image == nil {
		image = mm.NewMemoryManager()
	}
	t := &Task{
		k:             k,
		name:          cfg.Name,
		image:         image,
		interruptChan: make(chan struct{}, 1),
		exited:        make(chan struct{}),
	}
	t.SetNiceness(cfg.Niceness)

	k.tasks.mu.Lock()
	tid := k.tasks.assignTIDLocked(t)
	k.tasks.mu.Unlock()

	if t.name == "" {
		t.name = fmt.Sprintf("task-%d", tid)
	}
	t.cpu = assignCPU(int32(k.ApplicationCores()), tid)
	t.updateLogPrefix()
	t.Debugf("Created on CPU %d, niceness %d", t.cpu, cfg.Niceness)
	return t, nil
}
