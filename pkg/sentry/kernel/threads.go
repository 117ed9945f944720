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
	"sort"

	"gvisor.dev/kmutex/pkg/sync"
)

// ThreadID is a generic thread identifier. In this kernel every task is a
// single-threaded process, so a ThreadID is also a pid.
type ThreadID int32

// InitTID is the TID given to the first task added to a kernel.
const InitTID ThreadID = 1

// String implements fmt.Stringer.String.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", int32(tid))
}

// TaskSet comprises all live tasks of a kernel.
type TaskSet struct {
	// mu protects all fields of TaskSet.
	mu sync.RWMutex

	// last is the last TID allocated.
	last ThreadID

	// tids maps TIDs to live tasks.
	tids map[ThreadID]*Task
}

func (ts *TaskSet) init() {
	ts.tids = make(map[ThreadID]*Task)
}

// assignTIDLocked allocates a TID for t and records it.
//
// Preconditions: ts.mu must be locked for writing.
func (ts *TaskSet) assignTIDLocked(t *Task) ThreadID {
	ts.last++
	t.tid = ts.last
	ts.tids[t.tid] = t
	return t.tid
}

// remove drops t from the set.
func (ts *TaskSet) remove(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.tids[t.tid] == t {
		delete(ts.tids, t.tid)
	}
}

func (ts *TaskSet) taskWithID(tid ThreadID) *Task {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.tids[tid]
}

func (ts *TaskSet) list() []*Task {
	ts.mu.RLock()
	tasks := make([]*Task, 0, len(ts.tids))
	for _, t := range ts.tids {
		tasks = append(tasks, t)
	}
	ts.mu.RUnlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].tid < tasks[j].tid })
	return tasks
}

// ThreadID returns t's pid.
func (t *Task) ThreadID() int32 {
	return int32(t.tid)
}

// TID returns t's pid as a ThreadID.
func (t *Task) TID() ThreadID {
	return t.tid
}
