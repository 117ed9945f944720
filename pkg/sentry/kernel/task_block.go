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

// BlockOn implements context.Blocker.BlockOn. It blocks until ch is readable
// or t is interrupted, and returns true if ch was readable.
//
// Preconditions: The caller must be running on the task goroutine.
func (t *Task) BlockOn(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-t.interruptChan:
		// Leave the interrupt pending for a killed task so that every
		// later block returns immediately.
		if t.Killed() {
			t.Interrupt()
		}
		return false
	}
}

// Interrupted implements context.Blocker.Interrupted.
func (t *Task) Interrupted() bool {
	if t.Killed() {
		return true
	}
	return len(t.interruptChan) != 0
}

// Interrupt implements context.Blocker.Interrupt.
func (t *Task) Interrupt() {
	select {
	case t.interruptChan <- struct{}{}:
	default:
	}
}
