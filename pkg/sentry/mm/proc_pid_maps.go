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

package mm

import (
	"bytes"
	"fmt"
	"strings"
)

// MapsEntries returns /proc/[pid]/maps-style lines describing mm's mappings,
// without trailing newlines.
func (mm *MemoryManager) MapsEntries() []string {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	var lines []string
	mm.vmas.Ascend(func(v *vma) bool {
		lines = append(lines, vmaMapsEntryLocked(v))
		return true
	})
	return lines
}

// vmaMapsEntryLocked returns a /proc/[pid]/maps entry for v.
//
// Preconditions: mm.mappingMu must be locked.
func vmaMapsEntryLocked(v *vma) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%08x-%08x %sp %08x 00:00 0 ", uintptr(v.ar.Start), uintptr(v.ar.End), v.perms, 0)
	if v.hint != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - b.Len(); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(v.hint)
	}
	return strings.TrimRight(b.String(), " ")
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	return fmt.Sprintf("mm{%d bytes in %s}", mm.Usage(), strings.Join(mm.MapsEntries(), "; "))
}
