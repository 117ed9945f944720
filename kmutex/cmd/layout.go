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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/kmutex/kmutex/boot"
	"gvisor.dev/kmutex/kmutex/cmd/util"
	"gvisor.dev/kmutex/pkg/abi/linux"
	kcontext "gvisor.dev/kmutex/pkg/context"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	mutexes int
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "prints the memory layout of a user mutex"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the field offsets of a user mutex and the
mappings of a freshly loaded image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.IntVar(&l.mutexes, "mutexes", 2, "number of mutexes in the image.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "OFFSET\tSIZE\tFIELD\n")
	for _, fld := range []struct {
		off, size int
		name      string
	}{
		{linux.UMutexLockedOffset, 4, "locked"},
		{linux.UMutexOwnerOffset, 4, "owner"},
		{linux.UMutexLockOffset + linux.SpinlockNameOffset, 8, "lock.name"},
		{linux.UMutexLockOffset + linux.SpinlockLockedOffset, 4, "lock.locked"},
		{linux.UMutexLockOffset + linux.SpinlockCPUOffset, 4, "lock.cpu"},
	} {
		fmt.Fprintf(w, "%d\t%d\t%s\n", fld.off, fld.size, fld.name)
	}
	if err := w.Flush(); err != nil {
		util.Fatalf("writing layout: %v", err)
	}
	fmt.Printf("size %d, alignment %d\n\n", linux.SizeOfUMutex, linux.UMutexAlign)

	img, err := boot.NewImage(kcontext.Background(), l.mutexes)
	if err != nil {
		util.Fatalf("creating image: %v", err)
	}
	for _, e := range img.Maps() {
		fmt.Println(e)
	}
	for i := 0; i < img.Count(); i++ {
		m, err := img.ReadMutex(i)
		if err != nil {
			util.Fatalf("reading mutex %d: %v", i, err)
		}
		fmt.Printf("%#x: %s\n", img.Mutex(i), m)
	}
	return subcommands.ExitSuccess
}
