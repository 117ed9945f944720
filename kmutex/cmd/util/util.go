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

// Package util groups helpers shared by kmutex commands.
package util

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/kmutex/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller to learn why a command failed.
var ErrorLogger io.Writer

// Fatalf logs the same message to the debug log and to the error log, then
// exits with status 1.
func Fatalf(format string, args ...any) {
	log.WarningfAtDepth(1, format, args...)
	writeError(format, args...)
	os.Exit(1)
}

// Infof writes a message to stdout and logs it at Info.
func Infof(format string, args ...any) {
	log.InfofAtDepth(1, format, args...)
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func writeError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, format+"\n", args...)
	}
}
