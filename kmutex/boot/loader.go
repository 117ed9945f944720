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

// Package boot loads the emulated kernel and the shared memory images that
// simulated programs run against.
package boot

import (
	"fmt"

	"gvisor.dev/kmutex/pkg/config"
	"gvisor.dev/kmutex/pkg/log"
	"gvisor.dev/kmutex/pkg/sentry/kernel"
	"gvisor.dev/kmutex/pkg/sentry/kernel/umutex"
	"gvisor.dev/kmutex/pkg/sentry/syscalls/linux"
)

// Args are the arguments for New().
type Args struct {
	// Conf is the configuration of the kernel.
	Conf *config.Config

	// Inheritance is invoked when a mutex is contended. Nil means no
	// priority inheritance.
	Inheritance umutex.InheritanceStrategy
}

// Loader keeps state needed to start the kernel and run simulated programs.
type Loader struct {
	// k is the kernel.
	k *kernel.Kernel

	// conf is the configuration the kernel was loaded with.
	conf *config.Config
}

// New initializes a new kernel loader configured by args.
func New(args Args) (*Loader, error) {
	if err := args.Conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := MutexMode(args.Conf.Strategy)
	if err != nil {
		return nil, err
	}

	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		CPUs:               args.Conf.CPUs,
		SyscallTable:       linux.Table,
		MutexMode:          mode,
		StagingBuffers:     args.Conf.StagingBuffers,
		Inheritance:        args.Inheritance,
		ContentionLogEvery: args.Conf.ContentionLogEvery,
	}); err != nil {
		return nil, fmt.Errorf("error initializing kernel: %w", err)
	}
	log.Debugf("Loader created with strategy %s", args.Conf.Strategy)
	return &Loader{k: k, conf: args.Conf}, nil
}

// Kernel returns the kernel loaded by l.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Config returns the configuration l was created with.
func (l *Loader) Config() *config.Config {
	return l.conf
}

// StartTask creates a task sharing image's address space and runs prog on
// it.
func (l *Loader) StartTask(name string, image *Image, prog kernel.Program) (*kernel.Task, error) {
	t, err := l.k.NewTask(&kernel.TaskConfig{
		Name:          name,
		MemoryManager: image.MemoryManager(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating task %q: %w", name, err)
	}
	t.Start(prog)
	return t, nil
}

// Wait blocks until every task has exited and returns the first program
// error.
func (l *Loader) Wait() error {
	return l.k.WaitExited()
}

// MutexMode returns the mutex mode implementing strategy.
func MutexMode(strategy config.Strategy) (umutex.Mode, error) {
	switch strategy {
	case config.StrategyLive:
		return umutex.Live, nil
	case config.StrategyStaged:
		return umutex.Staged, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", strategy)
	}
}
