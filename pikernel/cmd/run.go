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

// Package cmd holds implementations of the pikernel commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/cleanup"
	"pikernel.dev/pikernel/pkg/console"
	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/fs/hostfs"
	"pikernel.dev/pikernel/pkg/fs/memfs"
	"pikernel.dev/pikernel/pkg/images"
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/pgalloc"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/platform/sim"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
	"pikernel.dev/pikernel/pkg/syscalls"
	"pikernel.dev/pikernel/pkg/traps"
)

// Result is the outcome of running programs on a kernel.
type Result struct {
	// Exited lists the processes killed, in the order they were killed.
	Exited []kernel.Info

	// Remaining lists the processes still queued when the machine stopped.
	Remaining []kernel.Info

	// Stats are the machine's execution counters.
	Stats sim.Stats

	// Clock is the machine's clock when it stopped.
	Clock ktime.Time
}

// ErrInterrupted is returned by Run when a signal stopped the machine.
var ErrInterrupted = errors.New("interrupted by signal")

// openFS returns the filesystem programs are loaded from and a function
// releasing it. A host root is locked shared for the duration of the run.
func openFS(ctx context.Context, conf *config.Config) (fs.FileSystem, func(), error) {
	if conf.RootDir == "" {
		mfs := memfs.New()
		if err := images.Install(mfs, conf.ImagesDir); err != nil {
			return nil, nil, err
		}
		return mfs, func() {}, nil
	}
	hfs, err := hostfs.New(conf.RootDir)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := hfs.Lock(ctx, false /* exclusive */)
	if err != nil {
		return nil, nil, err
	}
	return hfs, unlock, nil
}

// Run boots a kernel configured by conf, runs programs on it with the
// console attached to out, and returns once the machine stops.
//
// A machine that halts because every process exited is a success. A signal
// stops the machine with ErrInterrupted, and a kernel panic is returned as a
// *traps.PanicError.
func Run(ctx context.Context, conf *config.Config, programs []string, out io.Writer) (Result, error) {
	mem, err := pgalloc.New(pgalloc.Options{Size: conf.MemorySize, Reserved: conf.ReservedSize})
	if err != nil {
		return Result{}, err
	}
	tables := pagetables.NewFrameAllocator(mem)
	m, err := sim.New(sim.Options{
		Memory:   mem,
		Tables:   tables,
		Realtime: conf.Clock == config.ClockRealtime,
		InsnTime: conf.InsnTime,
	})
	if err != nil {
		return Result{}, err
	}
	cu := cleanup.Make(m.Release)
	defer cu.Clean()

	filesystem, unlock, err := openFS(ctx, conf)
	if err != nil {
		return Result{}, err
	}
	cu.Add(unlock)

	k, err := kernel.New(kernel.Options{
		FS:      filesystem,
		Memory:  mem,
		Tables:  tables,
		Machine: m,
		Console: console.New(out),
		Tick:    conf.Tick,
		MaxID:   kernel.ID(conf.MaxProcesses),
	})
	if err != nil {
		return Result{}, err
	}
	if _, err := k.Initialize(programs); err != nil {
		return Result{}, err
	}

	runCtx := ctx
	if conf.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, conf.Timeout)
		defer cancel()
	}
	g, gctx := errgroup.WithContext(runCtx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		err := k.Scheduler().Start(gctx, traps.New(k, syscalls.Default))
		switch {
		case errors.Is(err, platform.ErrHalted):
			log.Infof("All processes exited")
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("machine timed out after %v: %w", conf.Timeout, err)
		}
		return err
	})
	g.Go(func() error {
		return watchSignals(done)
	})
	err = g.Wait()

	res := Result{
		Exited:    k.Scheduler().Exited(),
		Remaining: k.Scheduler().Snapshot(),
		Stats:     m.Stats(),
		Clock:     k.Now(),
	}
	log.Infof("Machine stopped at %v after %d instructions, %d exceptions, %d interrupts", res.Clock, res.Stats.Instructions, res.Stats.Exceptions, res.Stats.Interrupts)
	return res, err
}

// watchSignals returns ErrInterrupted on SIGINT or SIGTERM, or nil once done
// is closed.
func watchSignals(done <-chan struct{}) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case sig := <-sigs:
		log.Infof("Received %v, stopping the machine", sig)
		return fmt.Errorf("%w: %v", ErrInterrupted, sig)
	case <-done:
		return nil
	}
}
