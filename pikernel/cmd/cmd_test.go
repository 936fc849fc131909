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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/syscalls"
)

func newConfig(t *testing.T, flags ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(flags); err != nil {
		t.Fatalf("Parse(%v): %v", flags, err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

func TestRun(t *testing.T) {
	conf := newConfig(t, "--memory=16777216")
	var out bytes.Buffer
	res, err := Run(context.Background(), conf, []string{"/bin/hello", "/bin/clock"}, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "hello from process 0\ntime 0s 0ms\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	var names []string
	for _, i := range res.Exited {
		names = append(names, i.Name)
	}
	if diff := cmp.Diff([]string{"/bin/hello", "/bin/clock"}, names); diff != "" {
		t.Errorf("exited mismatch (-want +got):\n%s", diff)
	}
	if len(res.Remaining) != 0 {
		t.Errorf("Remaining = %v, want none", res.Remaining)
	}
	if res.Stats.Instructions == 0 || res.Clock.IsZero() {
		t.Errorf("Result = %+v, want a machine that ran", res)
	}
}

func TestRunMissingProgram(t *testing.T) {
	conf := newConfig(t)
	if _, err := Run(context.Background(), conf, []string{"/bin/nosuch"}, &bytes.Buffer{}); !errors.Is(err, oserr.ErrNoEntry) {
		t.Errorf("Run = %v, want %v", err, oserr.ErrNoEntry)
	}
}

func TestRunTimeout(t *testing.T) {
	conf := newConfig(t, "--timeout=1ms")
	_, err := Run(context.Background(), conf, []string{"/bin/spin", "/bin/spin"}, &bytes.Buffer{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRunCancelled(t *testing.T) {
	conf := newConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, conf, []string{"/bin/spin"}, &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want %v", err, context.Canceled)
	}
	if len(res.Exited) != 0 {
		t.Errorf("Exited = %v, want none", res.Exited)
	}
}

func TestMkImageThenBootFromRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	if err := installImages(context.Background(), root, "/bin"); err != nil {
		t.Fatalf("installImages: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "hello")); err != nil {
		t.Fatalf("hello image not installed: %v", err)
	}

	conf := newConfig(t, "--root="+root)
	var out bytes.Buffer
	if _, err := Run(context.Background(), conf, []string{"/bin/hello"}, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := out.String(), "hello from process 0\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestListImages(t *testing.T) {
	var buf bytes.Buffer
	if err := listImages(&buf); err != nil {
		t.Fatalf("listImages: %v", err)
	}
	for _, name := range []string{"NAME", "hello", "sleeper", "spin"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("listImages output missing %q:\n%s", name, buf.String())
		}
	}
}

func TestBootExecute(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "metrics.txt")
	conf := newConfig(t, "--metrics="+metrics)

	var out bytes.Buffer
	b := &Boot{console: &out}
	f := flag.NewFlagSet(b.Name(), flag.ContinueOnError)
	b.SetFlags(f)
	if err := f.Parse([]string{"/bin/hello"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := b.Execute(context.Background(), f, conf); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v, want %v", got, subcommands.ExitSuccess)
	}
	if got, want := out.String(), "hello from process 0\n"; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}

	mf, err := os.Open(metrics)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	defer mf.Close()
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(mf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies: %v", err)
	}
	for _, name := range []string{"pikernel_traps_syscalls", "pikernel_kernel_processes_exited", "pikernel_traps_exceptions"} {
		if _, ok := parsed[name]; !ok {
			t.Errorf("metric %q missing", name)
		}
	}
}

func TestBootUsage(t *testing.T) {
	b := &Boot{}
	f := flag.NewFlagSet(b.Name(), flag.ContinueOnError)
	f.SetOutput(&bytes.Buffer{})
	f.Usage = func() {}
	if got := b.Execute(context.Background(), f, newConfig(t)); got != subcommands.ExitUsageError {
		t.Errorf("Execute without programs = %v, want %v", got, subcommands.ExitUsageError)
	}
}

func TestSyscallOutputs(t *testing.T) {
	docs := syscallDocs(syscalls.Default)
	want := []SyscallDoc{{1, "sleep"}, {2, "time"}, {3, "exit"}, {4, "write"}, {5, "getpid"}}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Fatalf("syscallDocs mismatch (-want +got):\n%s", diff)
	}

	var table bytes.Buffer
	if err := outputTable(&table, docs); err != nil {
		t.Fatalf("outputTable: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(table.String()), "\n"); len(lines) != 6 || !strings.HasPrefix(lines[4], "4") {
		t.Errorf("table output:\n%s", table.String())
	}

	var csv bytes.Buffer
	if err := outputCSV(&csv, docs); err != nil {
		t.Fatalf("outputCSV: %v", err)
	}
	if got, want := csv.String(), "num,name\n1,sleep\n2,time\n3,exit\n4,write\n5,getpid\n"; got != want {
		t.Errorf("csv = %q, want %q", got, want)
	}

	var js bytes.Buffer
	if err := outputJSON(&js, docs); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	var decoded []SyscallDoc
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessTable(t *testing.T) {
	res := Result{
		Exited:    []kernel.Info{{ID: 0, Name: "/bin/hello", State: "Dead"}},
		Remaining: []kernel.Info{{ID: 1, Name: "/bin/spin", State: "Ready", Pages: 3}},
		Clock:     ktime.FromNanoseconds(5000),
	}
	res.Stats.Instructions = 500
	pt := newProcessTable(res)
	want := ProcessTable{
		Processes: []ProcessEntry{
			{ID: 0, Name: "/bin/hello", State: "Dead"},
			{ID: 1, Name: "/bin/spin", State: "Ready", Pages: 3},
		},
		Clock:        "5000ns",
		Instructions: 500,
	}
	if diff := cmp.Diff(want, pt); diff != "" {
		t.Fatalf("newProcessTable mismatch (-want +got):\n%s", diff)
	}

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeProcessTable(&buf, format, pt); err != nil {
				t.Fatalf("writeProcessTable: %v", err)
			}
			var got ProcessTable
			var err error
			if format == "json" {
				err = json.Unmarshal(buf.Bytes(), &got)
			} else {
				err = yaml.Unmarshal(buf.Bytes(), &got)
			}
			if err != nil {
				t.Fatalf("decoding %s: %v", format, err)
			}
			if diff := cmp.Diff(pt, got); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", format, diff)
			}
		})
	}

	var table bytes.Buffer
	if err := writeProcessTable(&table, "table", pt); err != nil {
		t.Fatalf("writeProcessTable: %v", err)
	}
	for _, s := range []string{"PID", "/bin/spin", "Ready", "clock 5000ns, 500 instructions"} {
		if !strings.Contains(table.String(), s) {
			t.Errorf("table output missing %q:\n%s", s, table.String())
		}
	}
	if err := writeProcessTable(&table, "xml", pt); err == nil {
		t.Errorf("writeProcessTable(xml) succeeded")
	}
}

func TestWatchSignalsDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	errc := make(chan error, 1)
	go func() { errc <- watchSignals(done) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("watchSignals = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watchSignals did not return after done")
	}
}
