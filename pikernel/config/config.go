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

// Package config provides basic infrastructure to set configuration settings
// for pikernel. Each setting that can be changed from the outside is exposed
// as a command line flag and may also be given in a configuration file.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mohae/deepcopy"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/log"
)

// Config holds configuration that is not part of the program list.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with the name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// ConfigFile is a TOML or YAML file of flag values. Flags set on the
	// command line take precedence.
	ConfigFile string `flag:"config"`

	// MemorySize is the size of physical memory in bytes.
	MemorySize uint64 `flag:"memory"`

	// ReservedSize is the size of physical memory at address zero that is
	// never handed out.
	ReservedSize uint64 `flag:"reserved"`

	// Tick is the preemption interval.
	Tick time.Duration `flag:"tick"`

	// Clock selects the machine clock.
	Clock ClockMode `flag:"clock"`

	// InsnTime is the duration of an instruction on the synthetic clock.
	InsnTime time.Duration `flag:"insn-time"`

	// RootDir is the host directory programs are loaded from. If empty,
	// programs are loaded from an in-memory filesystem holding the built-in
	// images.
	RootDir string `flag:"root"`

	// ImagesDir is the directory of the built-in images.
	ImagesDir string `flag:"images"`

	// MaxProcesses bounds process ids. Zero means unbounded.
	MaxProcesses uint64 `flag:"max-processes"`

	// Timeout stops the machine after the given host time. Zero means no
	// timeout.
	Timeout time.Duration `flag:"timeout"`

	// MetricsFile is where metrics are written in Prometheus format when
	// the machine stops. "-" is stdout.
	MetricsFile string `flag:"metrics"`
}

// ClockMode selects the machine clock.
type ClockMode int

const (
	// ClockSynthetic advances with executed instructions and skips idle
	// time. Runs are deterministic.
	ClockSynthetic ClockMode = iota

	// ClockRealtime follows the host monotonic clock.
	ClockRealtime
)

func clockModePtr(m ClockMode) *ClockMode {
	return &m
}

// Set implements flag.Value.Set.
func (m *ClockMode) Set(v string) error {
	switch v {
	case "synthetic":
		*m = ClockSynthetic
	case "realtime":
		*m = ClockRealtime
	default:
		return fmt.Errorf("invalid clock %q, must be 'synthetic' or 'realtime'", v)
	}
	return nil
}

// Get implements flag.Getter.Get.
func (m *ClockMode) Get() any {
	return *m
}

// String implements flag.Value.String.
func (m ClockMode) String() string {
	switch m {
	case ClockSynthetic:
		return "synthetic"
	case ClockRealtime:
		return "realtime"
	}
	panic(fmt.Sprintf("Invalid clock mode %d", m))
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.MemorySize == 0 || c.MemorySize%hostarch.PageSize != 0 {
		return fmt.Errorf("memory size %d must be a positive multiple of %d", c.MemorySize, hostarch.PageSize)
	}
	if c.ReservedSize%hostarch.PageSize != 0 || c.ReservedSize >= c.MemorySize {
		return fmt.Errorf("reserved size %d must be a multiple of %d below the memory size", c.ReservedSize, hostarch.PageSize)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick %v must be positive", c.Tick)
	}
	if c.InsnTime <= 0 {
		return fmt.Errorf("instruction time %v must be positive", c.InsnTime)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout %v must not be negative", c.Timeout)
	}
	if c.ImagesDir == "" || c.ImagesDir[0] != '/' {
		return fmt.Errorf("images directory %q must be absolute", c.ImagesDir)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}
