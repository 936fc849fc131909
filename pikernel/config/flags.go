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

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/platform/sim"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. %COMMAND% and %TIMESTAMP% are expanded.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("config", "", "TOML or YAML file of flag values. Flags given on the command line take precedence.")
	flagSet.String("metrics", "", "file path where metrics are written in Prometheus format when the machine stops, '-' for stdout.")

	// Machine flags.
	flagSet.Uint64("memory", 64<<20, "physical memory size in bytes.")
	flagSet.Uint64("reserved", hostarch.PageSize, "physical memory in bytes at address zero that is never allocated.")
	flagSet.Var(clockModePtr(ClockSynthetic), "clock", "machine clock: synthetic (default) or realtime.")
	flagSet.Duration("insn-time", sim.DefaultInsnTime, "duration of an instruction on the synthetic clock.")
	flagSet.Duration("timeout", 0, "stop the machine after this much host time, 0 for no timeout.")

	// Kernel flags.
	flagSet.Duration("tick", kernel.DefaultTick, "preemption interval.")
	flagSet.Uint64("max-processes", 0, "number of process ids, 0 for unbounded.")

	// Filesystem flags.
	flagSet.String("root", "", "host directory programs are loaded from. If empty, the built-in images are served from memory.")
	flagSet.String("images", "/bin", "directory of the built-in images.")
}

// get returns the value held by a flag. Every flag registered by
// RegisterFlags implements flag.Getter.
func get(v flag.Value) any {
	return v.(flag.Getter).Get()
}

// NewFromFlags creates a new Config with values coming from command line
// flags, and from the configuration file named by --config for flags not set
// on the command line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(get(fl.Value))
		obj.Field(i).Set(x)
	}

	if conf.ConfigFile != "" {
		if err := conf.applyFile(flagSet); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile overrides flags not set on the command line with the values in
// the configuration file.
func (c *Config) applyFile(flagSet *flag.FlagSet) error {
	values, err := ReadFile(c.ConfigFile)
	if err != nil {
		return err
	}
	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("%s: flag %q cannot be set from a configuration file", c.ConfigFile, name)
		}
		if explicit[name] {
			continue
		}
		if err := c.Override(flagSet, name, values[name]); err != nil {
			return fmt.Errorf("%s: %w", c.ConfigFile, err)
		}
	}
	return nil
}

// ReadFile reads a configuration file mapping flag names to values. Files
// ending in .yaml or .yml are YAML, all others TOML.
func ReadFile(path string) (map[string]string, error) {
	raw := make(map[string]any)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing %s: unsupported keys %v", path, undecoded)
		}
	}
	values := make(map[string]string, len(raw))
	for name, v := range raw {
		switch v := v.(type) {
		case string:
			values[name] = v
		case bool:
			values[name] = strconv.FormatBool(v)
		case int:
			values[name] = strconv.Itoa(v)
		case int64:
			values[name] = strconv.FormatInt(v, 10)
		case uint64:
			values[name] = strconv.FormatUint(v, 10)
		default:
			return nil, fmt.Errorf("parsing %s: flag %q has unsupported value %v (%T)", path, name, v, v)
		}
	}
	return values, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

// Override writes a new value to a flag.
func (c *Config) Override(flagSet *flag.FlagSet, name string, value string) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		fieldName, ok := f.Tag.Lookup("flag")
		if !ok || fieldName != name {
			// Not a flag field, or flag name doesn't match.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			// Flag must exist if there is a field match above.
			panic(fmt.Sprintf("Flag %q not found", name))
		}

		// Use flag to convert the string value to the underlying flag type, using
		// the same rules as the command-line for consistency.
		if err := fl.Value.Set(value); err != nil {
			return fmt.Errorf("error setting flag %s=%q: %w", name, value, err)
		}
		x := reflect.ValueOf(get(fl.Value))
		obj.Field(i).Set(x)
		return nil
	}
	return fmt.Errorf("flag %q not found. Cannot set it to %q", name, value)
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
