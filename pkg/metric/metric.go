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

// Package metric provides primitives for collecting kernel metrics.
//
// Metrics are registered at package initialization and are read back as a
// snapshot with Values, usually to be exported by package prometheus.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"pikernel.dev/pikernel/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not of the form
	// /component/name.
	ErrInvalidName = errors.New("metric name must start with a slash")

	// ErrFieldValueContainsIllegalChar indicates that the value of a metric
	// field had an invalid character in it.
	ErrFieldValueContainsIllegalChar = errors.New("metric field value contains illegal character")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// Name returns the field name.
func (f Field) Name() string {
	return f.name
}

// fieldMapper maps multi-dimensional field values to a single integer key.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible
	// field combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		for _, v := range f.allowedValues {
			if strings.ContainsAny(v, "\"\\\n") {
				return fieldMapper{}, ErrFieldValueContainsIllegalChar
			}
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the key for the given field values.
//
// This *must* be called with the correct number of fields, or it will panic.
func (m fieldMapper) lookup(fields ...string) int {
	if len(fields) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	remainingCombinationBucket := m.numFieldCombinations

IdxLookup:
	for i, val := range fields {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remainingCombinationBucket /= len(m.fields[i].allowedValues)
				idx += remainingCombinationBucket * valIdx
				continue IdxLookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the inverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	depth := len(m.fields)
	if depth == 0 {
		return nil
	}
	fieldValues := make([]string, depth)
	remainingCombinationBucket := m.numFieldCombinations
	for i := 0; i < depth; i++ {
		remainingCombinationBucket /= len(m.fields[i].allowedValues)
		fieldValues[i] = m.fields[i].allowedValues[key/remainingCombinationBucket]
		key = key % remainingCombinationBucket
	}
	return fieldValues
}

// numKeys returns the total number of field combinations.
func (m fieldMapper) numKeys() int {
	return m.numFieldCombinations
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	// fields is indexed by fieldMapper keys.
	fields []atomic.Uint64

	fieldMapper fieldMapper
}

// registered is one entry of the registry.
type registered struct {
	description string
	cumulative  bool
	mapper      fieldMapper
	value       func(fieldValues ...string) uint64
}

// registry holds every registered metric.
type registry struct {
	mu      sync.Mutex
	metrics map[string]registered
}

var allMetrics = registry{metrics: make(map[string]registered)}

// RegisterCustomUint64Metric registers a metric whose value is computed by
// value on each snapshot. Non-cumulative metrics are exported as gauges.
func RegisterCustomUint64Metric(name string, cumulative bool, description string, value func(fieldValues ...string) uint64, fields ...Field) error {
	if !strings.HasPrefix(name, "/") {
		return ErrInvalidName
	}
	f, err := newFieldMapper(fields...)
	if err != nil {
		return err
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.metrics[name]; ok {
		return ErrNameInUse
	}
	allMetrics.metrics[name] = registered{
		description: description,
		cumulative:  cumulative,
		mapper:      f,
		value:       value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, cumulative bool, description string, value func(fieldValues ...string) uint64, fields ...Field) {
	if err := RegisterCustomUint64Metric(name, cumulative, description, value, fields...); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		fieldMapper: f,
		fields:      make([]atomic.Uint64, f.numKeys()),
	}
	return m, RegisterCustomUint64Metric(name, true /* cumulative */, description, m.Value, fields...)
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}

// Point is one value of a metric for a combination of field values.
type Point struct {
	// FieldValues is ordered like Snapshot.Fields.
	FieldValues []string
	Value       uint64
}

// Snapshot is the value of one metric at a point in time.
type Snapshot struct {
	Name        string
	Description string
	Cumulative  bool
	Fields      []string
	Points      []Point
}

// Values returns a snapshot of all registered metrics, sorted by name.
func Values() []Snapshot {
	allMetrics.mu.Lock()
	names := make([]string, 0, len(allMetrics.metrics))
	for name := range allMetrics.metrics {
		names = append(names, name)
	}
	metrics := make([]registered, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics.metrics[name])
	}
	allMetrics.mu.Unlock()

	snaps := make([]Snapshot, 0, len(names))
	for i, r := range metrics {
		s := Snapshot{
			Name:        names[i],
			Description: r.description,
			Cumulative:  r.cumulative,
		}
		for _, f := range r.mapper.fields {
			s.Fields = append(s.Fields, f.name)
		}
		for key := 0; key < r.mapper.numKeys(); key++ {
			fv := r.mapper.keyToMultiField(key)
			s.Points = append(s.Points, Point{FieldValues: fv, Value: r.value(fv...)})
		}
		snaps = append(snaps, s)
	}
	return snaps
}

// Lookup returns the snapshot of the named metric.
func Lookup(name string) (Snapshot, bool) {
	for _, s := range Values() {
		if s.Name == name {
			return s, true
		}
	}
	return Snapshot{}, false
}
