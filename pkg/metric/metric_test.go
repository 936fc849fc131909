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

package metric

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	testCounter = MustCreateNewUint64Metric("/test/counter", "A counter with no fields.")
	testFields  = MustCreateNewUint64Metric("/test/fields", "A counter with two fields.",
		NewField("color", []string{"red", "blue"}),
		NewField("size", []string{"small", "medium", "large"}))
	testGauge uint64
)

func init() {
	MustRegisterCustomUint64Metric("/test/gauge", false /* cumulative */, "A gauge.", func(...string) uint64 {
		return testGauge
	})
}

func TestFieldMapperRoundTrip(t *testing.T) {
	m, err := newFieldMapper(
		NewField("a", []string{"x", "y"}),
		NewField("b", []string{"1", "2", "3"}))
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	if got := m.numKeys(); got != 6 {
		t.Fatalf("numKeys = %d, want 6", got)
	}
	seen := make(map[int]bool)
	for _, a := range []string{"x", "y"} {
		for _, b := range []string{"1", "2", "3"} {
			key := m.lookup(a, b)
			if seen[key] {
				t.Errorf("lookup(%q, %q) = %d, already used", a, b, key)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{a, b}, m.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
}

func TestFieldMapperPanics(t *testing.T) {
	m, err := newFieldMapper(NewField("a", []string{"x"}))
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	for name, fn := range map[string]func(){
		"depth":    func() { m.lookup() },
		"disallow": func() { m.lookup("z") },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("lookup did not panic")
				}
			}()
			fn()
		})
	}
}

func TestRegistrationErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		metric string
		fields []Field
		want   error
	}{
		{name: "in use", metric: "/test/counter", want: ErrNameInUse},
		{name: "no slash", metric: "test/other", want: ErrInvalidName},
		{name: "no values", metric: "/test/novalues", fields: []Field{NewField("f", nil)}, want: ErrFieldHasNoAllowedValues},
		{name: "illegal char", metric: "/test/illegal", fields: []Field{NewField("f", []string{"a\"b"})}, want: ErrFieldValueContainsIllegalChar},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewUint64Metric(tc.metric, "", tc.fields...); !errors.Is(err, tc.want) {
				t.Errorf("NewUint64Metric(%q) = %v, want %v", tc.metric, err, tc.want)
			}
		})
	}
}

func TestTooManyFieldCombinations(t *testing.T) {
	values := make([]string, 300)
	for i := range values {
		values[i] = string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	f := NewField("f", values)
	if _, err := newFieldMapper(f, f); !errors.Is(err, ErrTooManyFieldCombinations) {
		t.Errorf("newFieldMapper = %v, want %v", err, ErrTooManyFieldCombinations)
	}
}

func TestValues(t *testing.T) {
	before := testCounter.Value()
	testCounter.Increment()
	testCounter.IncrementBy(4)
	if got, want := testCounter.Value(), before+5; got != want {
		t.Errorf("Value = %d, want %d", got, want)
	}

	testFields.Increment("blue", "large")
	testFields.IncrementBy(2, "red", "small")
	testGauge = 7

	s, ok := Lookup("/test/fields")
	if !ok {
		t.Fatalf("Lookup(/test/fields) not found")
	}
	want := Snapshot{
		Name:        "/test/fields",
		Description: "A counter with two fields.",
		Cumulative:  true,
		Fields:      []string{"color", "size"},
		Points: []Point{
			{FieldValues: []string{"red", "small"}, Value: 2},
			{FieldValues: []string{"red", "medium"}},
			{FieldValues: []string{"red", "large"}},
			{FieldValues: []string{"blue", "small"}},
			{FieldValues: []string{"blue", "medium"}},
			{FieldValues: []string{"blue", "large"}, Value: 1},
		},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
	}

	g, ok := Lookup("/test/gauge")
	if !ok {
		t.Fatalf("Lookup(/test/gauge) not found")
	}
	if g.Cumulative || len(g.Points) != 1 || g.Points[0].Value != 7 {
		t.Errorf("gauge snapshot = %+v, want one non-cumulative point of 7", g)
	}

	var names []string
	for _, s := range Values() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"/test/counter", "/test/fields", "/test/gauge"}, names); diff != "" {
		t.Errorf("Values names mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupMissing(t *testing.T) {
	if _, ok := Lookup("/test/missing"); ok {
		t.Errorf("Lookup(/test/missing) found a metric")
	}
}
