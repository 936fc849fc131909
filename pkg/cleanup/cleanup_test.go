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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanRunsInReverse(t *testing.T) {
	var order []string
	cu := Make(func() { order = append(order, "table") })
	cu.Add(func() { order = append(order, "stack") })
	cu.Add(func() { order = append(order, "image") })
	cu.Clean()

	want := []string{"image", "stack", "table"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("cleanup order mismatch (-want +got):\n%s", diff)
	}
	cu.Clean()
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("second Clean ran cleaners again (-want +got):\n%s", diff)
	}
}

func TestReleaseDefersCleaners(t *testing.T) {
	var order []string
	release := func() func() {
		cu := Make(func() { order = append(order, "memory") })
		defer cu.Clean()
		cu.Add(func() { order = append(order, "lock") })
		return cu.Release()
	}()
	if len(order) != 0 {
		t.Fatalf("released cleaners ran early: %v", order)
	}
	release()
	if diff := cmp.Diff([]string{"lock", "memory"}, order); diff != "" {
		t.Errorf("released cleanup mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroValue(t *testing.T) {
	var cu Cleanup
	cu.Clean()
	ran := false
	cu.Add(func() { ran = true })
	cu.Release()()
	if !ran {
		t.Errorf("cleaner added to zero Cleanup did not run")
	}
}
