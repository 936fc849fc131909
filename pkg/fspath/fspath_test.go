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

package fspath

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pikernel.dev/pikernel/pkg/errors/oserr"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		pathname string
		want     []string
		abs      bool
		dir      bool
		str      string
	}{
		{pathname: "/", want: nil, abs: true, dir: true, str: "/"},
		{pathname: "//", want: nil, abs: true, dir: true, str: "/"},
		{pathname: "hello", want: []string{"hello"}, str: "hello"},
		{pathname: "/bin/hello", want: []string{"bin", "hello"}, abs: true, str: "/bin/hello"},
		{pathname: "/images//hello/", want: []string{"images", "hello"}, abs: true, dir: true, str: "/images/hello/"},
		{pathname: "a/./b/../c", want: []string{"a", ".", "b", "..", "c"}, str: "a/./b/../c"},
		{pathname: "\xe6//x", want: []string{"\xe6", "x"}, str: "\xe6/x"},
	} {
		t.Run(tc.pathname, func(t *testing.T) {
			p, err := Parse(tc.pathname)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.pathname, err)
			}
			if p.Absolute != tc.abs || p.Dir != tc.dir {
				t.Errorf("Parse(%q): Absolute=%v Dir=%v, want %v %v", tc.pathname, p.Absolute, p.Dir, tc.abs, tc.dir)
			}
			var got []string
			for it := p.Begin; it.Ok(); it = it.Next() {
				got = append(got, it.String())
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("components mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.want, p.Components()); len(tc.want) > 0 && diff != "" {
				t.Errorf("Components mismatch (-want +got):\n%s", diff)
			}
			if p.HasComponents() != (len(tc.want) > 0) {
				t.Errorf("HasComponents = %v", p.HasComponents())
			}
			if got := p.String(); got != tc.str {
				t.Errorf("String = %q, want %q", got, tc.str)
			}
		})
	}
}

func TestIteratorNextOk(t *testing.T) {
	p, err := Parse("/bin/hello")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !p.Begin.NextOk() {
		t.Errorf("NextOk on first component = false")
	}
	if p.Begin.Next().NextOk() {
		t.Errorf("NextOk on last component = true")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, oserr.ErrNoEntry) {
		t.Errorf("Parse(\"\") = %v, want ErrNoEntry", err)
	}
}
