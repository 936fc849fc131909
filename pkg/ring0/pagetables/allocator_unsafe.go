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

package pagetables

import (
	"fmt"
	"unsafe"

	"pikernel.dev/pikernel/pkg/hostarch"
)

// ptesFromPage reinterprets one page of physical memory as a table.
func ptesFromPage(page []byte) *PTEs {
	if len(page) != hostarch.PageSize {
		panic(fmt.Sprintf("table page has %d bytes, want %d", len(page), hostarch.PageSize))
	}
	return (*PTEs)(unsafe.Pointer(unsafe.SliceData(page)))
}
