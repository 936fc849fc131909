// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

// Package sync provides synchronization primitives used throughout the
// kernel. Code outside this package should not import the standard library
// sync package directly, so that the locking discipline can be instrumented
// in one place.
package sync

import (
	"sync"
)

// Aliases of standard library types.
type (
	// Mutex is an alias of sync.Mutex.
	Mutex = sync.Mutex

	// RWMutex is an alias of sync.RWMutex.
	RWMutex = sync.RWMutex

	// WaitGroup is an alias of sync.WaitGroup.
	WaitGroup = sync.WaitGroup
)
