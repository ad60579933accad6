// Copyright 2024 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package util

import (
	"runtime"
	"sync/atomic"
)

const maxSpinBackoff = 64

// SpinLock is a non-sleeping lock with exponential backoff.
// It is intended for very short critical sections that may be entered
// from an event delivery path. The zero value is unlocked.
type SpinLock struct {
	state atomic.Uint32
}

// Lock the spinlock, yielding the processor between attempts.
func (l *SpinLock) Lock() {
	backoff := 1
	for !l.TryLock() {
		for x := 0; x < backoff; x++ {
			runtime.Gosched()
		}
		if backoff < maxSpinBackoff {
			backoff *= 2
		}
	}
}

// TryLock attempts to take the lock once.
// Returns true when locked, false otherwise.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock the spinlock.
func (l *SpinLock) Unlock() {
	l.state.Store(0)
}
