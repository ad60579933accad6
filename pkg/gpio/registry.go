// Copyright 2025 Ewout Prangsma
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

package gpio

import (
	"github.com/binkynet/gpiohal/pkg/util"
)

type eventKey struct {
	pin   uint32
	event Event
}

type registration struct {
	handler Handler
	mode    Mode
}

// registry maps (pin, event) to the ordered list of registrations.
// All access goes through a spinlock; critical sections never call out.
type registry struct {
	lock    util.SpinLock
	entries map[eventKey][]registration
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[eventKey][]registration),
	}
}

// add appends a registration to the list of the given key.
func (r *registry) add(key eventKey, h Handler, mode Mode) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.entries[key] = append(r.entries[key], registration{handler: h, mode: mode})
}

// take returns a snapshot of all registrations of the given key, in
// registration order, and removes the ModeOnce registrations from the key.
func (r *registry) take(key eventKey) []registration {
	r.lock.Lock()
	defer r.lock.Unlock()

	current := r.entries[key]
	if len(current) == 0 {
		return nil
	}
	snapshot := make([]registration, len(current))
	copy(snapshot, current)

	var kept []registration
	for _, reg := range current {
		if reg.mode == ModeAlways {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(r.entries, key)
	} else {
		r.entries[key] = kept
	}
	return snapshot
}

// remove all registrations of the given key.
// Returns the number of removed registrations.
func (r *registry) remove(key eventKey) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	n := len(r.entries[key])
	delete(r.entries, key)
	return n
}

// removePin removes all registrations of the given pin.
// Returns the number of removed registrations per event.
func (r *registry) removePin(pin uint32) map[Event]int {
	r.lock.Lock()
	defer r.lock.Unlock()

	result := make(map[Event]int)
	for key, regs := range r.entries {
		if key.pin == pin {
			result[key.event] += len(regs)
			delete(r.entries, key)
		}
	}
	return result
}

// count returns the number of registrations of the given key.
func (r *registry) count(key eventKey) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.entries[key])
}
