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
	"sync"

	"github.com/pkg/errors"
)

// fakeDriver is an in-memory Driver used by the tests of this package.
type fakeDriver struct {
	mutex       sync.Mutex
	pinCount    int
	levels      map[uint32]bool
	pulls       map[uint32]Pull
	roles       map[uint32]Role
	altFuncs    map[uint32][]uint8
	armed       map[eventKey]EventSink
	armErr      error
	armCalls    int
	disarmCalls int
	resetCalls  int
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pinCount: 32,
		levels:   make(map[uint32]bool),
		pulls:    make(map[uint32]Pull),
		roles:    make(map[uint32]Role),
		altFuncs: map[uint32][]uint8{14: {0, 5}},
		armed:    make(map[eventKey]EventSink),
	}
}

func (d *fakeDriver) PinCount() int { return d.pinCount }

func (d *fakeDriver) SetInput(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.roles[id] = RoleInput
	return nil
}

func (d *fakeDriver) SetOutput(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.roles[id] = RoleOutput
	d.levels[id] = high
	return nil
}

func (d *fakeDriver) SetAltFunction(id uint32, function uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, f := range d.altFuncs[id] {
		if f == function {
			d.roles[id] = RoleAltFunc
			return nil
		}
	}
	return errors.Wrapf(UnsupportedAltFunctionError, "function %d", function)
}

func (d *fakeDriver) SetPull(id uint32, pull Pull) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.pulls[id] = pull
	return nil
}

func (d *fakeDriver) Read(id uint32) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.levels[id], nil
}

func (d *fakeDriver) Write(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.levels[id] = high
	return nil
}

func (d *fakeDriver) Arm(id uint32, event Event, sink EventSink) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.armCalls++
	if d.armErr != nil {
		return d.armErr
	}
	d.armed[eventKey{pin: id, event: event}] = sink
	return nil
}

func (d *fakeDriver) Disarm(id uint32, event Event) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.disarmCalls++
	delete(d.armed, eventKey{pin: id, event: event})
	return nil
}

func (d *fakeDriver) Reset(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.resetCalls++
	d.roles[id] = RoleGeneric
	d.pulls[id] = PullNone
	return nil
}

func (d *fakeDriver) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) isArmed(id uint32, event Event) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, found := d.armed[eventKey{pin: id, event: event}]
	return found
}

// fire simulates the hardware detecting an event.
// Events that are not armed are dropped, like real hardware would.
func (d *fakeDriver) fire(id uint32, event Event) int {
	d.mutex.Lock()
	sink, found := d.armed[eventKey{pin: id, event: event}]
	d.mutex.Unlock()
	if !found {
		return 0
	}
	return sink.Dispatch(id, event)
}

func (d *fakeDriver) setLevel(id uint32, high bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.levels[id] = high
}
