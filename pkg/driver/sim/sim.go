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

// Package sim implements an in-memory GPIO driver.
// External signals are simulated with SetLevel and Trigger.
package sim

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/driver/detect"
	"github.com/binkynet/gpiohal/pkg/gpio"
)

const (
	// DefaultPinCount is the number of pins when Config.PinCount is zero.
	DefaultPinCount = 54
	// DefaultAltFunctions is the number of alternate functions (0...n-1)
	// every pin supports when Config.AltFunctions is nil.
	DefaultAltFunctions = 6
)

// Config of the simulated driver.
type Config struct {
	// Number of pins
	PinCount int
	// Supported alternate functions per pin. Pins that are not listed
	// have no alternate functions. When nil, every pin supports
	// DefaultAltFunctions functions.
	AltFunctions map[uint32][]uint8
}

type pin struct {
	role     gpio.Role
	pull     gpio.Pull
	function uint8
	level    bool
	driven   bool // level set externally through SetLevel
}

// Driver is the simulated GPIO driver.
type Driver struct {
	Config
	log      zerolog.Logger
	mutex    sync.Mutex
	pins     map[uint32]*pin
	detector *detect.Detector
	armed    map[uint32]map[gpio.Event]gpio.EventSink
}

var _ gpio.Driver = &Driver{}

// New creates a simulated driver.
func New(cfg Config, log zerolog.Logger) *Driver {
	if cfg.PinCount <= 0 {
		cfg.PinCount = DefaultPinCount
	}
	d := &Driver{
		Config: cfg,
		log:    log.With().Str("component", "sim-driver").Logger(),
		pins:   make(map[uint32]*pin),
		armed:  make(map[uint32]map[gpio.Event]gpio.EventSink),
	}
	d.detector = detect.New(detect.Config{}, log, d.Read)
	return d
}

// get returns the state of the pin, creating it when needed.
// Requires d.mutex to be held.
func (d *Driver) get(id uint32) (*pin, error) {
	if int(id) >= d.Config.PinCount {
		return nil, errors.Wrapf(gpio.InvalidPinError, "pin %d", id)
	}
	p, found := d.pins[id]
	if !found {
		p = &pin{}
		d.pins[id] = p
	}
	return p, nil
}

// PinCount returns the number of simulated pins.
func (d *Driver) PinCount() int {
	return d.Config.PinCount
}

// SetInput configures the pin as input.
func (d *Driver) SetInput(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	p.role = gpio.RoleInput
	d.applyPull(p)
	return nil
}

// SetOutput configures the pin as output driving the given level.
func (d *Driver) SetOutput(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	p.role = gpio.RoleOutput
	p.level = high
	p.driven = false
	return nil
}

// SetAltFunction switches the pin to the given alternate function.
func (d *Driver) SetAltFunction(id uint32, function uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	if !d.supportsAltFunction(id, function) {
		return errors.Wrapf(gpio.UnsupportedAltFunctionError, "pin %d function %d", id, function)
	}
	p.role = gpio.RoleAltFunc
	p.function = function
	return nil
}

func (d *Driver) supportsAltFunction(id uint32, function uint8) bool {
	if d.AltFunctions == nil {
		return function < DefaultAltFunctions
	}
	for _, f := range d.AltFunctions[id] {
		if f == function {
			return true
		}
	}
	return false
}

// SetPull writes the pull configuration.
// An undriven input follows its pull resistor; events caused by the
// resulting level change are dispatched before SetPull returns.
func (d *Driver) SetPull(id uint32, pull gpio.Pull) error {
	d.mutex.Lock()
	p, err := d.get(id)
	if err != nil {
		d.mutex.Unlock()
		return err
	}
	p.pull = pull
	d.applyPull(p)
	level, input := p.level, p.role == gpio.RoleInput
	d.mutex.Unlock()

	if input {
		d.detector.Sample(id, level)
	}
	return nil
}

// applyPull sets the level of an undriven input according to its pull.
// Requires d.mutex to be held.
func (d *Driver) applyPull(p *pin) {
	if p.role != gpio.RoleInput || p.driven {
		return
	}
	switch p.pull {
	case gpio.PullUp:
		p.level = true
	case gpio.PullDown:
		p.level = false
	}
}

// Read the current level of the pin.
func (d *Driver) Read(id uint32) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return false, err
	}
	return p.level, nil
}

// Write the level of an output pin.
func (d *Driver) Write(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	if p.role != gpio.RoleOutput {
		return errors.Errorf("pin %d is not an output", id)
	}
	p.level = high
	return nil
}

// Arm enables detection of the given event.
// Events are derived from the levels passed to SetLevel; Trigger reports
// an armed event directly.
func (d *Driver) Arm(id uint32, event gpio.Event, sink gpio.EventSink) error {
	d.mutex.Lock()
	if _, err := d.get(id); err != nil {
		d.mutex.Unlock()
		return err
	}
	if d.armed[id] == nil {
		d.armed[id] = make(map[gpio.Event]gpio.EventSink)
	}
	d.armed[id][event] = sink
	d.mutex.Unlock()

	return d.detector.Arm(id, event, sink)
}

// Disarm stops detection of the given event.
func (d *Driver) Disarm(id uint32, event gpio.Event) error {
	d.mutex.Lock()
	delete(d.armed[id], event)
	d.mutex.Unlock()

	return d.detector.Disarm(id, event)
}

// Reset brings the pin back to an undriven input without pull.
func (d *Driver) Reset(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.get(id); err != nil {
		return err
	}
	d.pins[id] = &pin{}
	return nil
}

// Close the driver.
func (d *Driver) Close() error {
	return d.detector.Close()
}

// SetLevel simulates an external signal driving the pin to the given level.
// Armed events are dispatched synchronously before SetLevel returns.
func (d *Driver) SetLevel(id uint32, high bool) error {
	d.mutex.Lock()
	p, err := d.get(id)
	if err != nil {
		d.mutex.Unlock()
		return err
	}
	if p.role == gpio.RoleOutput {
		d.mutex.Unlock()
		return errors.Errorf("pin %d is driven as output", id)
	}
	p.level = high
	p.driven = true
	d.mutex.Unlock()

	d.detector.Sample(id, high)
	return nil
}

// Trigger simulates the hardware reporting the given event on the pin,
// without a level change. Returns the number of invoked handlers,
// or zero when the event is not armed.
func (d *Driver) Trigger(id uint32, event gpio.Event) int {
	d.mutex.Lock()
	sink, armed := d.armed[id][event]
	d.mutex.Unlock()
	if !armed {
		return 0
	}
	return sink.Dispatch(id, event)
}

// State returns the simulated role, pull & level of the pin.
func (d *Driver) State(id uint32) (gpio.Role, gpio.Pull, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if p, found := d.pins[id]; found {
		return p.role, p.pull, p.level
	}
	return gpio.RoleGeneric, gpio.PullNone, false
}
