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

// Package sysfs implements a GPIO driver on top of the legacy
// /sys/class/gpio interface.
// All events are derived by polling.
package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ecc1/gpio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/driver/detect"
	hal "github.com/binkynet/gpiohal/pkg/gpio"
)

const (
	defaultRoot         = "/sys/class/gpio"
	defaultPinCount     = 54
	defaultPollInterval = time.Millisecond * 5
)

// InputPin is the interface satisfied by GPIO input pins.
type InputPin interface {
	Read() (bool, error)
}

// OutputPin is the interface satisfied by GPIO output pins.
type OutputPin interface {
	Write(bool) error
}

// Config of the sysfs driver.
type Config struct {
	// Root of the sysfs GPIO class
	Root string
	// Number of pins
	PinCount int
	// If set, a low electrical level reads as high
	ActiveLow bool
	// Interval between level reads of pins with armed events.
	PollInterval time.Duration
}

// Dependencies of the sysfs driver.
// Unset functions default to the sysfs implementation.
type Dependencies struct {
	Log      zerolog.Logger
	Input    func(pin int, activeLow bool) (InputPin, error)
	Output   func(pin int, activeLow bool, initialValue bool) (OutputPin, error)
	Unexport func(pin int) error
}

// Driver is the sysfs GPIO driver.
type Driver struct {
	Config
	Dependencies

	mutex    sync.Mutex
	pins     map[uint32]*sysfsPin
	detector *detect.Detector
}

type sysfsPin struct {
	role   hal.Role
	input  InputPin
	output OutputPin
	level  bool
}

var _ hal.Driver = &Driver{}

// New creates a sysfs driver.
func New(cfg Config, deps Dependencies) *Driver {
	if cfg.Root == "" {
		cfg.Root = defaultRoot
	}
	if cfg.PinCount <= 0 {
		cfg.PinCount = defaultPinCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if deps.Input == nil {
		deps.Input = func(pin int, activeLow bool) (InputPin, error) {
			return gpio.Input(pin, activeLow)
		}
	}
	if deps.Output == nil {
		deps.Output = func(pin int, activeLow bool, initialValue bool) (OutputPin, error) {
			return gpio.Output(pin, activeLow, initialValue)
		}
	}
	if deps.Unexport == nil {
		root := cfg.Root
		deps.Unexport = func(pin int) error {
			return os.WriteFile(filepath.Join(root, "unexport"), []byte(strconv.Itoa(pin)), 0644)
		}
	}
	deps.Log = deps.Log.With().Str("component", "sysfs-driver").Logger()
	d := &Driver{
		Config:       cfg,
		Dependencies: deps,
		pins:         make(map[uint32]*sysfsPin),
	}
	d.detector = detect.New(detect.Config{Interval: cfg.PollInterval}, deps.Log, d.Read)
	return d
}

// get returns the pin with given id.
// Requires d.mutex to be held.
func (d *Driver) get(id uint32) (*sysfsPin, error) {
	if int(id) >= d.Config.PinCount {
		return nil, errors.Wrapf(hal.InvalidPinError, "pin %d", id)
	}
	p, found := d.pins[id]
	if !found {
		p = &sysfsPin{}
		d.pins[id] = p
	}
	return p, nil
}

// PinCount returns the number of pins.
func (d *Driver) PinCount() int {
	return d.Config.PinCount
}

// SetInput exports the pin as input.
func (d *Driver) SetInput(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	in, err := d.Input(int(id), d.ActiveLow)
	if err != nil {
		return errors.Wrapf(err, "Input failed for pin %d", id)
	}
	p.role, p.input, p.output = hal.RoleInput, in, nil
	return nil
}

// SetOutput exports the pin as output driving the given level.
func (d *Driver) SetOutput(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	out, err := d.Output(int(id), d.ActiveLow, high)
	if err != nil {
		return errors.Wrapf(err, "Output failed for pin %d", id)
	}
	p.role, p.input, p.output, p.level = hal.RoleOutput, nil, out, high
	return nil
}

// SetAltFunction always fails, sysfs cannot mux pins.
func (d *Driver) SetAltFunction(id uint32, function uint8) error {
	return errors.Wrapf(hal.UnsupportedAltFunctionError, "pin %d function %d", id, function)
}

// SetPull is accepted but has no effect, sysfs has no bias control.
func (d *Driver) SetPull(id uint32, pull hal.Pull) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, err := d.get(id); err != nil {
		return err
	}
	if pull != hal.PullNone {
		d.Log.Warn().Uint32("pin", id).Str("pull", pull.String()).Msg("Pull configuration is not supported")
	}
	return nil
}

// Read the current level of the pin.
// Outputs return the last written level.
func (d *Driver) Read(id uint32) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return false, err
	}
	switch {
	case p.input != nil:
		v, err := p.input.Read()
		if err != nil {
			return false, errors.Wrapf(err, "Read failed for pin %d", id)
		}
		return v, nil
	case p.output != nil:
		return p.level, nil
	default:
		return false, errors.Errorf("pin %d is not exported", id)
	}
}

// Write the level of an output pin.
func (d *Driver) Write(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	if p.output == nil {
		return errors.Errorf("pin %d is not an output", id)
	}
	if err := p.output.Write(high); err != nil {
		return errors.Wrapf(err, "Write failed for pin %d", id)
	}
	p.level = high
	return nil
}

// Arm starts polling the pin for the given event.
func (d *Driver) Arm(id uint32, event hal.Event, sink hal.EventSink) error {
	return d.detector.Arm(id, event, sink)
}

// Disarm stops polling for the given event.
func (d *Driver) Disarm(id uint32, event hal.Event) error {
	return d.detector.Disarm(id, event)
}

// Reset unexports the pin.
func (d *Driver) Reset(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, found := d.pins[id]; !found {
		return nil
	}
	delete(d.pins, id)
	if err := d.Unexport(int(id)); err != nil {
		return errors.Wrapf(err, "Unexport failed for pin %d", id)
	}
	return nil
}

// Close stops all polling.
func (d *Driver) Close() error {
	return d.detector.Close()
}
