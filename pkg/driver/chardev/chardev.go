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

// Package chardev implements a GPIO driver on top of the Linux GPIO
// character device.
// Edge events come from the kernel line events; level events are derived
// by polling. The character device has no pinmux control, so alternate
// functions are not supported.
package chardev

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/driver/detect"
	hal "github.com/binkynet/gpiohal/pkg/gpio"
)

const (
	defaultChip         = "/dev/gpiochip0"
	defaultConsumer     = "gpiohal"
	defaultPinCount     = 54
	defaultPollInterval = time.Millisecond * 10
)

// Config of the character device driver.
type Config struct {
	// Path of the GPIO chip device
	Chip string
	// Label of opened lines
	Consumer string
	// Number of lines of the chip
	PinCount int
	// Interval between level reads for level events.
	PollInterval time.Duration
}

// Dependencies of the character device driver.
type Dependencies struct {
	Log zerolog.Logger
	// Lines opens chip lines. Defaults to the lines of Config.Chip.
	Lines Lines
}

// Driver is the GPIO character device driver.
type Driver struct {
	Config
	Dependencies

	mutex    sync.Mutex
	pins     map[uint32]*line
	edges    *detect.Edges
	detector *detect.Detector
}

type line struct {
	role   hal.Role
	pull   hal.Pull
	input  Line
	output OutputLine
	events EventLine
}

// current returns the opened line, if any.
func (l *line) current() Line {
	switch {
	case l.events != nil:
		return l.events
	case l.output != nil:
		return l.output
	case l.input != nil:
		return l.input
	default:
		return nil
	}
}

// close the opened line, if any.
func (l *line) close() error {
	cur := l.current()
	l.input, l.output, l.events = nil, nil, nil
	if cur == nil {
		return nil
	}
	return cur.Close()
}

var _ hal.Driver = &Driver{}

// New creates a character device driver.
func New(cfg Config, deps Dependencies) *Driver {
	if cfg.Chip == "" {
		cfg.Chip = defaultChip
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumer
	}
	if cfg.PinCount <= 0 {
		cfg.PinCount = defaultPinCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if deps.Lines == nil {
		deps.Lines = NewChipLines(cfg.Chip, cfg.Consumer)
	}
	deps.Log = deps.Log.With().Str("component", "chardev-driver").Str("chip", cfg.Chip).Logger()
	d := &Driver{
		Config:       cfg,
		Dependencies: deps,
		pins:         make(map[uint32]*line),
		edges:        detect.NewEdges(),
	}
	d.detector = detect.New(detect.Config{Interval: cfg.PollInterval}, deps.Log, d.Read)
	return d
}

// get returns the line with given id.
// Requires d.mutex to be held.
func (d *Driver) get(id uint32) (*line, error) {
	if int(id) >= d.Config.PinCount {
		return nil, errors.Wrapf(hal.InvalidPinError, "line %d", id)
	}
	l, found := d.pins[id]
	if !found {
		l = &line{}
		d.pins[id] = l
	}
	return l, nil
}

// openInput (re)opens the line as input, with events when edges are armed.
// Requires d.mutex to be held.
func (d *Driver) openInput(id uint32, l *line) error {
	if err := l.close(); err != nil {
		d.Log.Warn().Err(err).Uint32("line", id).Msg("Failed to close line")
	}
	if d.edges.Has(id) {
		ev, err := d.Lines.Events(id)
		if err != nil {
			return err
		}
		l.events = ev
		go d.forwardEvents(id, ev)
	} else {
		in, err := d.Lines.Input(id)
		if err != nil {
			return err
		}
		l.input = in
	}
	l.role = hal.RoleInput
	return nil
}

// forwardEvents reports the events of the line until it is closed.
func (d *Driver) forwardEvents(id uint32, ev EventLine) {
	for e := range ev.Events() {
		if e == nil {
			continue
		}
		d.Log.Debug().Uint32("line", id).Bool("rising", e.RisingEdge).Time("time", e.Time).Msg("Line event")
		d.edges.Report(id, e.RisingEdge)
	}
}

// PinCount returns the number of lines.
func (d *Driver) PinCount() int {
	return d.Config.PinCount
}

// SetInput opens the line as input.
func (d *Driver) SetInput(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return err
	}
	return d.openInput(id, l)
}

// SetOutput opens the line as output driving the given level.
func (d *Driver) SetOutput(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return err
	}
	if err := l.close(); err != nil {
		d.Log.Warn().Err(err).Uint32("line", id).Msg("Failed to close line")
	}
	out, err := d.Lines.Output(id, high)
	if err != nil {
		return err
	}
	l.output = out
	l.role = hal.RoleOutput
	return nil
}

// SetAltFunction always fails, the character device cannot mux pins.
func (d *Driver) SetAltFunction(id uint32, function uint8) error {
	return errors.Wrapf(hal.UnsupportedAltFunctionError, "line %d function %d", id, function)
}

// SetPull records the pull configuration.
// The line request ABI used here carries no bias flags, so the
// configuration is not written to the hardware.
func (d *Driver) SetPull(id uint32, pull hal.Pull) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return err
	}
	if l.pull != pull && pull != hal.PullNone {
		d.Log.Warn().Uint32("line", id).Str("pull", pull.String()).Msg("Line bias is not supported")
	}
	l.pull = pull
	return nil
}

// Read the current level of the line.
func (d *Driver) Read(id uint32) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return false, err
	}
	cur := l.current()
	if cur == nil {
		return false, errors.Errorf("line %d is not opened", id)
	}
	v, err := cur.Value()
	if err != nil {
		return false, errors.Wrapf(err, "Value failed for line %d", id)
	}
	return v != 0, nil
}

// Write the level of an output line.
func (d *Driver) Write(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return err
	}
	if l.output == nil {
		return errors.Errorf("line %d is not an output", id)
	}
	if err := l.output.SetValue(toValue(high)); err != nil {
		return errors.Wrapf(err, "SetValue failed for line %d", id)
	}
	return nil
}

// Arm enables detection of the given event.
// The first edge event of an input reopens its line with events.
func (d *Driver) Arm(id uint32, event hal.Event, sink hal.EventSink) error {
	if event.IsLevel() {
		return d.detector.Arm(id, event, sink)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	l, err := d.get(id)
	if err != nil {
		return err
	}
	if !d.edges.Add(id, event, sink) || l.role != hal.RoleInput {
		return nil
	}
	if err := d.openInput(id, l); err != nil {
		d.edges.Remove(id, event)
		return err
	}
	return nil
}

// Disarm stops detection of the given event.
// The last edge event of an input reopens its line without events.
func (d *Driver) Disarm(id uint32, event hal.Event) error {
	if event.IsLevel() {
		return d.detector.Disarm(id, event)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.edges.Remove(id, event) {
		return nil
	}
	if l, found := d.pins[id]; found && l.role == hal.RoleInput {
		return d.openInput(id, l)
	}
	return nil
}

// Reset closes the line, which returns it to the kernel.
func (d *Driver) Reset(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.edges.Clear(id)
	l, found := d.pins[id]
	if !found {
		return nil
	}
	delete(d.pins, id)
	if err := l.close(); err != nil {
		return errors.Wrapf(err, "Close failed for line %d", id)
	}
	return nil
}

// Close all opened lines.
func (d *Driver) Close() error {
	d.detector.Close()
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for id, l := range d.pins {
		d.edges.Clear(id)
		if err := l.close(); err != nil {
			d.Log.Warn().Err(err).Uint32("line", id).Msg("Failed to close line")
		}
		delete(d.pins, id)
	}
	return nil
}
