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

// Package periph implements a GPIO driver on top of periph.io.
// Edge events use the kernel edge detection of the pin; level events
// are derived by polling.
package periph

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3"

	"github.com/binkynet/gpiohal/pkg/driver/detect"
	hal "github.com/binkynet/gpiohal/pkg/gpio"
)

const (
	defaultPinCount     = 54
	defaultNameFormat   = "GPIO%d"
	defaultPollInterval = time.Millisecond * 10
	defaultEdgeTimeout  = time.Millisecond * 250
)

// Functions that are plain GPIO modes, not alternate functions.
var gpioFuncs = []pin.Func{gpio.IN, gpio.IN_HIGH, gpio.IN_LOW, gpio.OUT, gpio.OUT_HIGH, gpio.OUT_LOW}

// Config of the periph driver.
type Config struct {
	// Number of pins
	PinCount int
	// Format used to build the periph pin name from a pin id.
	NameFormat string
	// Interval between level reads for level events.
	PollInterval time.Duration
	// Maximum time a single edge wait blocks.
	EdgeTimeout time.Duration
}

// Dependencies of the periph driver.
type Dependencies struct {
	Log zerolog.Logger
	// Lookup resolves a pin by name. Defaults to gpioreg.ByName.
	Lookup func(name string) gpio.PinIO
}

// Driver is the periph.io GPIO driver.
type Driver struct {
	Config
	Dependencies

	mutex    sync.Mutex
	pins     map[uint32]*pinIO
	watching map[uint32]bool // pins with a running edge goroutine
	edges    *detect.Edges
	detector *detect.Detector
}

type pinIO struct {
	io   gpio.PinIO
	role hal.Role
	pull gpio.Pull
}

var _ hal.Driver = &Driver{}

// New initializes the periph host and creates a driver.
func New(cfg Config, deps Dependencies) (*Driver, error) {
	if cfg.PinCount <= 0 {
		cfg.PinCount = defaultPinCount
	}
	if cfg.NameFormat == "" {
		cfg.NameFormat = defaultNameFormat
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.EdgeTimeout <= 0 {
		cfg.EdgeTimeout = defaultEdgeTimeout
	}
	if deps.Lookup == nil {
		state, err := host.Init()
		if err != nil {
			return nil, errors.Wrap(err, "host.Init failed")
		}
		deps.Log.Debug().
			Int("loaded", len(state.Loaded)).
			Int("failed", len(state.Failed)).
			Msg("Initialized periph host")
		deps.Lookup = gpioreg.ByName
	}
	deps.Log = deps.Log.With().Str("component", "periph-driver").Logger()
	d := &Driver{
		Config:       cfg,
		Dependencies: deps,
		pins:         make(map[uint32]*pinIO),
		watching:     make(map[uint32]bool),
		edges:        detect.NewEdges(),
	}
	d.detector = detect.New(detect.Config{Interval: cfg.PollInterval}, deps.Log, d.Read)
	return d, nil
}

// get returns the pin with given id.
// Requires d.mutex to be held.
func (d *Driver) get(id uint32) (*pinIO, error) {
	if p, found := d.pins[id]; found {
		return p, nil
	}
	if int(id) >= d.Config.PinCount {
		return nil, errors.Wrapf(hal.InvalidPinError, "pin %d", id)
	}
	name := fmt.Sprintf(d.NameFormat, id)
	io := d.Lookup(name)
	if io == nil {
		return nil, errors.Wrapf(hal.InvalidPinError, "no pin named %s", name)
	}
	p := &pinIO{io: io, pull: gpio.Float}
	d.pins[id] = p
	return p, nil
}

// edge returns the edge detection the input needs.
func (d *Driver) edge(id uint32) gpio.Edge {
	if d.edges.Has(id) {
		return gpio.BothEdges
	}
	return gpio.NoEdge
}

// PinCount returns the number of pins.
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
	if err := p.io.In(p.pull, d.edge(id)); err != nil {
		return errors.Wrapf(err, "In failed for pin %d", id)
	}
	p.role = hal.RoleInput
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
	if err := p.io.Out(gpio.Level(high)); err != nil {
		return errors.Wrapf(err, "Out failed for pin %d", id)
	}
	p.role = hal.RoleOutput
	return nil
}

// SetAltFunction switches the pin to the n-th alternate function
// it supports.
func (d *Driver) SetAltFunction(id uint32, function uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	pf, ok := p.io.(pin.PinFunc)
	if !ok {
		return errors.Wrapf(hal.UnsupportedAltFunctionError, "pin %d has no alternate functions", id)
	}
	alts := lo.Reject(pf.SupportedFuncs(), func(f pin.Func, _ int) bool {
		return lo.Contains(gpioFuncs, f)
	})
	if int(function) >= len(alts) {
		return errors.Wrapf(hal.UnsupportedAltFunctionError, "pin %d function %d", id, function)
	}
	if err := pf.SetFunc(alts[function]); err != nil {
		return errors.Wrapf(err, "SetFunc(%s) failed for pin %d", alts[function], id)
	}
	p.role = hal.RoleAltFunc
	return nil
}

// SetPull writes the pull configuration.
// The pull of a pin that is not an input is applied when it becomes one.
func (d *Driver) SetPull(id uint32, pull hal.Pull) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	p.pull = toPeriphPull(pull)
	if p.role == hal.RoleInput {
		if err := p.io.In(p.pull, d.edge(id)); err != nil {
			return errors.Wrapf(err, "In failed for pin %d", id)
		}
	}
	return nil
}

func toPeriphPull(pull hal.Pull) gpio.Pull {
	switch pull {
	case hal.PullUp:
		return gpio.PullUp
	case hal.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

// Read the current level of the pin.
func (d *Driver) Read(id uint32) (bool, error) {
	d.mutex.Lock()
	p, err := d.get(id)
	d.mutex.Unlock()
	if err != nil {
		return false, err
	}
	return bool(p.io.Read()), nil
}

// Write the level of an output pin.
func (d *Driver) Write(id uint32, high bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	if err := p.io.Out(gpio.Level(high)); err != nil {
		return errors.Wrapf(err, "Out failed for pin %d", id)
	}
	return nil
}

// Arm enables detection of the given event.
func (d *Driver) Arm(id uint32, event hal.Event, sink hal.EventSink) error {
	if event.IsLevel() {
		return d.detector.Arm(id, event, sink)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, err := d.get(id)
	if err != nil {
		return err
	}
	if !d.edges.Add(id, event, sink) {
		return nil
	}
	if err := p.io.In(p.pull, gpio.BothEdges); err != nil {
		d.edges.Remove(id, event)
		return errors.Wrapf(err, "In failed to enable edges on pin %d", id)
	}
	if !d.watching[id] {
		d.watching[id] = true
		go d.waitForEdges(id)
	}
	return nil
}

// waitForEdges reports every edge of the pin for as long as the pin has
// armed edge events. A goroutine that is still waiting when the pin is
// armed again keeps serving it, so there is at most one per pin.
func (d *Driver) waitForEdges(id uint32) {
	for {
		d.mutex.Lock()
		p, found := d.pins[id]
		if !found || !d.edges.Has(id) {
			delete(d.watching, id)
			d.mutex.Unlock()
			return
		}
		io := p.io
		d.mutex.Unlock()

		if !io.WaitForEdge(d.EdgeTimeout) {
			continue
		}
		rising := io.Read() == gpio.High
		d.Log.Debug().Uint32("pin", id).Bool("rising", rising).Msg("Edge detected")
		d.edges.Report(id, rising)
	}
}

// Disarm stops detection of the given event.
func (d *Driver) Disarm(id uint32, event hal.Event) error {
	if event.IsLevel() {
		return d.detector.Disarm(id, event)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.edges.Remove(id, event) {
		return nil
	}
	p, found := d.pins[id]
	if !found {
		return nil
	}
	if p.role == hal.RoleInput {
		if err := p.io.In(p.pull, gpio.NoEdge); err != nil {
			return errors.Wrapf(err, "In failed to disable edges on pin %d", id)
		}
	}
	return nil
}

// Reset halts the pin and makes it a floating input.
func (d *Driver) Reset(id uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	p, found := d.pins[id]
	if !found {
		return nil
	}
	d.edges.Clear(id)
	delete(d.pins, id)
	if err := p.io.Halt(); err != nil {
		return errors.Wrapf(err, "Halt failed for pin %d", id)
	}
	if err := p.io.In(gpio.Float, gpio.NoEdge); err != nil {
		return errors.Wrapf(err, "In failed for pin %d", id)
	}
	return nil
}

// Close stops all event detection.
// Edge goroutines end after their current wait.
func (d *Driver) Close() error {
	d.detector.Close()
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for id := range d.pins {
		d.edges.Clear(id)
	}
	return nil
}
