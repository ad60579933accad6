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
	"sync/atomic"

	"github.com/pkg/errors"
)

// Handle is implemented by pin handles of every role.
type Handle interface {
	// ID returns the identifier of the pin.
	ID() uint32
	// Role returns the role this handle was created for.
	Role() Role
	// Pull returns the current pull-up/down configuration.
	Pull() Pull
	// Valid returns false once the handle has been consumed by a
	// transition or its pin has been released.
	Valid() bool
	// DisablePull disables the pull-up/down resistors.
	DisablePull() error
	// EnablePullUp enables the pull-up resistor.
	EnablePullUp() error
	// EnablePullDown enables the pull-down resistor.
	EnablePullDown() error
}

// handleOf returns the internal handle of any non-nil handle created by
// this package.
func handleOf(h Handle) (handle, bool) {
	switch p := h.(type) {
	case *Pin:
		if p != nil {
			return p.handle, true
		}
	case *InputPin:
		if p != nil {
			return p.handle, true
		}
	case *OutputPin:
		if p != nil {
			return p.handle, true
		}
	case *AltFuncPin:
		if p != nil {
			return p.handle, true
		}
	}
	return handle{}, false
}

// pinState is shared by all handles ever created for a single
// acquisition of a pin. Only the handle whose generation equals the
// current generation may operate on the pin.
type pinState struct {
	// opMutex serializes role transitions, output writes and release.
	// Pull changes and reads do not take it, since drivers may dispatch
	// events from within those calls.
	opMutex sync.Mutex
	// mutex guards role, pull, function & level.
	// It is never held while calling the driver.
	mutex      sync.Mutex
	id         uint32
	owner      *Manager
	driver     Driver
	generation atomic.Uint64
	role       Role
	pull       Pull
	function   uint8
	level      bool
}

// invalidate makes every existing handle of this pin unusable.
// It waits for a running transition or write to finish.
func (s *pinState) invalidate() {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()
	s.generation.Add(1)
}

type handle struct {
	state      *pinState
	generation uint64
	role       Role
}

// ID returns the identifier of the pin.
// It remains available after the handle is consumed.
func (h handle) ID() uint32 {
	return h.state.id
}

// Role returns the role this handle was created for.
func (h handle) Role() Role {
	return h.role
}

// Pull returns the current pull-up/down configuration.
func (h handle) Pull() Pull {
	h.state.mutex.Lock()
	defer h.state.mutex.Unlock()
	return h.state.pull
}

// Valid returns true as long as this handle owns its pin.
func (h handle) Valid() bool {
	return h.generation == h.state.generation.Load()
}

// check returns PinConsumedError when this handle no longer owns its pin.
func (h handle) check() error {
	if !h.Valid() {
		return errors.Wrapf(PinConsumedError, "pin %d (%s)", h.state.id, h.role)
	}
	return nil
}

// DisablePull disables the pull-up/down resistors.
func (h handle) DisablePull() error {
	return h.setPull(PullNone)
}

// EnablePullUp enables the pull-up resistor.
func (h handle) EnablePullUp() error {
	return h.setPull(PullUp)
}

// EnablePullDown enables the pull-down resistor.
func (h handle) EnablePullDown() error {
	return h.setPull(PullDown)
}

// setPull holds no lock while calling the driver, so handlers of
// events caused by the pull change may use the pin.
func (h handle) setPull(pull Pull) error {
	if err := h.check(); err != nil {
		return err
	}
	s := h.state
	if err := s.driver.SetPull(s.id, pull); err != nil {
		return errors.Wrapf(err, "SetPull(%s) failed for pin %d", pull, s.id)
	}
	s.mutex.Lock()
	s.pull = pull
	s.mutex.Unlock()
	return nil
}

// exclusive runs the given driver operation with opMutex held, after
// verifying that this handle still owns the pin.
func (h handle) exclusive(op func(s *pinState) error) error {
	s := h.state
	s.opMutex.Lock()
	defer s.opMutex.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	return op(s)
}

// transition consumes this handle and returns a handle for the given role.
// When apply fails, this handle stays valid and the pin keeps its role.
func (h handle) transition(role Role, apply func(s *pinState) error) (handle, error) {
	var next handle
	err := h.exclusive(func(s *pinState) error {
		if err := apply(s); err != nil {
			return err
		}
		if !s.generation.CompareAndSwap(h.generation, h.generation+1) {
			return errors.Wrapf(PinConsumedError, "pin %d (%s)", s.id, h.role)
		}
		s.mutex.Lock()
		s.role = role
		s.mutex.Unlock()
		next = handle{state: s, generation: h.generation + 1, role: role}
		return nil
	})
	if err != nil {
		return handle{}, err
	}
	pinTransitionsTotal.WithLabelValues(role.String()).Inc()
	return next, nil
}

// Pin is a pin in generic state, as handed out by Manager.UsePin.
// It can only be transitioned into one of the other roles.
type Pin struct {
	handle
}

// IntoInput configures the pin as input.
// On success this handle is consumed.
func (p *Pin) IntoInput() (*InputPin, error) {
	next, err := p.transition(RoleInput, func(s *pinState) error {
		if err := s.driver.SetInput(s.id); err != nil {
			return errors.Wrapf(err, "SetInput failed for pin %d", s.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &InputPin{handle: next}, nil
}

// IntoOutput configures the pin as output, initially driven low.
// On success this handle is consumed.
func (p *Pin) IntoOutput() (*OutputPin, error) {
	next, err := p.transition(RoleOutput, func(s *pinState) error {
		if err := s.driver.SetOutput(s.id, false); err != nil {
			return errors.Wrapf(err, "SetOutput failed for pin %d", s.id)
		}
		s.mutex.Lock()
		s.level = false
		s.mutex.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &OutputPin{handle: next}, nil
}

// IntoAltFunc switches the pin to the given alternate function.
// On success this handle is consumed. When the hardware has no such
// function for this pin, UnsupportedAltFunctionError is returned and
// this handle remains valid in generic state.
func (p *Pin) IntoAltFunc(function uint8) (*AltFuncPin, error) {
	next, err := p.transition(RoleAltFunc, func(s *pinState) error {
		if err := s.driver.SetAltFunction(s.id, function); err != nil {
			if IsUnsupportedAltFunction(err) {
				return errors.Wrapf(UnsupportedAltFunctionError, "pin %d has no alternate function %d", s.id, function)
			}
			return errors.Wrapf(err, "SetAltFunction(%d) failed for pin %d", function, s.id)
		}
		s.mutex.Lock()
		s.function = function
		s.mutex.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AltFuncPin{handle: next, function: function}, nil
}

// InputPin is a pin configured as input.
type InputPin struct {
	handle
}

// IsHigh reads the current level and returns true when it is high.
func (p *InputPin) IsHigh() (bool, error) {
	if err := p.check(); err != nil {
		return false, err
	}
	value, err := p.state.driver.Read(p.state.id)
	if err != nil {
		return false, errors.Wrapf(err, "Read failed for pin %d", p.state.id)
	}
	return value, nil
}

// IsLow reads the current level and returns true when it is low.
func (p *InputPin) IsLow() (bool, error) {
	high, err := p.IsHigh()
	if err != nil {
		return false, err
	}
	return !high, nil
}

// OutputPin is a pin configured as output.
type OutputPin struct {
	handle
}

// High drives the pin high.
func (p *OutputPin) High() error {
	return p.write(func(bool) bool { return true })
}

// Low drives the pin low.
func (p *OutputPin) Low() error {
	return p.write(func(bool) bool { return false })
}

// Toggle flips the driven level.
func (p *OutputPin) Toggle() error {
	return p.write(func(current bool) bool { return !current })
}

// Level returns the last driven level.
func (p *OutputPin) Level() bool {
	p.state.mutex.Lock()
	defer p.state.mutex.Unlock()
	return p.state.level
}

func (p *OutputPin) write(next func(current bool) bool) error {
	return p.exclusive(func(s *pinState) error {
		s.mutex.Lock()
		value := next(s.level)
		s.mutex.Unlock()
		if err := s.driver.Write(s.id, value); err != nil {
			return errors.Wrapf(err, "Write(%t) failed for pin %d", value, s.id)
		}
		s.mutex.Lock()
		s.level = value
		s.mutex.Unlock()
		return nil
	})
}

// AltFuncPin is a pin switched to an alternate function.
// Its meaning is defined by the hardware.
type AltFuncPin struct {
	handle
	function uint8
}

// Function returns the selected alternate function.
func (p *AltFuncPin) Function() uint8 {
	return p.function
}
