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

// Driver is implemented by concrete hardware back-ends.
// The Manager serializes calls per pin; Arm and Disarm are only called
// from call-context operations, never from within Dispatch.
type Driver interface {
	// PinCount returns the number of pins (ids 0...PinCount-1).
	// Zero means the driver does not limit pin ids.
	PinCount() int
	// SetInput configures the pin as input.
	SetInput(id uint32) error
	// SetOutput configures the pin as output, driving the given level.
	SetOutput(id uint32, high bool) error
	// SetAltFunction switches the pin to the given alternate function.
	// Implementations return (a wrapped) UnsupportedAltFunctionError
	// when the pin has no such function, without touching the hardware.
	SetAltFunction(id uint32, function uint8) error
	// SetPull writes the pull-up/down configuration of the pin.
	SetPull(id uint32, pull Pull) error
	// Read the current electrical level of the pin.
	Read(id uint32) (bool, error)
	// Write the driven level of an output pin.
	Write(id uint32, high bool) error
	// Arm enables detection of the given event on the pin.
	// Every detected occurrence must be reported to sink.Dispatch(id, event)
	// with exactly the armed event. Detection must be active when Arm returns.
	Arm(id uint32, event Event, sink EventSink) error
	// Disarm stops detection of the given event on the pin.
	Disarm(id uint32, event Event) error
	// Reset brings a released pin back to a safe state.
	Reset(id uint32) error
	// Close releases all driver resources.
	Close() error
}

// EventSink receives detected events from a driver.
// It is implemented by Manager.
type EventSink interface {
	// Dispatch delivers an event that occurred on the pin with given id.
	// Returns the number of handlers invoked.
	Dispatch(id uint32, event Event) int
}
