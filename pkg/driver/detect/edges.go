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

package detect

import (
	"sync"

	"github.com/binkynet/gpiohal/pkg/gpio"
)

// Edges keeps the armed edge events of pins whose transitions are
// reported by the hardware itself.
type Edges struct {
	mutex sync.Mutex
	pins  map[uint32]map[gpio.Event]gpio.EventSink
}

// NewEdges creates an empty edge event set.
func NewEdges() *Edges {
	return &Edges{
		pins: make(map[uint32]map[gpio.Event]gpio.EventSink),
	}
}

// Add an armed edge event.
// Returns true when this is the first edge event of the pin.
func (e *Edges) Add(id uint32, event gpio.Event, sink gpio.EventSink) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	events, found := e.pins[id]
	if !found {
		events = make(map[gpio.Event]gpio.EventSink)
		e.pins[id] = events
	}
	events[event] = sink
	return !found
}

// Remove an armed edge event.
// Returns true when the pin has no edge events left.
func (e *Edges) Remove(id uint32, event gpio.Event) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	events, found := e.pins[id]
	if !found {
		return false
	}
	delete(events, event)
	if len(events) == 0 {
		delete(e.pins, id)
		return true
	}
	return false
}

// Has returns true when the pin has at least one armed edge event.
func (e *Edges) Has(id uint32) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	_, found := e.pins[id]
	return found
}

// Clear removes all edge events of the pin.
func (e *Edges) Clear(id uint32) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.pins, id)
}

// Report a transition of the pin and dispatch every armed edge event
// it satisfies. Returns the number of dispatched events.
func (e *Edges) Report(id uint32, rising bool) int {
	e.mutex.Lock()
	var deliveries []delivery
	for _, event := range gpio.Events() {
		if sink, armed := e.pins[id][event]; armed && event.Matches(rising) {
			deliveries = append(deliveries, delivery{sink: sink, event: event})
		}
	}
	e.mutex.Unlock()

	for _, x := range deliveries {
		x.sink.Dispatch(id, x.event)
	}
	return len(deliveries)
}
