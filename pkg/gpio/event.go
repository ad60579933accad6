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
	"strings"

	"github.com/pkg/errors"
)

// Event is a condition a pin in input role can be observed for.
// Every value is a distinct registry key; in particular the Async
// variants are never merged with their synchronous counterparts.
type Event uint8

const (
	// RisingEdge fires when the level changes from low to high.
	RisingEdge Event = iota
	// FallingEdge fires when the level changes from high to low.
	FallingEdge
	// BothEdges fires on any level change.
	BothEdges
	// High fires as long as the level is high.
	High
	// Low fires as long as the level is low.
	Low
	// AsyncRisingEdge is RisingEdge detected outside of the GPIO sampling clock.
	AsyncRisingEdge
	// AsyncFallingEdge is FallingEdge detected outside of the GPIO sampling clock.
	AsyncFallingEdge
	// AsyncBothEdges is BothEdges detected outside of the GPIO sampling clock.
	AsyncBothEdges

	eventCount
)

var eventNames = [eventCount]string{
	RisingEdge:       "rising_edge",
	FallingEdge:      "falling_edge",
	BothEdges:        "both_edges",
	High:             "high",
	Low:              "low",
	AsyncRisingEdge:  "async_rising_edge",
	AsyncFallingEdge: "async_falling_edge",
	AsyncBothEdges:   "async_both_edges",
}

// Events returns all event kinds in declaration order.
func Events() []Event {
	result := make([]Event, 0, eventCount)
	for e := Event(0); e < eventCount; e++ {
		result = append(result, e)
	}
	return result
}

// ParseEvent converts the name of an event (as returned by String)
// into an Event. Dashes are accepted in place of underscores.
func ParseEvent(s string) (Event, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for e, n := range eventNames {
		if n == name {
			return Event(e), nil
		}
	}
	return 0, errors.Wrapf(InvalidEventError, "unknown event '%s'", s)
}

// IsValid returns true when e is one of the defined events.
func (e Event) IsValid() bool {
	return e < eventCount
}

// IsAsync returns true for events detected outside of the sampling clock.
func (e Event) IsAsync() bool {
	switch e {
	case AsyncRisingEdge, AsyncFallingEdge, AsyncBothEdges:
		return true
	default:
		return false
	}
}

// IsLevel returns true for High & Low.
func (e Event) IsLevel() bool {
	return e == High || e == Low
}

// IsEdge returns true for all edge events (sync & async).
func (e Event) IsEdge() bool {
	return e.IsValid() && !e.IsLevel()
}

// Sync returns the synchronous counterpart of an async event.
// Other events are returned unchanged.
// Drivers that have a single detection path use this to decide which
// physical transition to watch; the registry key is never changed.
func (e Event) Sync() Event {
	switch e {
	case AsyncRisingEdge:
		return RisingEdge
	case AsyncFallingEdge:
		return FallingEdge
	case AsyncBothEdges:
		return BothEdges
	default:
		return e
	}
}

// Matches returns true when a physical transition to the given level
// satisfies this edge event.
func (e Event) Matches(rising bool) bool {
	switch e.Sync() {
	case RisingEdge:
		return rising
	case FallingEdge:
		return !rising
	case BothEdges:
		return true
	default:
		return false
	}
}

func (e Event) String() string {
	if !e.IsValid() {
		return "invalid"
	}
	return eventNames[e]
}
