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

package monitor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/binkynet/gpiohal/pkg/gpio"
)

// Watch is an input pin and the events logged for it.
type Watch struct {
	Pin    uint32
	Events []gpio.Event
}

// Output is an output pin and its initial level.
type Output struct {
	Pin  uint32
	High bool
}

// ParseWatch parses `<pin>[=<event>,...]`.
// Without events, both edges are watched.
func ParseWatch(s string) (Watch, error) {
	pinStr, eventsStr, hasEvents := strings.Cut(strings.TrimSpace(s), "=")
	pin, err := parsePin(pinStr)
	if err != nil {
		return Watch{}, err
	}
	if !hasEvents {
		return Watch{Pin: pin, Events: []gpio.Event{gpio.BothEdges}}, nil
	}
	var events []gpio.Event
	for _, name := range strings.Split(eventsStr, ",") {
		e, err := gpio.ParseEvent(strings.TrimSpace(name))
		if err != nil {
			return Watch{}, errors.Wrapf(err, "watch '%s'", s)
		}
		events = append(events, e)
	}
	return Watch{Pin: pin, Events: lo.Uniq(events)}, nil
}

// ParseOutput parses `<pin>[=high|low]`.
// Without a level, the output starts low.
func ParseOutput(s string) (Output, error) {
	pinStr, levelStr, hasLevel := strings.Cut(strings.TrimSpace(s), "=")
	pin, err := parsePin(pinStr)
	if err != nil {
		return Output{}, err
	}
	if !hasLevel {
		return Output{Pin: pin}, nil
	}
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "1", "high", "on", "true":
		return Output{Pin: pin, High: true}, nil
	case "0", "low", "off", "false":
		return Output{Pin: pin}, nil
	default:
		return Output{}, errors.Errorf("invalid level '%s' in output '%s'", levelStr, s)
	}
}

// ParsePull parses none, up or down.
func ParsePull(s string) (gpio.Pull, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return gpio.PullNone, nil
	case "up":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	default:
		return gpio.PullNone, errors.Errorf("invalid pull '%s'", s)
	}
}

func parsePin(s string) (uint32, error) {
	pin, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(gpio.InvalidPinError, "'%s'", s)
	}
	return uint32(pin), nil
}
