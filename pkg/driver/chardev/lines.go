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

package chardev

import (
	"github.com/mkch/gpio"
	"github.com/pkg/errors"
)

// Line is an opened GPIO line.
type Line interface {
	// Value returns the current value of the line, 1 (high) or 0 (low).
	Value() (byte, error)
	Close() error
}

// OutputLine is a line opened as output.
type OutputLine interface {
	Line
	SetValue(value byte) error
}

// EventLine is an input line with edge events.
// The events channel is closed when the line is closed.
type EventLine interface {
	Line
	Events() <-chan *gpio.Event
}

// Lines opens the lines of a GPIO chip.
type Lines interface {
	Input(offset uint32) (Line, error)
	Output(offset uint32, high bool) (OutputLine, error)
	Events(offset uint32) (EventLine, error)
}

// chipLines opens lines of a GPIO character device.
type chipLines struct {
	path     string
	consumer string
}

// NewChipLines returns Lines that opens lines of the chip at the given
// path (e.g. /dev/gpiochip0), labeled with the given consumer.
func NewChipLines(path, consumer string) Lines {
	return &chipLines{path: path, consumer: consumer}
}

func (c *chipLines) Input(offset uint32) (Line, error) {
	chip, err := gpio.OpenChip(c.path)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenChip(%s) failed", c.path)
	}
	defer chip.Close()
	l, err := chip.OpenLine(offset, 0, gpio.Input, c.consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenLine(%d) failed", offset)
	}
	return l, nil
}

func (c *chipLines) Output(offset uint32, high bool) (OutputLine, error) {
	chip, err := gpio.OpenChip(c.path)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenChip(%s) failed", c.path)
	}
	defer chip.Close()
	l, err := chip.OpenLine(offset, toValue(high), gpio.Output, c.consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenLine(%d) failed", offset)
	}
	return l, nil
}

func (c *chipLines) Events(offset uint32) (EventLine, error) {
	chip, err := gpio.OpenChip(c.path)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenChip(%s) failed", c.path)
	}
	defer chip.Close()
	l, err := chip.OpenLineWithEvents(offset, gpio.Input, gpio.BothEdges, c.consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenLineWithEvents(%d) failed", offset)
	}
	return l, nil
}

func toValue(high bool) byte {
	if high {
		return 1
	}
	return 0
}
