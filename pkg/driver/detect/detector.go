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

// Package detect implements software detection of GPIO events on top of
// plain level reads. Drivers whose hardware cannot report an event kind
// natively use a Detector for it.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/gpio"
	"github.com/binkynet/gpiohal/pkg/util"
)

// ReadFunc reads the current level of a pin.
type ReadFunc func(id uint32) (bool, error)

// Config of a Detector.
type Config struct {
	// Interval between two level reads of a watched pin.
	// When zero, the detector does not poll and levels must be fed
	// through Sample.
	Interval time.Duration
}

// Detector derives edge & level events from successive level samples.
type Detector struct {
	Config
	log  zerolog.Logger
	read ReadFunc

	mutex   sync.Mutex
	watches map[uint32]*watch
}

type watch struct {
	events    map[gpio.Event]gpio.EventSink
	lastLevel bool
	cancel    context.CancelFunc
}

type delivery struct {
	sink  gpio.EventSink
	event gpio.Event
}

// New creates a Detector that reads levels with the given function.
func New(cfg Config, log zerolog.Logger, read ReadFunc) *Detector {
	return &Detector{
		Config:  cfg,
		log:     log.With().Str("component", "detector").Logger(),
		read:    read,
		watches: make(map[uint32]*watch),
	}
}

// Arm starts detecting the given event on the pin.
// The initial level is read before Arm returns, so the first
// transition after Arm is reported.
func (d *Detector) Arm(id uint32, event gpio.Event, sink gpio.EventSink) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if w, found := d.watches[id]; found {
		w.events[event] = sink
		return nil
	}
	level, err := d.read(id)
	if err != nil {
		return err
	}
	w := &watch{
		events:    map[gpio.Event]gpio.EventSink{event: sink},
		lastLevel: level,
	}
	if d.Interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go util.UntilCanceled(ctx, d.log, fmt.Sprintf("polling pin %d", id), d.Interval, func() error {
			level, err := d.read(id)
			if err != nil {
				return err
			}
			d.Sample(id, level)
			return nil
		})
	}
	d.watches[id] = w
	return nil
}

// Disarm stops detecting the given event on the pin.
func (d *Detector) Disarm(id uint32, event gpio.Event) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	w, found := d.watches[id]
	if !found {
		return nil
	}
	delete(w.events, event)
	if len(w.events) == 0 {
		if w.cancel != nil {
			w.cancel()
		}
		delete(d.watches, id)
	}
	return nil
}

// IsArmed returns true when the given event is detected on the pin.
func (d *Detector) IsArmed(id uint32, event gpio.Event) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if w, found := d.watches[id]; found {
		_, armed := w.events[event]
		return armed
	}
	return false
}

// Sample feeds a level reading of the pin into the detector and
// dispatches every armed event it satisfies.
// Edge events fire when the level differs from the previous sample;
// level events fire on every sample at their level.
// Returns the number of dispatched events.
func (d *Detector) Sample(id uint32, level bool) int {
	d.mutex.Lock()
	w, found := d.watches[id]
	if !found {
		d.mutex.Unlock()
		return 0
	}
	changed := level != w.lastLevel
	w.lastLevel = level
	var deliveries []delivery
	for _, event := range gpio.Events() {
		sink, armed := w.events[event]
		if !armed {
			continue
		}
		switch {
		case event == gpio.High && level, event == gpio.Low && !level:
			deliveries = append(deliveries, delivery{sink: sink, event: event})
		case event.IsEdge() && changed && event.Matches(level):
			deliveries = append(deliveries, delivery{sink: sink, event: event})
		}
	}
	d.mutex.Unlock()

	for _, x := range deliveries {
		x.sink.Dispatch(id, x.event)
	}
	return len(deliveries)
}

// Close stops all polling.
func (d *Detector) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for id, w := range d.watches {
		if w.cancel != nil {
			w.cancel()
		}
		delete(d.watches, id)
	}
	return nil
}
