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

// Package monitor watches a configured set of GPIO inputs and drives a
// configured set of outputs through a gpio.Manager.
package monitor

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/binkynet/gpiohal/pkg/gpio"
)

// Config of the monitor.
type Config struct {
	// Inputs to watch
	Watches []Watch
	// Outputs to drive
	Outputs []Output
	// Pull configuration of watched inputs
	Pull gpio.Pull
}

// Notifier receives a notification for every dispatched event.
type Notifier interface {
	Notify(gpio.Notification)
}

// Dependencies of the monitor.
type Dependencies struct {
	Log     zerolog.Logger
	Manager *gpio.Manager
	// Optional notifier (e.g. MQTT publisher)
	Notifier Notifier
}

// PinStatus is the observed state of a monitored pin.
type PinStatus struct {
	Pin           uint32     `json:"pin"`
	Role          string     `json:"role"`
	Pull          string     `json:"pull"`
	Events        []string   `json:"events,omitempty"`
	High          bool       `json:"high"`
	LastEvent     string     `json:"last_event,omitempty"`
	LastEventTime *time.Time `json:"last_event_time,omitempty"`
	EventCount    uint64     `json:"event_count"`
}

// Service is the monitor.
type Service struct {
	Config
	Dependencies

	mutex   sync.Mutex
	started bool
	inputs  map[uint32]*gpio.InputPin
	outputs map[uint32]*gpio.OutputPin
	status  map[uint32]*PinStatus
}

// New creates a monitor.
func New(cfg Config, deps Dependencies) *Service {
	deps.Log = deps.Log.With().Str("component", "monitor").Logger()
	return &Service{
		Config:       cfg,
		Dependencies: deps,
		inputs:       make(map[uint32]*gpio.InputPin),
		outputs:      make(map[uint32]*gpio.OutputPin),
		status:       make(map[uint32]*PinStatus),
	}
}

// Start acquires and configures all watched inputs & outputs.
// On failure, all pins acquired so far are released.
func (s *Service) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return errors.New("monitor already started")
	}
	if err := s.start(); err != nil {
		s.release()
		return err
	}
	s.started = true
	return nil
}

// start acquires all pins.
// Requires s.mutex to be held.
func (s *Service) start() error {
	for _, w := range s.Watches {
		if err := s.watch(w); err != nil {
			return errors.Wrapf(err, "watch pin %d", w.Pin)
		}
	}
	for _, o := range s.Outputs {
		if err := s.drive(o); err != nil {
			return errors.Wrapf(err, "output pin %d", o.Pin)
		}
	}
	return nil
}

// watch configures an input and registers handlers for its events.
// Requires s.mutex to be held.
func (s *Service) watch(w Watch) error {
	p, err := s.Manager.UsePin(w.Pin)
	if err != nil {
		return err
	}
	st := &PinStatus{Pin: w.Pin}
	s.status[w.Pin] = st
	in, err := p.IntoInput()
	if err != nil {
		return err
	}
	s.inputs[w.Pin] = in
	switch s.Pull {
	case gpio.PullUp:
		err = in.EnablePullUp()
	case gpio.PullDown:
		err = in.EnablePullDown()
	default:
		err = in.DisablePull()
	}
	if err != nil {
		return err
	}
	st.Role, st.Pull = in.Role().String(), in.Pull().String()
	for _, event := range w.Events {
		if err := s.Manager.RegisterEventHandlerAlways(in, event, s.handler(w.Pin, event)); err != nil {
			return err
		}
		st.Events = append(st.Events, event.String())
	}
	s.Log.Info().
		Uint32("pin", w.Pin).
		Strs("events", st.Events).
		Str("pull", st.Pull).
		Msg("Watching input")
	return nil
}

// drive configures an output with its initial level.
// Requires s.mutex to be held.
func (s *Service) drive(o Output) error {
	p, err := s.Manager.UsePin(o.Pin)
	if err != nil {
		return err
	}
	s.status[o.Pin] = &PinStatus{Pin: o.Pin}
	out, err := p.IntoOutput()
	if err != nil {
		return err
	}
	s.outputs[o.Pin] = out
	if o.High {
		if err := out.High(); err != nil {
			return err
		}
	}
	s.status[o.Pin].Role, s.status[o.Pin].Pull = out.Role().String(), out.Pull().String()
	s.Log.Info().Uint32("pin", o.Pin).Bool("high", o.High).Msg("Driving output")
	return nil
}

// handler returns the handler recording events of the given pin.
func (s *Service) handler(pin uint32, event gpio.Event) gpio.Handler {
	pinLabel := strconv.FormatUint(uint64(pin), 10)
	counter := eventsObservedTotal.WithLabelValues(pinLabel, event.String())
	return gpio.HandlerFunc(func() {
		now := time.Now()
		counter.Inc()
		s.mutex.Lock()
		if st, found := s.status[pin]; found {
			st.LastEvent = event.String()
			st.LastEventTime = &now
			st.EventCount++
		}
		s.mutex.Unlock()
		s.Log.Info().Uint32("pin", pin).Str("event", event.String()).Msg("Event")
	})
}

// release gives back all acquired pins.
// Requires s.mutex to be held.
func (s *Service) release() error {
	var ae aerr.AggregateError
	for pin := range s.status {
		if err := s.Manager.ReleasePin(pin); err != nil && !gpio.IsNotInUse(err) {
			ae.Add(err)
		}
	}
	s.inputs = make(map[uint32]*gpio.InputPin)
	s.outputs = make(map[uint32]*gpio.OutputPin)
	s.status = make(map[uint32]*PinStatus)
	return ae.AsError()
}

// Run starts the monitor and keeps it running until the given context
// is canceled. All pins are released before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if s.Notifier != nil {
		unsubscribe := s.Manager.Subscribe(s.Notifier.Notify)
		defer unsubscribe()
	}
	if err := s.Start(); err != nil {
		return err
	}
	s.Log.Info().
		Int("inputs", len(s.Watches)).
		Int("outputs", len(s.Outputs)).
		Msg("Monitor running")

	<-ctx.Done()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.started = false
	return s.release()
}

// SetOutput drives the monitored output with given pin to a level.
func (s *Service) SetOutput(pin uint32, high bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out, found := s.outputs[pin]
	if !found {
		return errors.Wrapf(gpio.NotInUseError, "pin %d is not a monitored output", pin)
	}
	if out.Level() == high {
		return nil
	}
	if high {
		if err := out.High(); err != nil {
			return err
		}
	} else if err := out.Low(); err != nil {
		return err
	}
	outputChangesTotal.WithLabelValues(strconv.FormatUint(uint64(pin), 10)).Inc()
	return nil
}

// Status returns the status of all monitored pins, sorted by pin.
func (s *Service) Status() []PinStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pins := lo.Keys(s.status)
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return lo.Map(pins, func(pin uint32, _ int) PinStatus {
		st := *s.status[pin]
		st.Events = append([]string(nil), st.Events...)
		if in, found := s.inputs[pin]; found {
			if high, err := in.IsHigh(); err == nil {
				st.High = high
			}
		} else if out, found := s.outputs[pin]; found {
			st.High = out.Level()
		}
		return st
	})
}
