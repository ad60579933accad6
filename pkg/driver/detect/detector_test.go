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
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/gpio"
)

type recordingSink struct {
	mutex  sync.Mutex
	events []gpio.Event
}

func (s *recordingSink) Dispatch(id uint32, event gpio.Event) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
	return 1
}

func (s *recordingSink) count(event gpio.Event) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type levels struct {
	mutex sync.Mutex
	value map[uint32]bool
}

func (l *levels) read(id uint32) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.value[id], nil
}

func (l *levels) set(id uint32, v bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.value[id] = v
}

func TestSampleEdges(t *testing.T) {
	l := &levels{value: map[uint32]bool{}}
	d := New(Config{}, zerolog.Nop(), l.read)
	sink := &recordingSink{}
	for _, e := range []gpio.Event{gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges, gpio.AsyncRisingEdge} {
		if err := d.Arm(4, e, sink); err != nil {
			t.Fatalf("Arm failed: %v", err)
		}
	}
	d.Sample(4, false) // no change
	d.Sample(4, true)  // rising
	d.Sample(4, true)  // no change
	d.Sample(4, false) // falling

	if n := sink.count(gpio.RisingEdge); n != 1 {
		t.Errorf("expected 1 rising edge, got %d", n)
	}
	if n := sink.count(gpio.AsyncRisingEdge); n != 1 {
		t.Errorf("expected 1 async rising edge, got %d", n)
	}
	if n := sink.count(gpio.FallingEdge); n != 1 {
		t.Errorf("expected 1 falling edge, got %d", n)
	}
	if n := sink.count(gpio.BothEdges); n != 2 {
		t.Errorf("expected 2 both edges, got %d", n)
	}
}

func TestSampleLevels(t *testing.T) {
	l := &levels{value: map[uint32]bool{}}
	d := New(Config{}, zerolog.Nop(), l.read)
	sink := &recordingSink{}
	if err := d.Arm(1, gpio.High, sink); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if err := d.Arm(1, gpio.Low, sink); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	d.Sample(1, true)
	d.Sample(1, true)
	d.Sample(1, false)
	if n := sink.count(gpio.High); n != 2 {
		t.Errorf("expected 2 high events, got %d", n)
	}
	if n := sink.count(gpio.Low); n != 1 {
		t.Errorf("expected 1 low event, got %d", n)
	}
}

func TestDisarm(t *testing.T) {
	l := &levels{value: map[uint32]bool{}}
	d := New(Config{}, zerolog.Nop(), l.read)
	sink := &recordingSink{}
	if err := d.Arm(2, gpio.BothEdges, sink); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if !d.IsArmed(2, gpio.BothEdges) {
		t.Fatal("expected armed")
	}
	if err := d.Disarm(2, gpio.BothEdges); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}
	if d.Sample(2, true) != 0 {
		t.Fatal("disarmed event dispatched")
	}
}

func TestPolling(t *testing.T) {
	l := &levels{value: map[uint32]bool{}}
	d := New(Config{Interval: time.Millisecond}, zerolog.Nop(), l.read)
	defer d.Close()
	sink := &recordingSink{}
	if err := d.Arm(3, gpio.RisingEdge, sink); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	l.set(3, true)
	deadline := time.Now().Add(time.Second)
	for sink.count(gpio.RisingEdge) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for polled rising edge")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEdgesReport(t *testing.T) {
	e := NewEdges()
	sink := &recordingSink{}
	if !e.Add(7, gpio.AsyncFallingEdge, sink) {
		t.Fatal("expected first edge event")
	}
	if e.Add(7, gpio.RisingEdge, sink) {
		t.Fatal("expected second edge event")
	}
	if n := e.Report(7, false); n != 1 {
		t.Errorf("expected 1 dispatch on falling transition, got %d", n)
	}
	if n := e.Report(7, true); n != 1 {
		t.Errorf("expected 1 dispatch on rising transition, got %d", n)
	}
	if e.Remove(7, gpio.RisingEdge) {
		t.Fatal("pin still has an edge event")
	}
	if !e.Remove(7, gpio.AsyncFallingEdge) {
		t.Fatal("expected last edge event removed")
	}
	if e.Has(7) || e.Report(7, false) != 0 {
		t.Fatal("expected no armed edges")
	}
}
