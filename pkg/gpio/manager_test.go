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
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Manager, *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	m, err := NewManager(Config{Name: "test"}, Dependencies{Log: zerolog.Nop(), Driver: d})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, d
}

func mustInput(t *testing.T, m *Manager, id uint32) *InputPin {
	t.Helper()
	p, err := m.UsePin(id)
	if err != nil {
		t.Fatalf("UsePin(%d) failed: %v", id, err)
	}
	in, err := p.IntoInput()
	if err != nil {
		t.Fatalf("IntoInput failed: %v", err)
	}
	return in
}

func counter(n *int32) Handler {
	return HandlerFunc(func() { atomic.AddInt32(n, 1) })
}

func TestNewManagerRequiresDriver(t *testing.T) {
	if _, err := NewManager(Config{}, Dependencies{Log: zerolog.Nop()}); err == nil {
		t.Fatal("expected error without driver")
	}
}

func TestUsePinTwiceFails(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.UsePin(5); err != nil {
		t.Fatalf("first UsePin failed: %v", err)
	}
	_, err := m.UsePin(5)
	if !IsAlreadyInUse(err) {
		t.Fatalf("expected AlreadyInUse, got %v", err)
	}
	if !m.IsInUse(5) {
		t.Error("pin 5 must be in use")
	}
}

func TestUsePinConcurrent(t *testing.T) {
	m, _ := newTestManager(t)
	var successes, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UsePin(9)
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case IsAlreadyInUse(err):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != 31 {
		t.Fatalf("expected 1 success & 31 conflicts, got %d & %d", successes, conflicts)
	}
}

func TestUsePinOutOfRange(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.UsePin(32); !IsInvalidPin(err) {
		t.Fatalf("expected InvalidPin, got %v", err)
	}
}

func TestReleaseSymmetry(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.ReleasePin(4); !IsNotInUse(err) {
		t.Fatalf("expected NotInUse, got %v", err)
	}
	if _, err := m.UsePin(4); err != nil {
		t.Fatalf("UsePin failed: %v", err)
	}
	if err := m.ReleasePin(4); err != nil {
		t.Fatalf("ReleasePin failed: %v", err)
	}
	if err := m.ReleasePin(4); !IsNotInUse(err) {
		t.Fatalf("expected NotInUse on second release, got %v", err)
	}
	if _, err := m.UsePin(4); err != nil {
		t.Fatalf("UsePin after release failed: %v", err)
	}
}

func TestInUseSorted(t *testing.T) {
	m, _ := newTestManager(t)
	for _, id := range []uint32{12, 3, 7} {
		if _, err := m.UsePin(id); err != nil {
			t.Fatalf("UsePin(%d) failed: %v", id, err)
		}
	}
	ids := m.InUse()
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 7 || ids[2] != 12 {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestAlwaysHandlerFiresEveryTime(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 3)
	var n int32
	if err := m.RegisterEventHandlerAlways(pin, RisingEdge, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	d.fire(3, RisingEdge)
	d.fire(3, RisingEdge)
	if n != 2 {
		t.Fatalf("expected 2 invocations, got %d", n)
	}
	if c := m.HandlerCount(3, RisingEdge); c != 1 {
		t.Fatalf("expected 1 registration left, got %d", c)
	}
}

func TestOnetimeHandlerFiresOnce(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 3)
	var n int32
	if err := m.RegisterEventHandlerOnetime(pin, RisingEdge, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if invoked := d.fire(3, RisingEdge); invoked != 1 {
		t.Fatalf("expected 1 handler on first dispatch, got %d", invoked)
	}
	if invoked := d.fire(3, RisingEdge); invoked != 0 {
		t.Fatalf("expected no handler on second dispatch, got %d", invoked)
	}
	if n != 1 {
		t.Fatalf("expected 1 invocation, got %d", n)
	}
}

func TestOnetimeHandlerConcurrentDispatch(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 3)
	var n int32
	if err := m.RegisterEventHandlerOnetime(pin, BothEdges, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Dispatch(3, BothEdges)
		}()
	}
	wg.Wait()
	if n != 1 {
		t.Fatalf("expected exactly 1 invocation, got %d", n)
	}
}

func TestUnregisterRemovesAllModes(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 7)
	var always, once int32
	if err := m.RegisterEventHandlerAlways(pin, FallingEdge, counter(&always)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterEventHandlerOnetime(pin, FallingEdge, counter(&once)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.UnregisterEventHandler(pin, FallingEdge); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if d.isArmed(7, FallingEdge) {
		t.Error("event must be disarmed after unregister")
	}
	if invoked := m.Dispatch(7, FallingEdge); invoked != 0 {
		t.Fatalf("expected no handlers, got %d", invoked)
	}
	if always != 0 || once != 0 {
		t.Fatalf("handlers fired after unregister: always=%d once=%d", always, once)
	}
}

func TestUnregisterWithoutHandlersIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 7)
	if err := m.UnregisterEventHandler(pin, High); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
}

func TestKeyIndependence(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 2)
	var rising, async, both int32
	if err := m.RegisterEventHandlerAlways(pin, RisingEdge, counter(&rising)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, AsyncRisingEdge, counter(&async)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, BothEdges, counter(&both)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	m.Dispatch(2, RisingEdge)
	if rising != 1 || async != 0 || both != 0 {
		t.Fatalf("unexpected invocations rising=%d async=%d both=%d", rising, async, both)
	}
	// Same event on another pin
	m.Dispatch(3, RisingEdge)
	if rising != 1 {
		t.Fatalf("handler of pin 2 fired for pin 3")
	}
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 1)
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		h := HandlerFunc(func() { order = append(order, i) })
		var err error
		if i%2 == 0 {
			err = m.RegisterEventHandlerAlways(pin, High, h)
		} else {
			err = m.RegisterEventHandlerOnetime(pin, High, h)
		}
		if err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	m.Dispatch(1, High)
	m.Dispatch(1, High)
	expected := []int{0, 1, 2, 3, 0, 2}
	if len(order) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, order)
		}
	}
}

func TestRegisterArmsBeforeReturn(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 6)
	if d.isArmed(6, AsyncFallingEdge) {
		t.Fatal("event must not be armed before registration")
	}
	var n int32
	if err := m.RegisterEventHandlerAlways(pin, AsyncFallingEdge, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !d.isArmed(6, AsyncFallingEdge) {
		t.Fatal("event must be armed when registration returns")
	}
	if err := m.RegisterEventHandlerOnetime(pin, AsyncFallingEdge, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if d.armCalls != 1 {
		t.Fatalf("expected a single Arm call per key, got %d", d.armCalls)
	}
}

func TestRegisterArmFailureRollsBack(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 6)
	d.armErr = errors.New("no interrupt line")
	var n int32
	if err := m.RegisterEventHandlerAlways(pin, Low, counter(&n)); err == nil {
		t.Fatal("expected arm failure")
	}
	if c := m.HandlerCount(6, Low); c != 0 {
		t.Fatalf("expected registration to be rolled back, got %d", c)
	}
}

func TestRegisterValidation(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 6)
	if err := m.RegisterEventHandlerAlways(nil, High, HandlerFunc(func() {})); !IsInvalidPin(err) {
		t.Errorf("expected InvalidPin, got %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, High, nil); !IsNilHandler(err) {
		t.Errorf("expected NilHandler, got %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, High, HandlerFunc(nil)); !IsNilHandler(err) {
		t.Errorf("expected NilHandler for nil func, got %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, Event(42), HandlerFunc(func() {})); !IsInvalidEvent(err) {
		t.Errorf("expected InvalidEvent, got %v", err)
	}
}

func TestRegisterForeignPin(t *testing.T) {
	m1, _ := newTestManager(t)
	m2, _ := newTestManager(t)
	pin := mustInput(t, m1, 6)
	if err := m2.RegisterEventHandlerAlways(pin, High, HandlerFunc(func() {})); !IsInvalidPin(err) {
		t.Fatalf("expected InvalidPin, got %v", err)
	}
}

func TestReleaseClearsHandlers(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 8)
	var n int32
	if err := m.RegisterEventHandlerAlways(pin, RisingEdge, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.ReleasePin(8); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if d.isArmed(8, RisingEdge) {
		t.Error("release must disarm events of the pin")
	}
	if d.resetCalls != 1 {
		t.Errorf("expected 1 Reset call, got %d", d.resetCalls)
	}

	// Newly acquired pin must not inherit the old handler.
	pin2 := mustInput(t, m, 8)
	if invoked := m.Dispatch(8, RisingEdge); invoked != 0 {
		t.Fatalf("expected no handlers after release, got %d", invoked)
	}
	if n != 0 {
		t.Fatalf("stale handler fired")
	}

	// The handle of the previous acquisition is unusable.
	if err := m.RegisterEventHandlerAlways(pin, RisingEdge, counter(&n)); !IsPinConsumed(err) {
		t.Fatalf("expected PinConsumed for stale handle, got %v", err)
	}
	if err := m.UnregisterEventHandler(pin, RisingEdge); !IsPinConsumed(err) {
		t.Fatalf("expected PinConsumed for stale handle, got %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin2, RisingEdge, counter(&n)); err != nil {
		t.Fatalf("register on new handle failed: %v", err)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 1)
	var n int32
	if err := m.RegisterEventHandlerAlways(pin, Low, HandlerFunc(func() { panic("boom") })); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, Low, counter(&n)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if invoked := m.Dispatch(1, Low); invoked != 2 {
		t.Fatalf("expected 2 invocations, got %d", invoked)
	}
	if n != 1 {
		t.Fatalf("handler after panicking handler must still run")
	}
}

func TestHandlerMayUnregisterDuringDispatch(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 1)
	var n int32
	h := HandlerFunc(func() {
		atomic.AddInt32(&n, 1)
		if err := m.UnregisterEventHandler(pin, BothEdges); err != nil {
			t.Errorf("unregister from handler failed: %v", err)
		}
	})
	if err := m.RegisterEventHandlerAlways(pin, BothEdges, h); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	m.Dispatch(1, BothEdges)
	m.Dispatch(1, BothEdges)
	if n != 1 {
		t.Fatalf("expected 1 invocation, got %d", n)
	}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	m, _ := newTestManager(t)
	pin := mustInput(t, m, 11)
	if err := m.RegisterEventHandlerAlways(pin, AsyncBothEdges, HandlerFunc(func() {})); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	received := make(chan Notification, 4)
	cancel := m.Subscribe(func(n Notification) { received <- n })
	defer cancel()

	m.Dispatch(11, AsyncBothEdges)
	select {
	case n := <-received:
		if n.Pin != 11 || n.Event != AsyncBothEdges || n.Handlers != 1 {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestUnsubscribeKeepsOtherSubscribers(t *testing.T) {
	m, _ := newTestManager(t)
	first := make(chan Notification, 4)
	second := make(chan Notification, 4)
	cancelFirst := m.Subscribe(func(n Notification) { first <- n })
	cancelSecond := m.Subscribe(func(n Notification) { second <- n })
	defer cancelSecond()

	cancelFirst()
	cancelFirst()
	m.Dispatch(12, RisingEdge)
	select {
	case n := <-second:
		if n.Pin != 12 || n.Event != RisingEdge {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("second subscriber received nothing")
	}
	select {
	case n := <-first:
		t.Fatalf("unsubscribed callback received %+v", n)
	case <-time.After(time.Millisecond * 50):
	}
}

func TestNotificationsKeepDispatchOrder(t *testing.T) {
	m, _ := newTestManager(t)
	received := make(chan Notification, 64)
	cancel := m.Subscribe(func(n Notification) { received <- n })
	defer cancel()

	for id := uint32(0); id < 32; id++ {
		m.Dispatch(id, FallingEdge)
	}
	for id := uint32(0); id < 32; id++ {
		select {
		case n := <-received:
			if n.Pin != id {
				t.Fatalf("expected notification for pin %d, got %d", id, n.Pin)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for notification %d", id)
		}
	}
}

func TestCloseReleasesAllPins(t *testing.T) {
	m, d := newTestManager(t)
	pin := mustInput(t, m, 1)
	if _, err := m.UsePin(2); err != nil {
		t.Fatalf("UsePin failed: %v", err)
	}
	if err := m.RegisterEventHandlerAlways(pin, High, HandlerFunc(func() {})); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(m.InUse()) != 0 {
		t.Fatalf("expected no pins in use, got %v", m.InUse())
	}
	if !d.closed {
		t.Error("driver must be closed")
	}
	if pin.Valid() {
		t.Error("handles must be invalid after Close")
	}
}
