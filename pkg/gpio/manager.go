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

// Package gpio contains the hardware independent part of the GPIO
// peripheral: capability typed pin handles and the Manager that hands
// them out and routes detected events to registered handlers.
package gpio

import (
	"context"
	"sort"
	"sync"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Config of a Manager.
type Config struct {
	// Name of the peripheral, used in logs.
	Name string
}

// Dependencies of a Manager.
type Dependencies struct {
	Log    zerolog.Logger
	Driver Driver
}

// Notification describes a single dispatched event.
// It is delivered to subscribers after the handlers have run.
type Notification struct {
	Pin      uint32
	Event    Event
	Handlers int
	Time     time.Time
}

// Manager owns the pins of a GPIO peripheral and the event handler
// registry. Create exactly one per peripheral and share it by reference.
type Manager struct {
	Config
	log    zerolog.Logger
	driver Driver

	// mutex guards inUse & armed. It is only taken by call-context
	// operations; Dispatch never takes it.
	mutex sync.Mutex
	inUse map[uint32]*pinState
	armed map[eventKey]struct{}

	registry *registry

	// subMutex guards subscribers. It is never held while calling out.
	subMutex    sync.Mutex
	subscribers []*subscriber
}

// Capacity of the notification queue of a single subscriber.
const subscriberQueueSize = 256

// subscriber receives notifications in dispatch order on its own goroutine.
type subscriber struct {
	cb    func(Notification)
	queue chan Notification
	done  chan struct{}
}

// NewManager creates a Manager on top of the given driver.
func NewManager(cfg Config, deps Dependencies) (*Manager, error) {
	if deps.Driver == nil {
		return nil, errors.New("driver is required")
	}
	if cfg.Name == "" {
		cfg.Name = "gpio"
	}
	return &Manager{
		Config:        cfg,
		log:           deps.Log.With().Str("component", "gpio-manager").Str("peripheral", cfg.Name).Logger(),
		driver:        deps.Driver,
		inUse:         make(map[uint32]*pinState),
		armed:         make(map[eventKey]struct{}),
		registry:      newRegistry(),
	}, nil
}

// UsePin acquires the pin with given id for exclusive use.
// Returns AlreadyInUseError when the pin is held already.
func (m *Manager) UsePin(id uint32) (*Pin, error) {
	if n := m.driver.PinCount(); n > 0 && uint64(id) >= uint64(n) {
		return nil, errors.Wrapf(InvalidPinError, "pin %d out of range [0..%d]", id, n-1)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, found := m.inUse[id]; found {
		pinAcquireConflictsTotal.Inc()
		return nil, errors.Wrapf(AlreadyInUseError, "pin %d", id)
	}
	s := &pinState{
		id:     id,
		owner:  m,
		driver: m.driver,
		role:   RoleGeneric,
	}
	m.inUse[id] = s
	pinsInUseGauge.Inc()
	m.log.Debug().Uint32("pin", id).Msg("Pin acquired")
	return &Pin{handle: handle{state: s, generation: s.generation.Load(), role: RoleGeneric}}, nil
}

// ReleasePin returns the pin with given id to the free pool.
// Returns NotInUseError when the pin is not held.
// All handlers registered for the pin are removed, its events are
// disarmed and every outstanding handle of the pin becomes invalid.
// The pin is released even when the driver fails to disarm or reset it;
// such failures are returned.
func (m *Manager) ReleasePin(id uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s, found := m.inUse[id]
	if !found {
		return errors.Wrapf(NotInUseError, "pin %d", id)
	}
	delete(m.inUse, id)
	pinsInUseGauge.Dec()
	s.invalidate()

	for event, n := range m.registry.removePin(id) {
		handlersRegisteredGauge.WithLabelValues(event.String()).Sub(float64(n))
	}
	var ae aerr.AggregateError
	for key := range m.armed {
		if key.pin == id {
			if err := m.driver.Disarm(key.pin, key.event); err != nil {
				ae.Add(errors.Wrapf(err, "Disarm(%s) failed for pin %d", key.event, id))
			}
			delete(m.armed, key)
		}
	}
	if err := m.driver.Reset(id); err != nil {
		ae.Add(errors.Wrapf(err, "Reset failed for pin %d", id))
	}
	m.log.Debug().Uint32("pin", id).Msg("Pin released")
	return ae.AsError()
}

// RegisterEventHandlerAlways registers a handler that is invoked every
// time the given event is detected on the pin, until it is unregistered.
// Detection is armed before this function returns.
func (m *Manager) RegisterEventHandlerAlways(pin *InputPin, event Event, h Handler) error {
	return m.register(pin, event, h, ModeAlways)
}

// RegisterEventHandlerOnetime registers a handler that is invoked only
// for the next occurrence of the given event on the pin.
// Detection is armed before this function returns.
func (m *Manager) RegisterEventHandlerOnetime(pin *InputPin, event Event, h Handler) error {
	return m.register(pin, event, h, ModeOnce)
}

func (m *Manager) register(pin *InputPin, event Event, h Handler, mode Mode) error {
	if pin == nil {
		return errors.Wrap(InvalidPinError, "nil input pin")
	}
	if h == nil {
		return maskAny(NilHandlerError)
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return maskAny(NilHandlerError)
	}
	if !event.IsValid() {
		return errors.Wrapf(InvalidEventError, "event %d", event)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.checkOwned(pin.handle); err != nil {
		return err
	}
	key := eventKey{pin: pin.ID(), event: event}
	m.registry.add(key, h, mode)
	if _, armed := m.armed[key]; !armed {
		if err := m.driver.Arm(key.pin, event, m); err != nil {
			// The key was not armed, so this registration is the only one.
			m.registry.remove(key)
			return errors.Wrapf(err, "Arm(%s) failed for pin %d", event, key.pin)
		}
		m.armed[key] = struct{}{}
	}
	handlersRegisteredGauge.WithLabelValues(event.String()).Inc()
	m.log.Debug().
		Uint32("pin", key.pin).
		Str("event", event.String()).
		Str("mode", mode.String()).
		Msg("Event handler registered")
	return nil
}

// UnregisterEventHandler removes all handlers (of any mode) registered
// for the given event on the pin. It is a no-op when there are none.
// A dispatch that is already running is not interrupted.
func (m *Manager) UnregisterEventHandler(pin Handle, event Event) error {
	h, ok := handleOf(pin)
	if !ok {
		return errors.Wrap(InvalidPinError, "unknown pin handle")
	}
	if !event.IsValid() {
		return errors.Wrapf(InvalidEventError, "event %d", event)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.checkOwned(h); err != nil {
		return err
	}
	key := eventKey{pin: h.ID(), event: event}
	n := m.registry.remove(key)
	handlersRegisteredGauge.WithLabelValues(event.String()).Sub(float64(n))
	if _, armed := m.armed[key]; armed {
		delete(m.armed, key)
		if err := m.driver.Disarm(key.pin, event); err != nil {
			return errors.Wrapf(err, "Disarm(%s) failed for pin %d", event, key.pin)
		}
	}
	m.log.Debug().
		Uint32("pin", key.pin).
		Str("event", event.String()).
		Int("removed", n).
		Msg("Event handlers unregistered")
	return nil
}

// checkOwned verifies that the given handle belongs to this manager
// and is the current handle of an in-use pin.
// Requires m.mutex to be held.
func (m *Manager) checkOwned(h handle) error {
	if h.state == nil || h.state.owner != m {
		return errors.Wrap(InvalidPinError, "pin handle belongs to another manager")
	}
	if current, found := m.inUse[h.ID()]; !found || current != h.state || !h.Valid() {
		return errors.Wrapf(PinConsumedError, "pin %d (%s)", h.ID(), h.role)
	}
	return nil
}

// Dispatch delivers an event detected on the pin with given id to all
// handlers registered for exactly that (pin, event) pair, in registration
// order. One-time handlers are removed before they are invoked, so they
// fire at most once even when dispatches overlap.
// Returns the number of invoked handlers.
// Dispatch is safe to call from any goroutine and never blocks on
// call-context operations.
func (m *Manager) Dispatch(id uint32, event Event) int {
	regs := m.registry.take(eventKey{pin: id, event: event})
	label := event.String()
	dispatchTotal.WithLabelValues(label).Inc()
	if len(regs) == 0 {
		dispatchUnhandledTotal.WithLabelValues(label).Inc()
	}
	once := 0
	for _, reg := range regs {
		if reg.mode == ModeOnce {
			once++
		}
		m.invoke(id, event, reg.handler)
	}
	if once > 0 {
		handlersRegisteredGauge.WithLabelValues(label).Sub(float64(once))
	}
	m.subMutex.Lock()
	subs := m.subscribers
	m.subMutex.Unlock()
	if len(subs) > 0 {
		n := Notification{
			Pin:      id,
			Event:    event,
			Handlers: len(regs),
			Time:     time.Now(),
		}
		for _, sub := range subs {
			select {
			case sub.queue <- n:
			case <-sub.done:
			default:
				notificationsDroppedTotal.Inc()
			}
		}
	}
	return len(regs)
}

// invoke a single handler, containing any panic it raises.
func (m *Manager) invoke(id uint32, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanicsTotal.WithLabelValues(event.String()).Inc()
			m.log.Error().
				Uint32("pin", id).
				Str("event", event.String()).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h.HandleEvent()
}

// Subscribe registers a callback that receives a Notification for every
// dispatched event. Notifications are delivered in dispatch order on a
// goroutine owned by the subscription; when the callback falls behind,
// new notifications are dropped. Call the returned function to unsubscribe.
func (m *Manager) Subscribe(cb func(Notification)) context.CancelFunc {
	sub := &subscriber{
		cb:    cb,
		queue: make(chan Notification, subscriberQueueSize),
		done:  make(chan struct{}),
	}
	m.subMutex.Lock()
	// Dispatch may still iterate the previous slice; never modify it in place.
	subs := make([]*subscriber, 0, len(m.subscribers)+1)
	m.subscribers = append(append(subs, m.subscribers...), sub)
	m.subMutex.Unlock()
	go m.notify(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMutex.Lock()
			m.subscribers = lo.Without(m.subscribers, sub)
			m.subMutex.Unlock()
			close(sub.done)
		})
	}
}

// notify delivers the queued notifications of a subscriber until it
// unsubscribes.
func (m *Manager) notify(sub *subscriber) {
	for {
		select {
		case n := <-sub.queue:
			m.deliver(sub, n)
		case <-sub.done:
			return
		}
	}
}

// deliver a single notification, containing any panic of the callback.
func (m *Manager) deliver(sub *subscriber, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Uint32("pin", n.Pin).
				Str("event", n.Event.String()).
				Interface("panic", r).
				Msg("Notification subscriber panicked")
		}
	}()
	sub.cb(n)
}

// IsInUse returns true when the pin with given id is held.
func (m *Manager) IsInUse(id uint32) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, found := m.inUse[id]
	return found
}

// InUse returns the ids of all held pins, sorted ascending.
func (m *Manager) InUse() []uint32 {
	m.mutex.Lock()
	ids := lo.Keys(m.inUse)
	m.mutex.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HandlerCount returns the number of handlers registered for the given
// event on the pin with given id.
func (m *Manager) HandlerCount(id uint32, event Event) int {
	return m.registry.count(eventKey{pin: id, event: event})
}

// Close releases all held pins and closes the driver.
func (m *Manager) Close(ctx context.Context) error {
	var ae aerr.AggregateError
	for _, id := range m.InUse() {
		if ctx.Err() != nil {
			ae.Add(ctx.Err())
			break
		}
		if err := m.ReleasePin(id); err != nil && !IsNotInUse(err) {
			ae.Add(err)
		}
	}
	if err := m.driver.Close(); err != nil {
		ae.Add(errors.Wrap(err, "driver Close failed"))
	}
	return ae.AsError()
}
