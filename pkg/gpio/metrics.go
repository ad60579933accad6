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
	"github.com/binkynet/gpiohal/pkg/metrics"
)

const (
	subSystem = "gpio"
)

var (
	// Number of pins currently in use
	pinsInUseGauge = metrics.MustRegisterGauge(subSystem,
		"pins_in_use",
		"Number of pins currently in use")
	// Total number of UsePin calls rejected because the pin was in use
	pinAcquireConflictsTotal = metrics.MustRegisterCounter(subSystem,
		"pin_acquire_conflicts_total",
		"Total number of UsePin calls rejected because the pin was in use")
	// Total number of role transitions per target role
	pinTransitionsTotal = metrics.MustRegisterCounterVec(subSystem,
		"pin_transitions_total",
		"Total number of role transitions per target role",
		"role")
	// Number of registered handlers per event
	handlersRegisteredGauge = metrics.MustRegisterGaugeVec(subSystem,
		"handlers_registered",
		"Number of registered handlers per event",
		"event")
	// Total number of dispatched events per event
	dispatchTotal = metrics.MustRegisterCounterVec(subSystem,
		"dispatch_total",
		"Total number of dispatched events per event",
		"event")
	// Total number of dispatched events that found no handler
	dispatchUnhandledTotal = metrics.MustRegisterCounterVec(subSystem,
		"dispatch_unhandled_total",
		"Total number of dispatched events that found no handler",
		"event")
	// Total number of handler invocations that panicked
	handlerPanicsTotal = metrics.MustRegisterCounterVec(subSystem,
		"handler_panics_total",
		"Total number of handler invocations that panicked",
		"event")
	// Total number of notifications dropped because a subscriber fell behind
	notificationsDroppedTotal = metrics.MustRegisterCounter(subSystem,
		"notifications_dropped_total",
		"Total number of notifications dropped because a subscriber fell behind")
)
