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
	"github.com/binkynet/gpiohal/pkg/metrics"
)

const (
	subSystem = "monitor"
)

var (
	// Total number of events observed per pin & event
	eventsObservedTotal = metrics.MustRegisterCounterVec(subSystem,
		"events_observed_total",
		"Total number of events observed per pin & event",
		"pin", "event")
	// Total number of output level changes per pin
	outputChangesTotal = metrics.MustRegisterCounterVec(subSystem,
		"output_changes_total",
		"Total number of output level changes per pin",
		"pin")
)
