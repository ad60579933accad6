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

// Pull is the pull-up/down configuration of a pin.
type Pull uint8

const (
	// PullNone disables the bias resistors.
	PullNone Pull = iota
	// PullUp enables the pull-up resistor.
	PullUp
	// PullDown enables the pull-down resistor.
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "invalid"
	}
}

// Role is the capability a pin is currently configured for.
type Role uint8

const (
	RoleGeneric Role = iota
	RoleInput
	RoleOutput
	RoleAltFunc
)

func (r Role) String() string {
	switch r {
	case RoleGeneric:
		return "generic"
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleAltFunc:
		return "altfunc"
	default:
		return "invalid"
	}
}
