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

// Handler is a callback invoked when a registered event occurs.
//
// HandleEvent is called from the driver's event delivery context, which
// may be an interrupt-like goroutine shared by all pins. Implementations
// must not block, must be safe to call from any goroutine and must deal
// with their own failures.
type Handler interface {
	HandleEvent()
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func()

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent() {
	f()
}

// Mode determines how long a registration lives.
type Mode uint8

const (
	// ModeAlways registrations stay until they are unregistered.
	ModeAlways Mode = iota
	// ModeOnce registrations are removed after their first invocation.
	ModeOnce
)

func (m Mode) String() string {
	if m == ModeOnce {
		return "once"
	}
	return "always"
}
