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

import "github.com/pkg/errors"

var (
	// AlreadyInUseError is returned by UsePin when the pin is currently held.
	AlreadyInUseError = errors.New("pin already in use")
	IsAlreadyInUse    = isErrorFunc(AlreadyInUseError)

	// NotInUseError is returned by ReleasePin when the pin is not held.
	NotInUseError = errors.New("pin not in use")
	IsNotInUse    = isErrorFunc(NotInUseError)

	// UnsupportedAltFunctionError is returned when the hardware has no
	// alternate function at the requested selector for a pin.
	UnsupportedAltFunctionError = errors.New("unsupported alternate function")
	IsUnsupportedAltFunction    = isErrorFunc(UnsupportedAltFunctionError)

	// PinConsumedError is returned when a handle is used after it was
	// transitioned into another role or after its pin was released.
	PinConsumedError = errors.New("pin handle consumed")
	IsPinConsumed    = isErrorFunc(PinConsumedError)

	InvalidPinError   = errors.New("invalid pin")
	IsInvalidPin      = isErrorFunc(InvalidPinError)
	InvalidEventError = errors.New("invalid event")
	IsInvalidEvent    = isErrorFunc(InvalidEventError)
	NilHandlerError   = errors.New("nil handler")
	IsNilHandler      = isErrorFunc(NilHandlerError)

	maskAny = errors.WithStack
)

func isErrorFunc(typeOfError error) func(err error) bool {
	return func(err error) bool {
		return err == typeOfError || errors.Cause(err) == typeOfError
	}
}
