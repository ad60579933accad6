// Copyright 2021 Ewout Prangsma
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

package util

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxFailureDelay = time.Second * 5
)

// UntilCanceled calls the given callback every interval until the given
// context is canceled. When the callback fails, the delay grows by 50%
// per failure (up to 5s) and is reset to interval on the next success.
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, interval time.Duration, cb func() error) {
	delay := interval
	for {
		if ctx.Err() != nil {
			return
		}
		if err := cb(); err != nil {
			log.Warn().Err(err).Msgf("%s failed", description)
			delay = time.Duration(float64(delay) * 1.5)
			if delay > maxFailureDelay {
				delay = maxFailureDelay
			}
		} else {
			delay = interval
		}
		select {
		case <-ctx.Done():
			log.Debug().Msgf("Stopping %s; context canceled", description)
			return
		case <-time.After(delay):
			// Continue
		}
	}
}
