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

// Package logging provides outputs for the zerolog logger.
package logging

import (
	"io"
	"sync"
)

// MultiWriter is a log output that duplicates its writes to all
// outputs added to it.
type MultiWriter struct {
	mutex   sync.RWMutex
	writers []io.Writer
}

// NewMultiWriter creates a new output for logs, more outputs can be
// added on the fly.
func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{
		writers: writers,
	}
}

// Add an output.
func (l *MultiWriter) Add(w io.Writer) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.writers = append(l.writers, w)
}

// Write p to all outputs. The error of the last failing output is returned.
func (l *MultiWriter) Write(p []byte) (n int, err error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	for _, w := range l.writers {
		if _, werr := w.Write(p); werr != nil {
			err = werr
		}
	}
	return len(p), err
}
