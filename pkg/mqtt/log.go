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

package mqtt

import (
	"bytes"
	"encoding/json"
	"io"
)

// logWriter publishes zerolog JSON lines to the log topic of a publisher.
type logWriter struct {
	p *Publisher
}

// LogWriter returns a log output that publishes every written line to
// LogTopic through the message queue of p.
// Lines logged by the publisher itself are skipped, so failing publishes
// do not produce more messages to publish.
func (p *Publisher) LogWriter() io.Writer {
	return logWriter{p: p}
}

func (w logWriter) Write(line []byte) (int, error) {
	payload := bytes.TrimSpace(line)
	if len(payload) == 0 {
		return len(line), nil
	}
	var record struct {
		Component string `json:"component"`
	}
	if err := json.Unmarshal(payload, &record); err == nil && record.Component == component {
		return len(line), nil
	}
	// zerolog reuses its buffer after Write returns
	w.p.enqueue(message{
		topic:   w.p.LogTopic(),
		payload: append([]byte(nil), payload...),
	})
	return len(line), nil
}
