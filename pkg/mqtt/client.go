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
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	publishTimeout    = time.Millisecond * 200
	disconnectQuiesce = 250
)

// Sender delivers a payload to a topic.
type Sender interface {
	Send(topic string, payload []byte, retain bool) error
	Close()
}

type pahoSender struct {
	log    zerolog.Logger
	client mqttapi.Client
}

// Connect to the MQTT broker at given address (host:port).
func Connect(log zerolog.Logger, brokerAddress, clientID string) (Sender, error) {
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + brokerAddress).
		SetClientID(clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqttapi.Client) {
		log.Debug().Msg("Connected to MQTT")
	})
	opts.SetConnectionLostHandler(func(c mqttapi.Client, err error) {
		log.Warn().Err(err).Msg("Lost connection to MQTT")
	})

	log.Debug().Str("broker", brokerAddress).Msg("Connecting to MQTT...")
	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect to mqtt")
	}
	return &pahoSender{log: log, client: client}, nil
}

// Send publishes the payload with QoS 0.
func (s *pahoSender) Send(topic string, payload []byte, retain bool) error {
	token := s.client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("failed to deliver MQTT message to '%s' in time", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *pahoSender) Close() {
	s.client.Disconnect(disconnectQuiesce)
}
