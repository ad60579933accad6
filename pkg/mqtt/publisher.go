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

// Package mqtt publishes GPIO events to an MQTT broker.
//
// Every dispatched event is published as JSON to
// `<prefix>pin<id>/event`, log lines go to `<prefix>log`. Messages are queued and sent from Run,
// so publishing never blocks event dispatch; when the queue is full
// the oldest message is dropped.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/binkynet/gpiohal/pkg/gpio"
	"github.com/binkynet/gpiohal/pkg/metrics"
)

const (
	defaultQueueSize = 512
	subsystem        = "mqtt"
	component        = "mqtt"
)

var (
	publishedTotal = metrics.MustRegisterCounter(subsystem, "published_total", "Number of messages published")
	droppedTotal   = metrics.MustRegisterCounter(subsystem, "dropped_total", "Number of messages dropped because the queue was full")
	failedTotal    = metrics.MustRegisterCounter(subsystem, "failed_total", "Number of messages that failed to publish")
)

// Config of the publisher.
type Config struct {
	// Address (host:port) of the MQTT broker
	BrokerAddress string
	// MQTT client identifier
	ClientID string
	// Prefix of all topics
	TopicPrefix string
	// Capacity of the message queue
	QueueSize int
}

// Dependencies of the publisher.
type Dependencies struct {
	Log zerolog.Logger
	// Sender to use. When nil, Run connects to Config.BrokerAddress.
	Sender Sender
}

// Publisher forwards event notifications to MQTT.
type Publisher struct {
	Config
	Dependencies

	queue chan message
}

type message struct {
	topic   string
	payload []byte
	retain  bool
}

// EventMessage is the payload of an event topic.
type EventMessage struct {
	Pin      uint32    `json:"pin"`
	Event    string    `json:"event"`
	Handlers int       `json:"handlers"`
	Time     time.Time `json:"time"`
}

// New creates a publisher.
func New(cfg Config, deps Dependencies) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.TopicPrefix != "" {
		cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/") + "/"
	}
	deps.Log = deps.Log.With().Str("component", component).Logger()
	return &Publisher{
		Config:       cfg,
		Dependencies: deps,
		queue:        make(chan message, cfg.QueueSize),
	}
}

// EventTopic returns the topic events of the given pin are published to.
func (p *Publisher) EventTopic(pin uint32) string {
	return fmt.Sprintf("%spin%d/event", p.TopicPrefix, pin)
}

// LogTopic returns the topic log lines are published to.
func (p *Publisher) LogTopic() string {
	return p.TopicPrefix + "log"
}

// Notify queues a notification for publishing.
// It is safe to pass to Manager.Subscribe.
func (p *Publisher) Notify(n gpio.Notification) {
	payload, err := json.Marshal(EventMessage{
		Pin:      n.Pin,
		Event:    n.Event.String(),
		Handlers: n.Handlers,
		Time:     n.Time,
	})
	if err != nil {
		p.Log.Error().Err(err).Msg("Failed to encode event message")
		return
	}
	p.enqueue(message{topic: p.EventTopic(n.Pin), payload: payload})
}

// Publish queues a JSON encoded value for publishing to the given topic.
func (p *Publisher) Publish(topic string, v interface{}, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.enqueue(message{topic: topic, payload: payload, retain: retain})
	return nil
}

// enqueue adds a message, dropping the oldest when the queue is full.
func (p *Publisher) enqueue(msg message) {
	for attempt := 0; attempt < 10; attempt++ {
		select {
		case p.queue <- msg:
			return
		default:
			select {
			case <-p.queue:
				droppedTotal.Inc()
			default:
			}
		}
	}
	droppedTotal.Inc()
}

// Run sends queued messages until the given context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	sender := p.Sender
	if sender == nil {
		var err error
		sender, err = Connect(p.Log, p.BrokerAddress, p.ClientID)
		if err != nil {
			return err
		}
	}
	defer sender.Close()

	for {
		select {
		case msg := <-p.queue:
			if err := sender.Send(msg.topic, msg.payload, msg.retain); err != nil {
				failedTotal.Inc()
				p.Log.Error().Err(err).Str("topic", msg.topic).Msg("Failed to publish message")
			} else {
				publishedTotal.Inc()
			}
		case <-ctx.Done():
			return nil
		}
	}
}
