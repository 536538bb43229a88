// Package bridge publishes model change events to an MQTT broker, one
// topic per device property, so dashboards and automation can follow the
// observatory without polling the Alpaca server themselves.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"observatory/pkg/config"
	"observatory/pkg/model"
)

// payload is the JSON document published for each change event.
type payload struct {
	Device    string    `json:"device"`
	Property  string    `json:"property"`
	Old       any       `json:"old,omitempty"`
	New       any       `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge forwards change events from model subscriptions to MQTT.
type Bridge struct {
	client mqtt.Client
	prefix string
	logger log.FieldLogger
}

// New connects to the broker described by cfg.
func New(cfg config.MQTTConfig, logger log.FieldLogger) (*Bridge, error) {
	if logger == nil {
		logger = log.WithField("component", "bridge")
	}

	opts := mqtt.NewClientOptions()
	opts.SetClientID("observatory-bridge")
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	logger.Infof("connected to MQTT broker %s", cfg.Broker)
	return &Bridge{
		client: client,
		prefix: cfg.TopicPrefix,
		logger: logger,
	}, nil
}

// Topic returns the topic a change event is published on.
func (b *Bridge) Topic(change model.Change) string {
	return fmt.Sprintf("%s/%s/%s", b.prefix, change.Device, change.Property)
}

// Encode renders the published payload for a change event.
func Encode(change model.Change) ([]byte, error) {
	return json.Marshal(payload{
		Device:    change.Device,
		Property:  change.Property,
		Old:       change.Old,
		New:       change.New,
		Timestamp: time.Now().UTC(),
	})
}

// Run forwards events from the subscription until ctx is cancelled or the
// subscription is closed. Run one goroutine per subscribed model.
func (b *Bridge) Run(ctx context.Context, sub *model.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			b.publish(change)
		}
	}
}

func (b *Bridge) publish(change model.Change) {
	body, err := Encode(change)
	if err != nil {
		b.logger.Errorf("failed to encode %s event: %v", change.Property, err)
		return
	}

	token := b.client.Publish(b.Topic(change), 0, false, body)
	if token.Wait() && token.Error() != nil {
		b.logger.Errorf("failed to publish %s event: %v", change.Property, token.Error())
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(100)
}
