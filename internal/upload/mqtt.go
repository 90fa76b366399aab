package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTPublisher sets the value of a reading's field on the broker: each
// reading is published, retained, to <topic>/<field>.
type MQTTPublisher struct {
	client paho.Client
	topic  string
}

// NewMQTTPublisher connects to broker.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return NewMQTTPublisherWithClient(client, topic), nil
}

// NewMQTTPublisherWithClient publishes through an already connected client.
func NewMQTTPublisherWithClient(client paho.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
	}
}

// Topic returns the topic a reading for field is published on.
func (p *MQTTPublisher) Topic(field string) string {
	return p.topic + "/" + field
}

func (p *MQTTPublisher) Upload(ctx context.Context, r Reading) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1, retained so new subscribers see the latest value
	token := p.client.Publish(p.Topic(r.Field), 1, true, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: timeout", p.Topic(r.Field))
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// FormatPayload encodes r as {"<field>": lux, "id": ..., "timestamp": ...}.
func FormatPayload(r Reading) ([]byte, error) {
	if r.Field == "" {
		return nil, fmt.Errorf("reading %s has no field", r.ID)
	}
	payload := map[string]any{
		r.Field:       r.Lux,
		"id":          r.ID,
		"timestamp":   r.CreatedAt.UTC().Format(time.RFC3339),
		"gain":        r.Gain,
		"integration": r.Integration,
	}
	if r.JobID != "" {
		payload["jobID"] = r.JobID
	}
	return json.Marshal(payload)
}
