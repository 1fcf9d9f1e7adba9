package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// Publisher delivers one reading to a downstream channel.
type Publisher interface {
	Publish(ctx context.Context, r reading.Reading) error
	Name() string
}

// Multi fans a reading out to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, r reading.Reading) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name implements Publisher.
func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, p := range m {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// MQTTPublisher publishes each reading on <root>/device/<id> and, when the
// counter is known, <root>/counter/<name>.
type MQTTPublisher struct {
	client mqtt.Client
	root   string
}

// NewMQTTPublisher connects to broker.
func NewMQTTPublisher(broker, root string) (*MQTTPublisher, error) {
	if root == "" {
		root = config.DefaultMQTTTopicRoot
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("queuetrends-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetConnectTimeout(config.MQTTConnectTimeout)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	return NewMQTTPublisherWithClient(c, root), nil
}

// NewMQTTPublisherWithClient wraps an already connected client.
func NewMQTTPublisherWithClient(c mqtt.Client, root string) *MQTTPublisher {
	return &MQTTPublisher{client: c, root: strings.TrimRight(root, "/")}
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(ctx context.Context, r reading.Reading) error {
	payload, err := json.Marshal(r.Payload())
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	for _, topic := range p.topics(r) {
		token := p.client.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(config.PublishTimeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *MQTTPublisher) topics(r reading.Reading) []string {
	topics := []string{p.root + "/device/" + r.DeviceID}
	if r.CounterName != "" {
		topics = append(topics, p.root+"/counter/"+strings.ToLower(r.CounterName))
	}
	return topics
}

// Name implements Publisher.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// messageWriter is the part of *kafka.Writer that KafkaPublisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes readings to a topic keyed by device id, so one
// device's readings stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a synchronous writer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = config.DefaultKafkaTopic
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, r reading.Reading) error {
	payload, err := json.Marshal(r.Payload())
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, config.PublishTimeout)
	defer cancel()
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.DeviceID),
		Value: payload,
		Time:  r.Timestamp,
	})
}

// Name implements Publisher.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
