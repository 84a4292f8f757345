package ingest

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
)

const topicRoot = "safewalk/devices"

// EventsTopic is subscribed with a wildcard for the device id.
const EventsTopic = topicRoot + "/+/events"

func CommandsTopic(deviceID string) string { return topicRoot + "/" + deviceID + "/commands" }
func AcksTopic(deviceID string) string     { return topicRoot + "/" + deviceID + "/acks" }

// deviceFromTopic extracts <id> from safewalk/devices/<id>/events.
func deviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0]+"/"+parts[1] != topicRoot || parts[3] != "events" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// MessageHandler handles one MQTT message
type MessageHandler func(topic string, payload []byte) error

// Broker is the subset of an MQTT client the ingest needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Client wraps a paho MQTT client
type Client struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewClient connects to the configured broker
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{client: client, logger: logger}, nil
}

// Subscribe subscribes to a topic. Handler errors are logged, not returned.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("Error handling MQTT message", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes a message and waits for delivery to the broker
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect waits up to 250ms for in-flight work
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// MQTTIngest feeds device events published over MQTT into the engines and
// delivers device commands back over MQTT.
type MQTTIngest struct {
	broker Broker
	router *Router
	qos    byte
	logger *zap.Logger
}

func NewMQTTIngest(broker Broker, router *Router, qos byte, logger *zap.Logger) *MQTTIngest {
	return &MQTTIngest{broker: broker, router: router, qos: qos, logger: logger}
}

// Start subscribes to the device events topic.
func (m *MQTTIngest) Start() error {
	if err := m.broker.Subscribe(EventsTopic, m.qos, m.handle); err != nil {
		return err
	}
	m.logger.Info("MQTT ingest subscribed", zap.String("topic", EventsTopic))
	return nil
}

func (m *MQTTIngest) handle(topic string, payload []byte) error {
	deviceID, ok := deviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		m.publishAck(deviceID, protocol.NewAckMessage(protocol.AckStatusError))
		return fmt.Errorf("invalid message from %s: %w", deviceID, err)
	}

	ack, routeErr := m.router.Route(context.Background(), deviceID, msg)
	if ack != nil {
		m.publishAck(deviceID, ack)
	}
	return routeErr
}

func (m *MQTTIngest) publishAck(deviceID string, ack *protocol.AckMessage) {
	data, err := protocol.EncodeMessage(ack)
	if err != nil {
		return
	}
	if err := m.broker.Publish(AcksTopic(deviceID), m.qos, false, data); err != nil {
		m.logger.Warn("Failed to publish ack", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// SendCommand publishes a command on the device's commands topic.
func (m *MQTTIngest) SendCommand(ctx context.Context, deviceID string, cmd *protocol.CommandMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.EncodeMessage(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	return m.broker.Publish(CommandsTopic(deviceID), m.qos, false, data)
}
