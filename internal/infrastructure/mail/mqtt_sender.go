package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	notificationQoS          = 1
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig selects the broker and topic namespace for notifications.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
}

// MQTTSender publishes notifications as JSON to <prefix>/<kind> for an
// external mail relay to pick up.
type MQTTSender struct {
	client  pahomqtt.Client
	pub     publisher
	prefix  string
	timeout time.Duration
}

// ConnectMQTT connects to the broker with automatic reconnects.
func ConnectMQTT(cfg MQTTConfig) (*MQTTSender, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(defaultConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	s := newMQTTSender(client, cfg.TopicPrefix)
	s.client = client
	return s, nil
}

func newMQTTSender(pub publisher, prefix string) *MQTTSender {
	if prefix == "" {
		prefix = "identity/notifications"
	}
	return &MQTTSender{pub: pub, prefix: prefix, timeout: defaultPublishTimeout}
}

func (s *MQTTSender) Topic(kind Kind) string {
	return s.prefix + "/" + string(kind)
}

func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	token := s.pub.Publish(s.Topic(msg.Kind), notificationQoS, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Ping reports whether the broker connection is up.
func (s *MQTTSender) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.client != nil && !s.client.IsConnectionOpen() {
		return errors.New("mqtt not connected")
	}
	return nil
}

func (s *MQTTSender) Close() {
	if s.client != nil {
		s.client.Disconnect(defaultDisconnectQuiesce)
	}
}
