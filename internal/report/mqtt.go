package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the MQTT report sink.
type MQTTConfig struct {
	Broker   string // tcp://host:1883 or ssl://host:8883
	Topic    string // reports go to Topic/<report name>
	Username string
	Password string
	Retain   bool
	Timeout  time.Duration
}

// MQTTSink publishes reports to a broker, one message per report.
type MQTTSink struct {
	cfg MQTTConfig
}

// NewMQTTSink validates cfg. The broker is contacted on Put.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, sinkConfigError("mqtt", "broker is required")
	}
	cfg.Topic = strings.Trim(cfg.Topic, "/")
	if cfg.Topic == "" {
		return nil, sinkConfigError("mqtt", "topic is required")
	}
	if strings.ContainsAny(cfg.Topic, "#+") {
		return nil, sinkConfigError("mqtt", "topic must not contain wildcards")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	return &MQTTSink{cfg: cfg}, nil
}

func (s *MQTTSink) topic(name string) string {
	return s.cfg.Topic + "/" + strings.TrimSuffix(name, ".json")
}

// Put connects, publishes data with QoS 1 and disconnects.
func (s *MQTTSink) Put(ctx context.Context, name string, data []byte) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID("qcmigrate-" + uuid.NewString()[:8])
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(s.cfg.Timeout)

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), s.cfg.Timeout); err != nil {
		return sinkError(err, "mqtt", "connect", s.cfg.Broker)
	}
	defer client.Disconnect(250)

	topic := s.topic(name)
	if err := wait(ctx, client.Publish(topic, 1, s.cfg.Retain, data), s.cfg.Timeout); err != nil {
		return sinkError(err, "mqtt", "publish", topic)
	}
	return nil
}

// wait blocks until token completes, ctx ends or timeout passes.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// Location returns the broker and topic of name.
func (s *MQTTSink) Location(name string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.Broker, "/"), s.topic(name))
}
