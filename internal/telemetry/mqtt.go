package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig describes the broker connection for MQTTSink.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// Publisher is the part of MQTT.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// MQTTSink publishes each record to <prefix>/<vehicle>/telemetry.
type MQTTSink struct {
	pub    Publisher
	client MQTT.Client
	cfg    MQTTConfig
}

// NewMQTTSink wraps an existing publisher.
func NewMQTTSink(pub Publisher, cfg MQTTConfig) *MQTTSink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fleettrack"
	}
	return &MQTTSink{pub: pub, cfg: cfg}
}

// DialMQTT connects to the configured broker. The client reconnects on its
// own after the initial connection succeeds.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		monitoring.Logf("telemetry: mqtt connection lost: %v", err)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	sink := NewMQTTSink(client, cfg)
	sink.client = client
	return sink, nil
}

// Topic returns the topic a record for vehicleID is published on.
func (s *MQTTSink) Topic(vehicleID string) string {
	if vehicleID == "" {
		vehicleID = "unknown"
	}
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/" + vehicleID + "/telemetry"
}

func (s *MQTTSink) Send(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	token := s.pub.Publish(s.Topic(r.VehicleID), s.cfg.QoS, s.cfg.Retain, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects a sink created by DialMQTT.
func (s *MQTTSink) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}
