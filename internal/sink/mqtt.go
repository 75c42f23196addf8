package sink

import (
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"AirModes-Relay/internal/modes"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// mqttClient is the part of mqtt.Client the sink uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every report as JSON to
// {prefix}/type{DF}_dl/{icao}.
type MQTT struct {
	client mqttClient
	cfg    MQTTConfig
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "modes"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("modes-relay-" + uuid.NewString())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[INFO] mqtt: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	return &MQTT{client: client, cfg: cfg}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Topic(r *modes.Report) string {
	return fmt.Sprintf("%s/%s/%s", m.cfg.TopicPrefix, r.Topic(), r.ICAO)
}

// Write publishes without waiting for the broker; failures are logged when
// the token completes.
func (m *MQTT) Write(r *modes.Report, raw []byte) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	topic := m.Topic(r)
	token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retain, raw)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("[WARN] mqtt: publish to %s failed: %v", topic, token.Error())
		}
	}()
	return nil
}

func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
