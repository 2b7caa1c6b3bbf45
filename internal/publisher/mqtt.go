// Package publisher публикует сохраненные показания в MQTT
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/models"
)

// DeviceIDPlaceholder заменяется в шаблоне топика идентификатором устройства
const DeviceIDPlaceholder = "{device_id}"

// Config параметры подключения к брокеру
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic шаблон топика, например telemetry/{device_id}
	Topic string
	QoS   byte
}

// Publisher отправляет каждое показание в топик устройства.
// Реализует simulator.Listener.
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// New подключается к брокеру
func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return NewWithClient(client, cfg.Topic, cfg.QoS), nil
}

// NewWithClient создает издателя поверх готового клиента
func NewWithClient(client mqtt.Client, topic string, qos byte) *Publisher {
	if topic == "" {
		topic = "telemetry/" + DeviceIDPlaceholder
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

// OnReading публикует показание в JSON
func (p *Publisher) OnReading(ctx context.Context, r models.DeviceReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	topic := FormatTopic(p.topic, r.DeviceID)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		metrics.Published.WithLabelValues("timeout").Inc()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		metrics.Published.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	metrics.Published.WithLabelValues("ok").Inc()
	slog.DebugContext(ctx, "reading published", "topic", topic)
	return nil
}

// Close отключается от брокера
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// FormatTopic подставляет идентификатор устройства в шаблон
func FormatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, DeviceIDPlaceholder, deviceID)
}
