package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kilianp07/evproxy/core/factory"
	"github.com/kilianp07/evproxy/core/logger"
	"github.com/kilianp07/evproxy/core/sink"
	"github.com/kilianp07/evproxy/core/telemetry"
	infralogger "github.com/kilianp07/evproxy/infra/logger"
	"github.com/kilianp07/evproxy/infra/mqtt"
)

// DefaultMQTTTopic is expanded with the vehicle identifier.
const DefaultMQTTTopic = "Car/{vehicle}/SOC"

type mqttConf struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
	TLS      bool   `json:"tls"`
	CABundle string `json:"ca_bundle"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
}

type publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
	Disconnect()
}

var newPublisher = func(cfg mqtt.Config, log logger.Logger) (publisher, error) {
	return mqtt.NewClient(cfg, log)
}

// MQTT publishes the last known displayed state of charge.
type MQTT struct {
	topic  string
	qos    byte
	retain bool
	pub    publisher
	log    logger.Logger

	lastSOC  *float64
	stopOnce sync.Once
}

func newMQTT(cfg factory.ModuleConfig) (sink.Sink, error) {
	var c mqttConf
	if err := factory.Decode(cfg.Conf, &c); err != nil {
		return nil, err
	}
	if c.Server == "" {
		return nil, errors.New("mqtt: server required")
	}
	if c.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", c.QoS)
	}
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	if c.Port == 0 {
		c.Port = 1883
		if c.TLS {
			c.Port = 8883
		}
	}
	if c.Topic == "" {
		c.Topic = DefaultMQTTTopic
	}
	log := infralogger.New("sink-mqtt")
	pub, err := newPublisher(mqtt.Config{
		Broker:   fmt.Sprintf("%s://%s:%d", scheme, c.Server, c.Port),
		Username: c.User,
		Password: c.Pass,
		UseTLS:   c.TLS,
		CABundle: c.CABundle,
	}, log)
	if err != nil {
		return nil, err
	}
	return &MQTT{
		topic:  strings.ReplaceAll(c.Topic, "{vehicle}", cfg.Scope),
		qos:    c.QoS,
		retain: c.Retain,
		pub:    pub,
		log:    log,
	}, nil
}

func (m *MQTT) Kind() sink.Kind            { return sink.KindMQTT }
func (m *MQTT) Fields() telemetry.FieldSet { return telemetry.NewFieldSet("SOC_DISPLAY") }
func (m *MQTT) Specs() telemetry.Specs     { return nil }

// Transmit publishes the last known SOC_DISPLAY, if any.
func (m *MQTT) Transmit(ctx context.Context, s telemetry.Sample) error {
	if v, ok := s.Number("SOC_DISPLAY"); ok {
		m.lastSOC = &v
	}
	if m.lastSOC == nil {
		return sink.Errorf(sink.KindMQTT, sink.ErrNothingToSend, "no SOC_DISPLAY yet")
	}
	if err := m.pub.Publish(ctx, m.topic, m.qos, m.retain, []byte(formatFloat(*m.lastSOC))); err != nil {
		return sink.Errorf(sink.KindMQTT, sink.ErrTransport, "publish %s: %w", m.topic, err)
	}
	return nil
}

// Shutdown disconnects from the broker.
func (m *MQTT) Shutdown(context.Context) error {
	m.stopOnce.Do(m.pub.Disconnect)
	return nil
}

// formatFloat always renders a decimal point, so 80 becomes "80.0".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
