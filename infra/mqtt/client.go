package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/evproxy/core/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker             string      `json:"broker"`
	ClientID           string      `json:"client_id"`
	Username           string      `json:"username"`
	Password           string      `json:"password"`
	UseTLS             bool        `json:"use_tls"`
	ClientCert         string      `json:"client_cert"`
	ClientKey          string      `json:"client_key"`
	CABundle           string      `json:"ca_bundle"`
	InsecureSkipVerify bool        `json:"insecure_skip_verify"`
	LWTTopic           string      `json:"lwt_topic"`
	LWTPayload         string      `json:"lwt_payload"`
	LWTQoS             byte        `json:"lwt_qos"`
	LWTRetain          bool        `json:"lwt_retain"`
	MaxRetries         int         `json:"max_retries"`
	BackoffMS          int         `json:"backoff_ms"`
	TLSConfig          *tls.Config `json:"-"`
}

// ErrNotConnected is returned when the broker cannot be reached in time.
var ErrNotConnected = errors.New("mqtt: not connected")

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Client publishes messages to one broker. It connects on first use and
// reconnects automatically afterwards.
type Client struct {
	cli        pahoClient
	log        logger.Logger
	maxRetries int
	backoff    time.Duration

	mu        sync.Mutex
	connected bool
}

// NewClient prepares a client for cfg without connecting. An empty
// ClientID gets a random one.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "evproxy-" + uuid.NewString()
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	c := &Client{
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if c.backoff <= 0 {
		c.backoff = 100 * time.Millisecond
	}
	opts.OnConnect = func(paho.Client) {
		log.Debugf("connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warnf("connection to %s lost: %v", cfg.Broker, err)
	}
	c.cli = newMQTTClient(opts)
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration. Without certificate paths the
// system roots are used; a client certificate needs both cert and key.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return nil, fmt.Errorf("tls config requires both client_cert and client_key")
	}
	if c.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CABundle != "" {
		caBytes, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("ca bundle %s: no certificates", c.CABundle)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if err := wait(ctx, c.cli.Connect()); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	c.connected = true
	return nil
}

// Publish sends payload to topic, retrying with exponential backoff until
// MaxRetries is exhausted or ctx ends.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = wait(ctx, c.cli.Publish(topic, qos, retain, payload)); err == nil {
			c.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		c.log.Warnf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	c.connected = false
}
