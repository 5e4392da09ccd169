// Package mqtt publishes averaged samples to an MQTT broker. The broker
// session doubles as the node's link when uploads go over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"airquality-node/internal/reading"
)

var ErrStopped = errors.New("mqtt publisher stopped")

type Config struct {
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	DeviceID    string
}

// Telemetry is the JSON body of one upload.
type Telemetry struct {
	DeviceID  string    `json:"device_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	reading.Sample
}

type Publisher struct {
	client mqtt.Client
	cfg    Config
	logger *slog.Logger
	topic  string

	mu        sync.RWMutex
	connected bool
	seq       atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:    cfg,
		logger: logger,
		topic:  fmt.Sprintf("%s/%s/telemetry", cfg.TopicPrefix, cfg.DeviceID),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Reconnection is owned by the connection supervisor.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Associate starts a broker connection without waiting for it.
func (p *Publisher) Associate(ctx context.Context) error {
	if p.stopped() {
		return ErrStopped
	}
	if p.IsConnected() {
		return nil
	}
	token := p.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt connect failed", "error", err)
		}
	}()
	return nil
}

// Reassociate drops the current session, if any, and connects again.
func (p *Publisher) Reassociate(ctx context.Context) error {
	if p.stopped() {
		return ErrStopped
	}
	if p.client.IsConnectionOpen() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return p.Associate(ctx)
}

// Upload publishes s with QoS 1 and returns the per-process sequence number
// it was sent with.
func (p *Publisher) Upload(ctx context.Context, s reading.Sample) (int64, error) {
	if !p.IsConnected() {
		return 0, fmt.Errorf("mqtt client not connected")
	}

	seq := p.seq.Add(1)
	data, err := json.Marshal(Telemetry{
		DeviceID:  p.cfg.DeviceID,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		Sample:    s,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal telemetry: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, data)
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return 0, fmt.Errorf("publish timeout for topic %s", p.topic)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("publish telemetry: %w", err)
	}

	p.logger.Debug("published telemetry", "topic", p.topic, "sequence", seq)
	return seq, nil
}

func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect closes the broker session. It is idempotent; afterwards
// Associate and Reassociate return ErrStopped.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
