package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// connectivityTopic carries backend nudges for one device.
const connectivityTopic = "omerix/devices/%s/connectivity"

// MQTTConfig configures the MQTT source.
type MQTTConfig struct {
	Broker   string
	Port     int
	Username string
	Password string
	DeviceID string
}

// statusMessage is the payload published on the connectivity topic.
type statusMessage struct {
	Status string `json:"status"` // "online", "offline" or "sync"
	Reason string `json:"reason,omitempty"`
}

// MQTTSource treats the broker connection as a connectivity signal: a
// (re)connect means the backend network is reachable again. The backend can
// also publish on the device topic to request a sync.
type MQTTSource struct {
	cfg      MQTTConfig
	clientID string
	logger   *slog.Logger
	client   MQTTClient

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient

	mu   sync.Mutex
	emit func(Event)
}

// NewMQTTSource creates an MQTT source backed by paho.
func NewMQTTSource(cfg MQTTConfig, logger *slog.Logger) *MQTTSource {
	return NewMQTTSourceWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return &pahoClient{client: mqtt.NewClient(opts)}
	})
}

// NewMQTTSourceWithClient creates an MQTT source with a custom client factory (for testing)
func NewMQTTSourceWithClient(cfg MQTTConfig, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	return &MQTTSource{
		cfg:           cfg,
		clientID:      fmt.Sprintf("omerix-sync-%s-%d", cfg.DeviceID, time.Now().Unix()),
		logger:        logger.With("source", "mqtt"),
		clientFactory: clientFactory,
	}
}

// Name returns "mqtt".
func (s *MQTTSource) Name() string { return "mqtt" }

// Topic returns the device connectivity topic.
func (s *MQTTSource) Topic() string {
	return fmt.Sprintf(connectivityTopic, s.cfg.DeviceID)
}

// Start connects to the broker. An unreachable broker is not an error: the
// client keeps retrying and the eventual connect is reported as online.
func (s *MQTTSource) Start(ctx context.Context, emit func(Event)) error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if s.cfg.DeviceID == "" {
		return errors.New("mqtt device id is required")
	}

	s.mu.Lock()
	s.emit = emit
	s.mu.Unlock()

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", s.cfg.Broker, s.cfg.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(s.clientID)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
		s.report(Event{Online: false, Reason: "broker connection lost"})
	})

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.logger.Info("mqtt connected, subscribing to connectivity topic", "topic", s.Topic())
		if err := s.subscribe(); err != nil {
			s.logger.Error("failed to subscribe", "error", err)
		}
		s.report(Event{Online: true, Reason: "broker connected"})
	})

	s.client = s.clientFactory(opts)

	s.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", brokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.mu.Lock()
	s.emit = nil
	s.mu.Unlock()
	return nil
}

func (s *MQTTSource) subscribe() error {
	token := s.client.Subscribe(s.Topic(), 1, s.handleMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	return token.Error()
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var sm statusMessage
	if err := json.Unmarshal(msg.Payload(), &sm); err != nil {
		s.logger.Warn("invalid connectivity message", "topic", msg.Topic(), "error", err)
		return
	}

	switch strings.ToLower(sm.Status) {
	case "online", "sync":
		s.report(Event{Online: true, Reason: firstNonEmpty(sm.Reason, "backend "+strings.ToLower(sm.Status))})
	case "offline":
		s.report(Event{Online: false, Reason: firstNonEmpty(sm.Reason, "backend offline")})
	default:
		s.logger.Warn("unknown connectivity status", "status", sm.Status)
	}
}

func (s *MQTTSource) report(ev Event) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	if emit == nil {
		return
	}
	ev.Source = s.Name()
	ev.At = time.Now()
	emit(ev)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
