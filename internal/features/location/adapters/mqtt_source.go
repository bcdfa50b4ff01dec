package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/metrics"
	"handoff-coordinator/internal/features/location/domain"
	"handoff-coordinator/internal/features/location/ports"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTConfig holds the broker connection used by device location streams.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// pahoClient is the subset of paho.Client used by MQTTSource.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// devicePayload is the JSON devices publish on <prefix>/operators/<id>/location.
type devicePayload struct {
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

// permissionPayload is the JSON devices publish on <prefix>/operators/<id>/permission.
type permissionPayload struct {
	Granted bool `json:"granted"`
}

// MQTTSource subscribes to device location topics and feeds fixes into an ingestor.
type MQTTSource struct {
	cli       pahoClient
	ingestor  ports.FixIngestor
	metrics   *metrics.Recorder
	log       *zap.Logger
	fixTopic  string
	permTopic string
	now       func() time.Time
}

// NewMQTTSource connects to the broker and subscribes to operator location topics.
// Subscriptions are renewed on every reconnect.
func NewMQTTSource(cfg MQTTConfig, ingestor ports.FixIngestor, rec *metrics.Recorder, log *zap.Logger) (*MQTTSource, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt source: broker is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "handoff"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "handoff-" + uuid.NewString()
	}

	s := &MQTTSource{
		ingestor:  ingestor,
		metrics:   rec,
		log:       log,
		fixTopic:  prefix + "/operators/+/location",
		permTopic: prefix + "/operators/+/permission",
		now:       time.Now,
	}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		log.Info("MQTT connected", zap.String("broker", cfg.Broker))
		if err := s.subscribe(); err != nil {
			log.Error("MQTT subscribe failed", zap.Error(err))
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warn("MQTT connection lost", zap.Error(err))
	}

	c := newMQTTClient(opts)
	s.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt source: connect: %w", token.Error())
	}
	return s, nil
}

func (s *MQTTSource) subscribe() error {
	if token := s.cli.Subscribe(s.fixTopic, 1, s.onFix); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", s.fixTopic, token.Error())
	}
	if token := s.cli.Subscribe(s.permTopic, 1, s.onPermission); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", s.permTopic, token.Error())
	}
	return nil
}

func (s *MQTTSource) onFix(_ paho.Client, msg paho.Message) {
	operatorID, ok := operatorFromTopic(msg.Topic())
	if !ok {
		s.log.Warn("Ignoring fix on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}

	var p devicePayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		s.log.Warn("Failed to decode device fix", zap.String("operator_id", operatorID), zap.Error(err))
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}

	fix := domain.Fix{
		OperatorID:     operatorID,
		Coordinate:     geo.Coordinate{Lat: p.Lat, Lng: p.Lng},
		AccuracyMeters: p.AccuracyMeters,
		Timestamp:      p.Timestamp,
	}
	if err := s.ingestor.Publish(fix); err != nil {
		s.log.Warn("Rejected device fix", zap.String("operator_id", operatorID), zap.Error(err))
		return
	}
	s.metrics.FixReceived("mqtt")
}

func (s *MQTTSource) onPermission(_ paho.Client, msg paho.Message) {
	operatorID, ok := operatorFromTopic(msg.Topic())
	if !ok {
		return
	}
	var p permissionPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		s.log.Warn("Failed to decode permission change", zap.String("operator_id", operatorID), zap.Error(err))
		return
	}
	s.ingestor.SetPermission(operatorID, p.Granted)
	s.log.Info("Location permission changed", zap.String("operator_id", operatorID), zap.Bool("granted", p.Granted))
}

// Close unsubscribes and disconnects from the broker.
func (s *MQTTSource) Close() {
	if s.cli.IsConnected() {
		s.cli.Unsubscribe(s.fixTopic, s.permTopic).WaitTimeout(time.Second)
	}
	s.cli.Disconnect(250)
}

// operatorFromTopic extracts <id> from <prefix>/operators/<id>/<kind>.
func operatorFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-3] != "operators" {
		return "", false
	}
	id := parts[len(parts)-2]
	return id, id != ""
}
