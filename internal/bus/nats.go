package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/alert"
)

// EventPublisher publishes JSON payloads to a subject.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

// ProcessedEvent is published once per alert after the pipeline has run.
type ProcessedEvent struct {
	Name          string      `json:"name"`
	Severity      string      `json:"severity,omitempty"`
	SignatureHash string      `json:"error_signature_hash,omitempty"`
	IsNewError    bool        `json:"is_new_error"`
	Silenced      bool        `json:"silenced"`
	MatchedRules  []string    `json:"matched_rules"`
	ProcessedAt   time.Time   `json:"processed_at"`
	Alert         alert.Alert `json:"alert"`
}

func connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url, "alert-engine-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(string, any) error { return nil }

type Subscriber struct {
	Conn   *nats.Conn
	Logger logrus.FieldLogger
}

func NewSubscriber(url string, logger logrus.FieldLogger) (*Subscriber, error) {
	conn, err := connect(url, "alert-engine-ingest")
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn, Logger: logger}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// SubscribeAlerts delivers every decodable alert on subject to handler.
// Subscribers sharing queue split the stream. Malformed messages are logged
// and dropped.
func (s *Subscriber) SubscribeAlerts(subject, queue string, handler func(alert.Alert)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		a, err := DecodeAlert(msg.Data)
		if err != nil {
			if s.Logger != nil {
				s.Logger.WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed alert")
			}
			return
		}
		handler(a)
	}
	if queue == "" {
		return s.Conn.Subscribe(subject, cb)
	}
	return s.Conn.QueueSubscribe(subject, queue, cb)
}

// DecodeAlert parses a JSON object into an Alert.
func DecodeAlert(data []byte) (alert.Alert, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var a alert.Alert
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("decode alert: not an object")
	}
	return a, nil
}
