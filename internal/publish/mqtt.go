package publish

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/engine"
)

var (
	// ErrDisabled means MQTT publishing is switched off in configuration
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// sender delivers one message
type sender interface {
	send(topic string, payload []byte, retained bool) error
	close()
}

// Publisher pushes plans to home-automation subscribers as retained JSON
// messages under a topic prefix:
//
//	<prefix>/status                     online|offline
//	<prefix>/production/latest          curve summary
//	<prefix>/schedule/latest            full schedule
//	<prefix>/appliance/<slug>/schedule  one item per appliance
type Publisher struct {
	out    sender
	prefix string
}

// Connect dials the broker and marks the publisher online
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")

	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(prefix+"/status", "offline", 1, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := &Publisher{out: &pahoSender{client: client, qos: byte(cfg.QoS)}, prefix: prefix}
	if err := p.out.send(p.topic("status"), []byte("online"), true); err != nil {
		client.Disconnect(defaultDisconnectQuiesce)
		return nil, err
	}
	return p, nil
}

// Close publishes offline status and disconnects
func (p *Publisher) Close() error {
	_ = p.out.send(p.topic("status"), []byte("offline"), true)
	p.out.close()
	return nil
}

type productionSummary struct {
	Date      time.Time     `json:"date"`
	Interval  time.Duration `json:"interval"`
	TotalKWh  float64       `json:"total_kwh"`
	PeakKW    float64       `json:"peak_kw"`
	HighSlots int           `json:"high_slots"`
	FirstSlot *time.Time    `json:"first_productive_slot,omitempty"`
	LastSlot  *time.Time    `json:"last_productive_slot,omitempty"`
}

// RecordPlan publishes the curve summary, the schedule and each item
func (p *Publisher) RecordPlan(ctx context.Context, curve engine.DailyProductionCurve, schedule engine.Schedule) error {
	if err := p.publishJSON(ctx, p.topic("production", "latest"), summarize(curve)); err != nil {
		return err
	}
	if err := p.publishJSON(ctx, p.topic("schedule", "latest"), schedule); err != nil {
		return err
	}
	for _, it := range schedule.Items {
		if err := p.publishJSON(ctx, p.topic("appliance", Slug(it.Appliance.Name), "schedule"), it); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return p.out.send(topic, payload, true)
}

func (p *Publisher) topic(parts ...string) string {
	return p.prefix + "/" + strings.Join(parts, "/")
}

func summarize(curve engine.DailyProductionCurve) productionSummary {
	s := productionSummary{
		Date:     curve.Date,
		Interval: curve.Interval,
		TotalKWh: curve.TotalKWh(),
		PeakKW:   curve.PeakKW(),
	}
	for i := range curve.Points {
		pt := curve.Points[i]
		if pt.Tier == engine.TierHigh {
			s.HighSlots++
		}
		if pt.PowerKW <= 0 {
			continue
		}
		if s.FirstSlot == nil {
			s.FirstSlot = &curve.Points[i].Time
		}
		s.LastSlot = &curve.Points[i].Time
	}
	return s
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns an appliance name into a topic segment, "EV Charging" -> "ev-charging"
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

type pahoSender struct {
	client pahomqtt.Client
	qos    byte
}

func (s *pahoSender) send(topic string, payload []byte, retained bool) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	token := s.client.Publish(topic, s.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (s *pahoSender) close() {
	s.client.Disconnect(defaultDisconnectQuiesce)
}
