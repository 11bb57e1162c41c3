package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "triage_events").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, e Event) error {
	ev := s.log.Info().
		Str("event_id", e.ID).
		Str("kind", string(e.Kind)).
		Int64("patient_id", e.PatientID).
		Float64("score", e.Score)
	if e.Level != "" {
		ev = ev.Str("level", e.Level)
	}
	if e.PreviousLevel != "" {
		ev = ev.Str("previous_level", e.PreviousLevel)
	}
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if e.PreviousStatus != "" {
		ev = ev.Str("previous_status", e.PreviousStatus)
	}
	if len(e.Reasons) > 0 {
		ev = ev.Strs("reasons", e.Reasons)
	}
	if e.Policy != "" {
		ev = ev.Str("policy", e.Policy)
	}
	ev.Time("occurred_at", e.OccurredAt).Msg("triage event")
	return nil
}

// RedisStreamSink appends events to a Redis stream with XADD.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink writes to stream, trimming it to roughly maxLen entries
// when maxLen is positive.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Handle(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_id":   e.ID,
			"kind":       string(e.Kind),
			"patient_id": strconv.FormatInt(e.PatientID, 10),
			"data":       string(payload),
			"timestamp":  strconv.FormatInt(e.OccurredAt.Unix(), 10),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// MQTTPublisher is the subset of an MQTT client the sink needs.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink publishes each event as JSON under <prefix>/<kind>.
type MQTTSink struct {
	client MQTTPublisher
	prefix string
	qos    byte
}

func NewMQTTSink(client MQTTPublisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(e Event) string {
	return s.prefix + "/" + string(e.Kind)
}

func (s *MQTTSink) Handle(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(s.Topic(e), s.qos, false, payload)
}

// MQTTClient wraps a paho client.
type MQTTClient struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewMQTTClient connects to broker with auto-reconnect enabled.
func NewMQTTClient(broker, clientID string, log zerolog.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, err)
	}
	return &MQTTClient{client: client, timeout: sinkTimeout}, nil
}

func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect waits up to 250ms for in-flight work.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}
