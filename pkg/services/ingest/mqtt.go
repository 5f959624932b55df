// Package ingest brings device telemetry into the system and mirrors
// converted readings to external stores.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"waterwatch/api/services"
	"waterwatch/pkg/logger"
	"waterwatch/pkg/metrics"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/shared"
)

// Submitter accepts raw samples for processing.
type Submitter interface {
	Submit(ctx context.Context, sample ontology.TelemetrySample) error
}

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectRetries int
	ConnectTimeout time.Duration
}

// MQTTFeed subscribes to device telemetry on an MQTT broker and submits each
// sample once.
type MQTTFeed struct {
	cfg     MQTTConfig
	submit  Submitter
	dedup   *Deduper
	metrics *metrics.Metrics
	log     *slog.Logger
	client  mqtt.Client
}

func NewMQTTFeed(cfg MQTTConfig, submit Submitter, m *metrics.Metrics) *MQTTFeed {
	if cfg.Topic == "" {
		cfg.Topic = shared.TopicTelemetry
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 5
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &MQTTFeed{
		cfg:     cfg,
		submit:  submit,
		dedup:   NewDeduper(10*time.Minute, 10000),
		metrics: m,
		log:     logger.WithComponent("mqtt-feed"),
	}
}

func (f *MQTTFeed) connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.cfg.Broker)
	opts.SetClientID(f.cfg.ClientID)
	opts.SetUsername(f.cfg.Username)
	opts.SetPassword(f.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		f.log.Warn("MQTT connection lost", "broker", f.cfg.Broker, "error", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.cfg.ConnectTimeout

	err := backoff.Retry(func() error {
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			f.log.Warn("failed to connect to MQTT broker", "broker", f.cfg.Broker, "error", token.Error())
			return token.Error()
		}
		f.client = client
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.cfg.ConnectRetries-1)), ctx))
	if err != nil {
		return fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	f.log.Info("connected to MQTT broker", "broker", f.cfg.Broker)
	return nil
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (f *MQTTFeed) Run(ctx context.Context) error {
	if err := f.connect(ctx); err != nil {
		return err
	}
	defer f.client.Disconnect(250)

	token := f.client.Subscribe(f.cfg.Topic, f.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := f.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			f.log.Warn("dropped telemetry message", "topic", msg.Topic(), "error", err)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.cfg.Topic, token.Error())
	}
	f.log.Info("subscribed to telemetry topic", "topic", f.cfg.Topic)

	<-ctx.Done()

	f.client.Unsubscribe(f.cfg.Topic).Wait()
	f.log.Info("MQTT feed stopped")
	return ctx.Err()
}

// HandleMessage decodes one sample and submits it unless it was already
// seen. A sample without a device id takes it from the last topic level.
func (f *MQTTFeed) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var sample ontology.TelemetrySample
	if err := json.Unmarshal(payload, &sample); err != nil {
		f.metrics.RecordTelemetry("invalid")
		return fmt.Errorf("invalid telemetry payload: %w", err)
	}
	if sample.DeviceID == "" {
		if i := strings.LastIndex(topic, "/"); i >= 0 {
			sample.DeviceID = topic[i+1:]
		}
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	id := services.SampleID(sample)
	if !f.dedup.ShouldProcess(id) {
		f.metrics.RecordTelemetry("duplicate")
		return nil
	}
	if err := f.submit.Submit(ctx, sample); err != nil {
		// Let a retransmission of the sample through.
		f.dedup.Forget(id)
		return err
	}
	return nil
}
