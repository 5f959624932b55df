package embeddednats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"waterwatch/pkg/logger"
	"waterwatch/pkg/shared"
)

type Config struct {
	Port            int // -1 picks a random port
	DataDir         string
	MaxMemory       int64
	MaxFileStore    int64
	JetStreamDomain string
}

type EmbeddedNATS struct {
	server  *server.Server
	nc      *nats.Conn
	js      nats.JetStreamContext
	config  *Config
	streams map[string]*StreamConfig
	log     *slog.Logger
}

type StreamConfig struct {
	Name            string
	Subjects        []string
	Retention       nats.RetentionPolicy
	MaxMsgs         int64
	MaxBytes        int64
	MaxAge          time.Duration
	MaxMsgSize      int32
	Replicas        int
	DuplicateWindow time.Duration
	AllowRollup     bool
	AllowDirect     bool
	DiscardPolicy   nats.DiscardPolicy
}

type ConsumerConfig struct {
	Stream   string
	Consumer string
	Filter   string
}

func DefaultConfig() *Config {
	return &Config{
		Port:            4222,
		DataDir:         "./data/nats",
		MaxMemory:       256 * 1024 * 1024,      // 256MB
		MaxFileStore:    2 * 1024 * 1024 * 1024, // 2GB
		JetStreamDomain: "waterwatch",
	}
}

func New(cfg *Config) (*EmbeddedNATS, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &EmbeddedNATS{
		config:  cfg,
		streams: make(map[string]*StreamConfig),
		log:     logger.WithComponent("nats"),
	}, nil
}

func (en *EmbeddedNATS) Start() error {
	opts := &server.Options{
		Port:               en.config.Port,
		JetStream:          true,
		StoreDir:           en.config.DataDir,
		JetStreamMaxMemory: en.config.MaxMemory,
		JetStreamMaxStore:  en.config.MaxFileStore,
		JetStreamDomain:    en.config.JetStreamDomain,
		NoSigs:             true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("NATS server not ready for connections")
	}

	en.server = ns

	if err := en.connect(); err != nil {
		return fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	en.log.Info("embedded NATS server started", "url", ns.ClientURL())
	return nil
}

func (en *EmbeddedNATS) connect() error {
	nc, err := nats.Connect(en.server.ClientURL(),
		nats.Name(shared.ServiceName),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			en.log.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				en.log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			en.log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	en.nc = nc
	en.js = js
	return nil
}

func (en *EmbeddedNATS) AddStream(streamConfig *StreamConfig) error {
	if en.js == nil {
		return fmt.Errorf("JetStream not initialized")
	}

	config := &nats.StreamConfig{
		Name:        streamConfig.Name,
		Subjects:    streamConfig.Subjects,
		Retention:   streamConfig.Retention,
		MaxMsgs:     streamConfig.MaxMsgs,
		MaxBytes:    streamConfig.MaxBytes,
		MaxAge:      streamConfig.MaxAge,
		MaxMsgSize:  streamConfig.MaxMsgSize,
		Replicas:    streamConfig.Replicas,
		Duplicates:  streamConfig.DuplicateWindow,
		AllowRollup: streamConfig.AllowRollup,
		AllowDirect: streamConfig.AllowDirect,
		Discard:     streamConfig.DiscardPolicy,
	}

	// Update the stream if it exists, otherwise create it
	if _, err := en.js.StreamInfo(streamConfig.Name); err == nil {
		if _, err := en.js.UpdateStream(config); err != nil {
			return fmt.Errorf("failed to update stream %s: %w", streamConfig.Name, err)
		}
		en.log.Info("updated stream", "stream", streamConfig.Name, "subjects", streamConfig.Subjects)
	} else {
		if _, err := en.js.AddStream(config); err != nil {
			return fmt.Errorf("failed to add stream %s: %w", streamConfig.Name, err)
		}
		en.log.Info("created stream", "stream", streamConfig.Name, "subjects", streamConfig.Subjects)
	}

	en.streams[streamConfig.Name] = streamConfig
	return nil
}

// WaterStreams describes the JetStream streams the service relies on.
func WaterStreams() []StreamConfig {
	return []StreamConfig{
		{
			Name:            shared.StreamAssets,
			Subjects:        []string{shared.SubjectAssetsAll},
			Retention:       nats.LimitsPolicy,
			MaxMsgs:         100000,
			MaxBytes:        128 * 1024 * 1024, // 128MB
			MaxAge:          7 * 24 * time.Hour,
			MaxMsgSize:      1024 * 1024, // 1MB
			Replicas:        1,
			DuplicateWindow: 2 * time.Minute,
			AllowDirect:     true,
			DiscardPolicy:   nats.DiscardOld,
		},
		{
			Name:            shared.StreamTelemetry,
			Subjects:        []string{shared.SubjectTelemetryAll, shared.SubjectReadingsAll},
			Retention:       nats.LimitsPolicy,
			MaxMsgs:         250000,
			MaxBytes:        64 * 1024 * 1024, // 64MB
			MaxAge:          24 * time.Hour,
			MaxMsgSize:      64 * 1024, // 64KB
			Replicas:        1,
			DuplicateWindow: 2 * time.Minute,
			AllowDirect:     true,
			DiscardPolicy:   nats.DiscardOld,
		},
		{
			Name:            shared.StreamFlow,
			Subjects:        []string{shared.SubjectFlowAll},
			Retention:       nats.LimitsPolicy,
			MaxMsgs:         1000,
			MaxBytes:        64 * 1024 * 1024, // 64MB
			MaxAge:          24 * time.Hour,
			MaxMsgSize:      1024 * 1024, // 1MB, the server max payload
			Replicas:        1,
			DuplicateWindow: 30 * time.Second,
			AllowRollup:     true,
			AllowDirect:     true,
			DiscardPolicy:   nats.DiscardOld,
		},
	}
}

// WaterConsumers describes the durable consumers the workers pull from.
func WaterConsumers() []ConsumerConfig {
	return []ConsumerConfig{
		{shared.StreamTelemetry, shared.ConsumerTelemetryProcessor, shared.SubjectTelemetryAll},
		{shared.StreamAssets, shared.ConsumerAssetProcessor, shared.SubjectAssetsAll},
	}
}

// CreateWaterStreams creates or updates every stream and durable consumer.
func (en *EmbeddedNATS) CreateWaterStreams() error {
	for _, stream := range WaterStreams() {
		if err := en.AddStream(&stream); err != nil {
			return err
		}
	}
	for _, c := range WaterConsumers() {
		if err := en.CreateDurableConsumer(c.Stream, c.Consumer, c.Filter); err != nil {
			return err
		}
	}
	return nil
}

// PublishWithDedup publishes to JetStream with a Nats-Msg-Id header so
// redeliveries inside the stream's duplicate window are dropped.
func (en *EmbeddedNATS) PublishWithDedup(subject string, data []byte, msgID string) error {
	if en.js == nil {
		return fmt.Errorf("JetStream not initialized")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, msgID)

	if _, err := en.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (en *EmbeddedNATS) CreateDurableConsumer(streamName, consumerName string, filterSubject string) error {
	config := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}

	if _, err := en.js.ConsumerInfo(streamName, consumerName); err == nil {
		en.log.Debug("durable consumer already exists", "consumer", consumerName, "stream", streamName)
		return nil
	}

	if _, err := en.js.AddConsumer(streamName, config); err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", consumerName, err)
	}

	en.log.Info("created durable consumer", "consumer", consumerName, "stream", streamName)
	return nil
}

// StreamMessages returns the number of messages currently stored in a
// stream.
func (en *EmbeddedNATS) StreamMessages(streamName string) (uint64, error) {
	info, err := en.js.StreamInfo(streamName)
	if err != nil {
		return 0, fmt.Errorf("failed to get stream info %s: %w", streamName, err)
	}
	return info.State.Msgs, nil
}

func (en *EmbeddedNATS) Connection() *nats.Conn {
	return en.nc
}

func (en *EmbeddedNATS) JetStream() nats.JetStreamContext {
	return en.js
}

func (en *EmbeddedNATS) ClientURL() string {
	if en.server == nil {
		return ""
	}
	return en.server.ClientURL()
}

func (en *EmbeddedNATS) Shutdown(ctx context.Context) error {
	if en.nc != nil {
		if err := en.nc.Drain(); err != nil {
			en.nc.Close()
		}
	}

	if en.server != nil {
		en.server.Shutdown()
		done := make(chan struct{})
		go func() {
			en.server.WaitForShutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (en *EmbeddedNATS) HealthCheck() error {
	if en.nc == nil {
		return fmt.Errorf("NATS connection not initialized")
	}

	if !en.nc.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}

	if en.server != nil && !en.server.Running() {
		return fmt.Errorf("NATS server not running")
	}

	return nil
}
