// Package nats feeds records published by the ingestion pipeline into the index.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	logpkg "github.com/kailas-cloud/problemdex/internal/logger"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
)

const defaultHandleTimeout = 2 * time.Minute

// Adder stores a batch of records.
type Adder interface {
	Add(ctx context.Context, records []domdoc.Record) (ingest.Report, error)
}

// Config configures the consumer.
type Config struct {
	Subject string
	// Queue is the queue group; consumers sharing it split the stream.
	Queue string
	// HandleTimeout bounds one message. Zero means two minutes.
	HandleTimeout time.Duration
}

// Ack is the reply sent to request-style publishers.
type Ack struct {
	Received int    `json:"received"`
	Added    int    `json:"added"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// Consumer is a queue subscription that indexes JSON record batches.
type Consumer struct {
	adder   Adder
	cfg     Config
	logger  *zap.Logger
	publish func(subject string, data []byte) error
	sub     *nats.Subscription
}

// New creates a consumer. Call Start to subscribe.
func New(adder Adder, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaultHandleTimeout
	}
	return &Consumer{adder: adder, cfg: cfg, logger: logger}
}

// Start subscribes on nc.
func (c *Consumer) Start(nc *nats.Conn) error {
	if c.cfg.Subject == "" {
		return errors.New("nats consumer: subject is required")
	}
	c.publish = nc.Publish
	sub, err := nc.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.logger.Info("ingest consumer started",
		zap.String("subject", c.cfg.Subject),
		zap.String("queue", c.cfg.Queue),
	)
	return nil
}

// Stop drains the subscription so in-flight batches finish.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", c.cfg.Subject, err)
	}
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	ctx, span := otel.Tracer("internal/transport/nats").Start(ctx, "ingest.batch")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandleTimeout)
	defer cancel()

	log := c.logger.With(zap.String("subject", msg.Subject))
	ctx = logpkg.ContextWithLogger(ctx, log)

	ack := c.process(ctx, msg.Data)
	if ack.Error != "" {
		log.Error("ingest batch failed", zap.String("error", ack.Error), zap.Int("received", ack.Received))
	} else {
		log.Info("ingest batch indexed",
			zap.Int("received", ack.Received),
			zap.Int("added", ack.Added),
			zap.Int("failed", ack.Failed),
		)
	}
	c.reply(msg, ack)
}

func (c *Consumer) process(ctx context.Context, data []byte) Ack {
	records, err := ingest.DecodeBatch(data)
	if err != nil {
		return Ack{Error: "decode: " + err.Error()}
	}
	ack := Ack{Received: len(records)}
	if len(records) == 0 {
		return ack
	}

	rep, err := c.adder.Add(ctx, records)
	// batches stored before a store failure stay stored
	ack.Added = rep.Added
	for _, ch := range rep.Failed() {
		ack.Failed += ch.Size
	}
	if err != nil {
		ack.Error = err.Error()
	}
	return ack
}

func (c *Consumer) reply(msg *nats.Msg, ack Ack) {
	if msg.Reply == "" || c.publish == nil {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := c.publish(msg.Reply, data); err != nil {
		c.logger.Warn("ingest reply failed", zap.Error(err))
	}
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish sends records to subject with the trace context of ctx in the headers.
func Publish(ctx context.Context, nc *nats.Conn, subject string, records []domdoc.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
