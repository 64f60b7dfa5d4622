// Package kafkaconsumer purges cached frames when catalog change events
// arrive on Kafka.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/tile-animator/internal/core/observability"
	"github.com/mohammed-shakir/tile-animator/internal/invalidation"
	mylog "github.com/mohammed-shakir/tile-animator/internal/logger"
)

// Invalidator drops cached frames of a collection.
type Invalidator interface {
	Invalidate(ctx context.Context, collection string) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	dedupe *versionDedupe
}

func New(cfg Config, logger *slog.Logger, inv Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	return &Consumer{cfg: cfg, logger: logger, inv: inv, dedupe: newVersionDedupe(cfg.DedupeSize)}
}

// Start consumes invalidation events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "err", err)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne handles a single message. Undecodable or invalid events are
// logged and skipped so they cannot wedge the partition; purge failures are
// returned so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("invalid")
		c.logger.WarnContext(ctx, "skipping invalid event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	ctx = mylog.WithCollection(ctx, ev.Collection)
	dkey := ev.Collection + "/" + ev.Item
	version := ev.TS.UnixNano()
	if c.dedupe.seen(dkey, version) {
		c.logger.DebugContext(ctx, "skipping replayed event", "item", ev.Item, "ts", ev.TS)
		return nil
	}

	n, err := c.inv.Invalidate(ctx, ev.Collection)
	obs.ObserveInvalidation(ev.Op, n, time.Since(start), err)
	if err != nil {
		obs.IncKafkaConsumerError("purge")
		return fmt.Errorf("invalidate %s: %w", ev.Collection, err)
	}
	c.dedupe.applied(dkey, version)

	c.logger.DebugContext(ctx, "invalidated frames",
		"op", ev.Op, "item", ev.Item, "keys", n)
	return nil
}
