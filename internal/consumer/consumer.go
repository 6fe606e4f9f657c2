/**
 * Copyright 2025-present OpenOES Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package consumer

import (
	"context"
	"fmt"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"go.uber.org/zap"
)

// MirrorConsumerConfig contains configuration for MirrorConsumer.
type MirrorConsumerConfig struct {
	Log        streamlog.Log
	Store      store.MirrorStore
	Accounting store.InventoryStore // optional downstream accounting tee
	Streams    []string
	Consumer   models.ConsumerConfig
}

// MirrorConsumer reads protocol events from the append-only log with
// consumer-group semantics and applies them to the Exchange-side mirror.
// Every handler is idempotent, so at-least-once delivery and reclaimed
// redeliveries are safe to apply in any interleaving.
type MirrorConsumer struct {
	log        streamlog.Log
	store      store.MirrorStore
	accounting store.InventoryStore
	streams    []string

	group            string
	name             string
	batchSize        int64
	blockTimeout     time.Duration
	readRetries      int
	readRetryBackoff time.Duration
	reclaimIdle      time.Duration
	reclaimInterval  time.Duration
	requestExpiry    time.Duration
	expiryInterval   time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMirrorConsumer creates a mirror consumer.
func NewMirrorConsumer(cfg MirrorConsumerConfig) *MirrorConsumer {
	return &MirrorConsumer{
		log:              cfg.Log,
		store:            cfg.Store,
		accounting:       cfg.Accounting,
		streams:          cfg.Streams,
		group:            cfg.Consumer.Group,
		name:             cfg.Consumer.Name,
		batchSize:        cfg.Consumer.BatchSize,
		blockTimeout:     cfg.Consumer.BlockTimeout,
		readRetries:      cfg.Consumer.ReadRetries,
		readRetryBackoff: cfg.Consumer.ReadRetryBackoff,
		reclaimIdle:      cfg.Consumer.ReclaimIdle,
		reclaimInterval:  cfg.Consumer.ReclaimInterval,
		requestExpiry:    cfg.Consumer.RequestExpiry,
		expiryInterval:   cfg.Consumer.ExpiryScanInterval,
		stopChan:         make(chan struct{}),
		doneChan:         make(chan struct{}),
	}
}

// Start ensures the consumer group exists on every stream, runs one reclaim
// pass to recover entries left in-flight by a previous crash, then begins
// consuming.
func (c *MirrorConsumer) Start(ctx context.Context) error {
	zap.L().Info("Starting mirror consumer",
		zap.Strings("streams", c.streams),
		zap.String("group", c.group),
		zap.String("consumer", c.name))

	if len(c.streams) == 0 {
		return fmt.Errorf("no streams to consume")
	}

	for _, stream := range c.streams {
		if err := c.log.EnsureGroup(ctx, stream, c.group); err != nil {
			return fmt.Errorf("failed to ensure group on %s: %w", stream, err)
		}
	}

	// Entries delivered to a consumer that died before acknowledging stay
	// pending until someone claims them. Do that before reading new entries.
	c.reclaimPass(ctx)

	go c.consumeLoop(ctx)
	go c.reclaimLoop(ctx)
	go c.expiryLoop(ctx)

	zap.L().Info("Mirror consumer started successfully",
		zap.Int64("batch_size", c.batchSize),
		zap.Duration("block_timeout", c.blockTimeout),
		zap.Duration("reclaim_idle", c.reclaimIdle))

	return nil
}

// Stop gracefully stops the mirror consumer.
func (c *MirrorConsumer) Stop() {
	zap.L().Info("Stopping mirror consumer")
	close(c.stopChan)
	<-c.doneChan
	zap.L().Info("Mirror consumer stopped")
}

// Done is closed when the consume loop exits, normally or fatally.
func (c *MirrorConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// consumeLoop is the main read-dispatch-acknowledge loop. Connectivity
// failures are retried with backoff; once the retries are exhausted the
// loop exits so the operator sees a dead consumer instead of a silent
// busy-wait.
func (c *MirrorConsumer) consumeLoop(ctx context.Context) {
	defer close(c.doneChan)

	failures := 0
	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := c.log.ReadGroup(ctx, streamlog.ReadGroupArgs{
			Streams:      c.streams,
			Group:        c.group,
			Consumer:     c.name,
			BatchSize:    c.batchSize,
			BlockTimeout: c.blockTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures > c.readRetries {
				zap.L().Error("Event log unreachable, stopping consumer",
					zap.Int("attempts", failures),
					zap.Error(err))
				return
			}
			zap.L().Warn("Event log read failed, backing off",
				zap.Int("attempt", failures),
				zap.Duration("backoff", c.readRetryBackoff),
				zap.Error(err))
			select {
			case <-time.After(c.readRetryBackoff):
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0

		c.processBatch(ctx, messages)
	}
}

// reclaimLoop periodically claims entries left pending by dead consumers.
func (c *MirrorConsumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reclaimPass(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *MirrorConsumer) reclaimPass(ctx context.Context) {
	for _, stream := range c.streams {
		messages, err := c.log.Reclaim(ctx, streamlog.ReclaimArgs{
			Stream:        stream,
			Group:         c.group,
			Consumer:      c.name,
			IdleThreshold: c.reclaimIdle,
			Count:         c.batchSize,
		})
		if err != nil {
			zap.L().Warn("Reclaim pass failed",
				zap.String("stream", stream),
				zap.Error(err))
			continue
		}
		if len(messages) == 0 {
			continue
		}

		zap.L().Info("Reclaimed stale in-flight entries",
			zap.String("stream", stream),
			zap.Int("count", len(messages)))
		c.processBatch(ctx, messages)
	}
}

// expiryLoop reports credit requests that have sat pending past the expiry
// window. Report-only: a pending request is never auto-rejected, because
// the decision belongs to the Exchange operator, not the mirror.
func (c *MirrorConsumer) expiryLoop(ctx context.Context) {
	if c.expiryInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reportAbandonedRequests(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *MirrorConsumer) reportAbandonedRequests(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.requestExpiry)
	abandoned, err := c.store.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		zap.L().Warn("Abandoned request scan failed", zap.Error(err))
		return
	}
	if len(abandoned) == 0 {
		return
	}

	zap.L().Warn("Credit requests pending past expiry window",
		zap.Int("count", len(abandoned)),
		zap.Duration("expiry", c.requestExpiry))
	for _, request := range abandoned {
		zap.L().Warn("Abandoned credit request",
			zap.String("request_id", request.RequestId),
			zap.String("user_id", request.UserId),
			zap.String("asset", request.Asset),
			zap.String("amount", request.Amount.String()),
			zap.Time("created_at", request.CreatedAt))
	}
}
