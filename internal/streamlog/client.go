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

// Package streamlog is the durable, ordered, append-only event log client
// over Valkey/Redis streams with consumer-group semantics: competing
// consumers, per-entry delivery tracking, acknowledgment, and reclaim of
// stale in-flight entries. Delivery is at-least-once per group; every
// handler downstream must treat an invocation as a possible replay.
package streamlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrConnectivity marks transient transport failures. Callers retry with
// backoff; the error is never silently dropped.
var ErrConnectivity = errors.New("event log connectivity error")

// Message is one delivered stream entry. Redelivery increments
// DeliveryCount but never changes ID.
type Message struct {
	Stream        string
	ID            string
	Fields        map[string]string
	DeliveryCount int64
}

// ReadGroupArgs parameterizes one blocking group read across streams.
type ReadGroupArgs struct {
	Streams      []string
	Group        string
	Consumer     string
	BatchSize    int64
	BlockTimeout time.Duration
}

// ReclaimArgs parameterizes a reclaim pass over one stream's pending entries.
type ReclaimArgs struct {
	Stream        string
	Group         string
	Consumer      string
	IdleThreshold time.Duration
	Count         int64
}

// Log is the event log contract the protocol depends on. *Client implements
// it against a live Valkey/Redis instance; tests substitute an in-memory
// implementation.
type Log interface {
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Reclaim(ctx context.Context, args ReclaimArgs) ([]Message, error)
	EnsureGroup(ctx context.Context, stream, group string) error
}

// Compile-time check: *Client must satisfy Log.
var _ Log = (*Client)(nil)

// Client wraps one Valkey/Redis connection as an event log.
type Client struct {
	rdb redis.Cmdable
}

// NewClient wraps an established Redis client. The connection's lifetime is
// owned by the caller (see the connection Manager).
func NewClient(rdb redis.Cmdable) *Client {
	return &Client{rdb: rdb}
}

// Append adds one entry to a stream and returns its log-assigned id.
// Failures propagate for retry with backoff at the call site.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", wrapConnectivity("append", stream, err)
	}
	return id, nil
}

// ReadGroup blocks up to BlockTimeout for new entries and returns them in
// log order. An empty result after the timeout is not an error.
func (c *Client) ReadGroup(ctx context.Context, args ReadGroupArgs) ([]Message, error) {
	if len(args.Streams) == 0 {
		return nil, fmt.Errorf("read_group requires at least one stream")
	}

	// go-redis expects [stream1, stream2, ..., id1, id2, ...].
	streams := make([]string, 0, len(args.Streams)*2)
	streams = append(streams, args.Streams...)
	for range args.Streams {
		streams = append(streams, ">")
	}

	result, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  streams,
		Count:    args.BatchSize,
		Block:    args.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block timeout, nothing new
		}
		return nil, wrapConnectivity("read_group", strings.Join(args.Streams, ","), err)
	}

	var messages []Message
	for _, stream := range result {
		for _, m := range stream.Messages {
			messages = append(messages, Message{
				Stream: stream.Stream,
				ID:     m.ID,
				Fields: stringFields(m.Values),
			})
		}
	}
	return messages, nil
}

// Ack acknowledges processed entries for a consumer group. Acknowledgment is
// per-entry, so a batch may be partially acknowledged on failure.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return wrapConnectivity("ack", stream, err)
	}
	return nil
}

// Reclaim hands entries that have been in-flight longer than IdleThreshold
// to the calling consumer, with their delivery counts.
func (c *Client) Reclaim(ctx context.Context, args ReclaimArgs) ([]Message, error) {
	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.IdleThreshold,
		Start:    "0-0",
		Count:    args.Count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrapConnectivity("reclaim", args.Stream, err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	deliveries := c.deliveryCounts(ctx, args.Stream, args.Group, int64(len(claimed)))

	messages := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		messages = append(messages, Message{
			Stream:        args.Stream,
			ID:            m.ID,
			Fields:        stringFields(m.Values),
			DeliveryCount: deliveries[m.ID],
		})
	}
	return messages, nil
}

// EnsureGroup creates the consumer group at the stream tail, creating the
// stream if needed. An already-existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return wrapConnectivity("ensure_group", stream, err)
	}
	return nil
}

// deliveryCounts fetches per-entry delivery counts from the pending entries
// list. Best effort: reclaim still succeeds if this lookup fails.
func (c *Client) deliveryCounts(ctx context.Context, stream, group string, count int64) map[string]int64 {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		zap.L().Debug("Failed to fetch pending delivery counts",
			zap.String("stream", stream),
			zap.Error(err))
		return nil
	}

	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts
}

func stringFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}

func wrapConnectivity(op, stream string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrConnectivity, op, stream, err)
}
