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
	"errors"
	"fmt"

	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"go.uber.org/zap"
)

// processBatch dispatches delivered entries in log order, acknowledging each
// one independently so a failing entry never blocks acknowledgment of the
// entries already applied before it.
func (c *MirrorConsumer) processBatch(ctx context.Context, messages []streamlog.Message) {
	for _, msg := range messages {
		ack := c.processMessage(ctx, msg)
		if !ack {
			continue
		}
		if err := c.log.Ack(ctx, msg.Stream, c.group, msg.ID); err != nil {
			// The entry will be redelivered and re-applied as a no-op.
			zap.L().Warn("Failed to acknowledge entry",
				zap.String("stream", msg.Stream),
				zap.String("entry_id", msg.ID),
				zap.Error(err))
		}
	}
}

// processMessage applies one entry and reports whether to acknowledge it.
// The acknowledgment policy is the error contract of the mirror:
//
//   - applied, or a replay of something already applied: acknowledge
//   - malformed or unrecognized payloads: acknowledge and report, since
//     redelivery cannot fix the payload
//   - invariant violations: do NOT acknowledge; the entry stays pending
//     where operators can inspect it
//   - transient store or log failures: do NOT acknowledge; redelivery retries
func (c *MirrorConsumer) processMessage(ctx context.Context, msg streamlog.Message) bool {
	event, err := models.DecodeEvent(msg.Fields)
	if err != nil {
		zap.L().Warn("Dropping malformed entry",
			zap.String("stream", msg.Stream),
			zap.String("entry_id", msg.ID),
			zap.Int64("delivery_count", msg.DeliveryCount),
			zap.Error(err))
		return true
	}

	switch ev := event.(type) {
	case models.CreditRequestCreatedEvent:
		return c.handleRequestCreated(ctx, msg, ev)
	case models.CreditDecisionEvent:
		return c.handleDecision(ctx, msg, ev)
	case models.PledgeCreatedEvent:
		return c.handlePledgeCreated(ctx, msg, ev)
	case models.PledgeReleasedEvent:
		return c.handlePledgeReleased(ctx, msg, ev)
	case models.SettlementEvent:
		return c.handleSettlement(ctx, msg, ev)
	case models.UnknownEvent:
		zap.L().Info("Skipping unrecognized event type",
			zap.String("stream", msg.Stream),
			zap.String("entry_id", msg.ID),
			zap.String("type", ev.RawType))
		return true
	default:
		zap.L().Error("Unhandled event variant",
			zap.String("type", string(event.EventType())))
		return true
	}
}

func (c *MirrorConsumer) handleRequestCreated(ctx context.Context, msg streamlog.Message, ev models.CreditRequestCreatedEvent) bool {
	err := c.store.CreateRequest(ctx, models.CreditRequest{
		RequestId:   ev.RequestId,
		UserId:      ev.UserId,
		Asset:       ev.Asset,
		Amount:      ev.Amount,
		CustodianId: ev.CustodianId,
		Chain:       ev.Chain,
		Address:     ev.Address,
		CreatedAt:   ev.CreatedAt,
	})
	if err != nil {
		zap.L().Error("Failed to record credit request, will retry",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (c *MirrorConsumer) handleDecision(ctx context.Context, msg streamlog.Message, ev models.CreditDecisionEvent) bool {
	request, err := c.store.ApplyDecision(ctx, store.DecisionParams{
		RequestId:     ev.RequestId,
		Outcome:       ev.Outcome,
		Reason:        ev.Reason,
		StreamKey:     msg.Stream,
		SourceEntryId: msg.ID,
		DecidedAt:     ev.DecidedAt,
	})

	switch {
	case err == nil:
		if ev.Outcome == models.DecisionAccepted && request != nil {
			c.teeAcceptedCredit(ctx, msg, request)
		}
		return true

	case errors.Is(err, store.ErrRequestNotFound):
		// A decision the mirror has no request for. The creation event may
		// have been lost upstream; the decision itself carries no amount,
		// so there is nothing safe to apply.
		zap.L().Warn("Decision references unknown request, skipping",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID))
		return true

	case errors.Is(err, store.ErrRequestDecided):
		zap.L().Debug("Decision already applied, skipping replay",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID))
		return true

	case errors.Is(err, store.ErrDuplicateApplication):
		zap.L().Debug("Decision credit already applied, skipping replay",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID))
		return true

	case errors.Is(err, store.ErrRejectWithoutReason):
		zap.L().Warn("Dropping rejection without reason",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID))
		return true

	case errors.Is(err, store.ErrInvariantViolation):
		zap.L().Error("LEDGER INVARIANT VIOLATION: entry left pending for inspection",
			zap.String("request_id", ev.RequestId),
			zap.String("stream", msg.Stream),
			zap.String("entry_id", msg.ID),
			zap.Int64("delivery_count", msg.DeliveryCount),
			zap.Error(err))
		return false

	default:
		zap.L().Error("Failed to apply decision, will retry",
			zap.String("request_id", ev.RequestId),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
		return false
	}
}

// teeAcceptedCredit mirrors an accepted credit into the optional downstream
// accounting ledger. Best effort: the SQLite mirror already committed, and
// the ledger posting is idempotent on the same (stream, entry) reference,
// so a failure here is reported but never blocks acknowledgment.
func (c *MirrorConsumer) teeAcceptedCredit(ctx context.Context, msg streamlog.Message, request *models.CreditRequest) {
	if c.accounting == nil {
		return
	}

	_, err := c.accounting.ApplyDelta(ctx, store.ApplyDeltaParams{
		UserId:        request.UserId,
		Asset:         request.Asset,
		Delta:         request.Amount,
		StreamKey:     msg.Stream,
		SourceEntryId: msg.ID,
		EntryType:     "credit",
		Reference:     fmt.Sprintf("credit request %s accepted", request.RequestId),
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateApplication) {
		zap.L().Warn("Failed to tee credit into accounting ledger",
			zap.String("request_id", request.RequestId),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
	}
}

func (c *MirrorConsumer) handlePledgeCreated(ctx context.Context, msg streamlog.Message, ev models.PledgeCreatedEvent) bool {
	err := c.store.RecordPledge(ctx, models.Pledge{
		PledgeId:    ev.PledgeId,
		UserId:      ev.UserId,
		Asset:       ev.Asset,
		Amount:      ev.Amount,
		CustodianId: ev.CustodianId,
		Chain:       ev.Chain,
		Address:     ev.Address,
		CreatedAt:   ev.CreatedAt,
	})
	if err != nil {
		zap.L().Error("Failed to record pledge, will retry",
			zap.String("pledge_id", ev.PledgeId),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (c *MirrorConsumer) handlePledgeReleased(ctx context.Context, msg streamlog.Message, ev models.PledgeReleasedEvent) bool {
	err := c.store.ReleasePledge(ctx, ev.PledgeId, ev.ReleasedAt)
	if err != nil {
		if errors.Is(err, store.ErrPledgeNotFound) {
			// Pledge streams are ordered, so an unknown pledge here means the
			// creation event never reached the log. Nothing to release.
			zap.L().Warn("Release references unknown pledge, skipping",
				zap.String("pledge_id", ev.PledgeId),
				zap.String("entry_id", msg.ID))
			return true
		}
		zap.L().Error("Failed to release pledge, will retry",
			zap.String("pledge_id", ev.PledgeId),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (c *MirrorConsumer) handleSettlement(ctx context.Context, msg streamlog.Message, ev models.SettlementEvent) bool {
	err := c.store.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          ev.UserId,
		Asset:           ev.Asset,
		ReportedBalance: ev.ReportedBalance,
		StreamKey:       msg.Stream,
		EntryId:         msg.ID,
		ReportedAt:      ev.ReportedAt,
	})
	if err != nil {
		zap.L().Error("Failed to record settlement observation, will retry",
			zap.String("user_id", ev.UserId),
			zap.String("asset", ev.Asset),
			zap.String("entry_id", msg.ID),
			zap.Error(err))
		return false
	}
	return true
}
