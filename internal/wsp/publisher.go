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

// Package wsp is the Wallet Service Provider side of the protocol: it
// earmarks collateral pledges and publishes credit, pledge, and settlement
// events to the append-only log. The WSP is authoritative for the Credit
// Inventory; the Exchange mirror only ever derives from what is published
// here.
package wsp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"openoes-go/internal/custodian"
	"openoes-go/internal/keyspace"
	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	appendRetries = 5
	appendBackoff = 2 * time.Second
)

// PublisherConfig contains configuration for Publisher.
type PublisherConfig struct {
	Log          streamlog.Log
	Store        store.MirrorStore
	Custodian    *custodian.Service // optional pre-pledge wallet check
	Portfolio    string
	RetryBackoff time.Duration
}

// Publisher appends protocol events to the event log on behalf of the WSP.
type Publisher struct {
	log          streamlog.Log
	store        store.MirrorStore
	custodian    *custodian.Service
	portfolioId  string
	retryBackoff time.Duration
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = appendBackoff
	}
	return &Publisher{
		log:          cfg.Log,
		store:        cfg.Store,
		custodian:    cfg.Custodian,
		portfolioId:  cfg.Portfolio,
		retryBackoff: backoff,
	}
}

// SubmitCreditRequestParams describes one credit-increase request.
type SubmitCreditRequestParams struct {
	UserId      string
	Asset       string
	Amount      decimal.Decimal
	CustodianId string
	Chain       string
	Address     string
}

// SubmitCreditRequest earmarks a collateral pledge covering the requested
// amount and publishes the pledge and the request to the log. The pledge
// event is appended first so every consumer sees collateral before the
// request it backs.
func (p *Publisher) SubmitCreditRequest(ctx context.Context, params SubmitCreditRequestParams) (requestId string, err error) {
	if !params.Amount.IsPositive() {
		return "", fmt.Errorf("credit request amount must be positive, got %s", params.Amount.String())
	}

	// Outstanding collateral must already cover the outstanding inventory;
	// the new pledge then covers the new request on top.
	active, err := p.store.ActivePledgeTotal(ctx, params.UserId, params.Asset)
	if err != nil {
		return "", fmt.Errorf("failed to check pledge coverage: %w", err)
	}
	mirrored, err := p.store.GetBalance(ctx, params.UserId, params.Asset)
	if err != nil {
		return "", fmt.Errorf("failed to read mirrored inventory: %w", err)
	}
	if active.LessThan(mirrored) {
		return "", fmt.Errorf("collateral shortfall for %s/%s: pledged %s covers less than outstanding %s",
			params.UserId, params.Asset, active.String(), mirrored.String())
	}

	custodianId := params.CustodianId
	if p.custodian != nil {
		wallet, err := p.custodian.VerifyCustodyWallet(ctx, p.portfolioId, params.Asset)
		if err != nil {
			return "", fmt.Errorf("custody wallet check failed: %w", err)
		}
		if custodianId == "" {
			custodianId = wallet.Id
		}
	}

	now := time.Now().UTC()
	pledgeId := uuid.New().String()
	requestId = uuid.New().String()

	pledgeEvent := models.PledgeCreatedEvent{
		PledgeId:    pledgeId,
		UserId:      params.UserId,
		Asset:       params.Asset,
		Amount:      params.Amount,
		CustodianId: custodianId,
		Chain:       params.Chain,
		Address:     params.Address,
		CreatedAt:   now,
	}
	if _, err := p.appendWithRetry(ctx, keyspace.PledgeStream, pledgeEvent.Fields()); err != nil {
		return "", fmt.Errorf("failed to publish pledge: %w", err)
	}

	requestEvent := models.CreditRequestCreatedEvent{
		RequestId:   requestId,
		UserId:      params.UserId,
		Asset:       params.Asset,
		Amount:      params.Amount,
		CustodianId: custodianId,
		Chain:       params.Chain,
		Address:     params.Address,
		CreatedAt:   now,
	}
	entryId, err := p.appendWithRetry(ctx, keyspace.CreditRequestStream, requestEvent.Fields())
	if err != nil {
		return "", fmt.Errorf("failed to publish credit request: %w", err)
	}

	zap.L().Info("Credit request published",
		zap.String("request_id", requestId),
		zap.String("pledge_id", pledgeId),
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("entry_id", entryId))
	return requestId, nil
}

// PublishDecision appends the Exchange's terminal decision on a request.
func (p *Publisher) PublishDecision(ctx context.Context, requestId, outcome, reason string) (string, error) {
	if outcome != models.DecisionAccepted && outcome != models.DecisionRejected {
		return "", fmt.Errorf("invalid decision outcome %q", outcome)
	}
	if outcome == models.DecisionRejected && reason == "" {
		return "", store.ErrRejectWithoutReason
	}

	event := models.CreditDecisionEvent{
		RequestId: requestId,
		Outcome:   outcome,
		Reason:    reason,
		DecidedAt: time.Now().UTC(),
	}
	entryId, err := p.appendWithRetry(ctx, keyspace.CreditDecisionStream, event.Fields())
	if err != nil {
		return "", fmt.Errorf("failed to publish decision: %w", err)
	}

	zap.L().Info("Credit decision published",
		zap.String("request_id", requestId),
		zap.String("outcome", outcome),
		zap.String("entry_id", entryId))
	return entryId, nil
}

// ReleasePledge publishes the release of earmarked collateral. The release
// is refused while it would leave outstanding inventory uncovered.
func (p *Publisher) ReleasePledge(ctx context.Context, pledgeId string) (string, error) {
	pledge, err := p.store.GetPledge(ctx, pledgeId)
	if err != nil {
		return "", err
	}
	if pledge.Status != models.PledgeStatusActive {
		return "", fmt.Errorf("pledge %s is %s, nothing to release", pledgeId, pledge.Status)
	}

	active, err := p.store.ActivePledgeTotal(ctx, pledge.UserId, pledge.Asset)
	if err != nil {
		return "", fmt.Errorf("failed to check pledge coverage: %w", err)
	}
	mirrored, err := p.store.GetBalance(ctx, pledge.UserId, pledge.Asset)
	if err != nil {
		return "", fmt.Errorf("failed to read mirrored inventory: %w", err)
	}
	if active.Sub(pledge.Amount).LessThan(mirrored) {
		return "", fmt.Errorf("releasing pledge %s would leave %s/%s undercollateralized: %s pledged after release, %s outstanding",
			pledgeId, pledge.UserId, pledge.Asset, active.Sub(pledge.Amount).String(), mirrored.String())
	}

	event := models.PledgeReleasedEvent{
		PledgeId:   pledgeId,
		ReleasedAt: time.Now().UTC(),
	}
	entryId, err := p.appendWithRetry(ctx, keyspace.PledgeStream, event.Fields())
	if err != nil {
		return "", fmt.Errorf("failed to publish pledge release: %w", err)
	}

	zap.L().Info("Pledge release published",
		zap.String("pledge_id", pledgeId),
		zap.String("entry_id", entryId))
	return entryId, nil
}

// EmitSettlement publishes the WSP's authoritative custody figure for one
// (user, asset).
func (p *Publisher) EmitSettlement(ctx context.Context, userId, asset string, reported decimal.Decimal) (string, error) {
	if reported.IsNegative() {
		return "", fmt.Errorf("reported balance cannot be negative, got %s", reported.String())
	}

	event := models.SettlementEvent{
		UserId:          userId,
		Asset:           asset,
		ReportedBalance: reported,
		ReportedAt:      time.Now().UTC(),
	}
	entryId, err := p.appendWithRetry(ctx, keyspace.SettlementStream, event.Fields())
	if err != nil {
		return "", fmt.Errorf("failed to publish settlement: %w", err)
	}

	zap.L().Info("Settlement published",
		zap.String("user_id", userId),
		zap.String("asset", asset),
		zap.String("reported_balance", reported.String()),
		zap.String("entry_id", entryId))
	return entryId, nil
}

// appendWithRetry retries transient connectivity failures with backoff.
// Publishing is not idempotent at the log level, so only connectivity
// errors are retried; anything else surfaces immediately.
func (p *Publisher) appendWithRetry(ctx context.Context, stream string, fields map[string]string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			zap.L().Warn("Retrying event append",
				zap.String("stream", stream),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-time.After(p.retryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		entryId, err := p.log.Append(ctx, stream, fields)
		if err == nil {
			return entryId, nil
		}
		if !errors.Is(err, streamlog.ErrConnectivity) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("append to %s failed after %d attempts: %w", stream, appendRetries, lastErr)
}
