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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateRequest records a new pending credit request. Replays of the
// creation event hit the primary key and are silently ignored.
func (s *Service) CreateRequest(ctx context.Context, request models.CreditRequest) error {
	if request.RequestId == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	if !request.Amount.IsPositive() {
		return fmt.Errorf("request amount must be positive, got %s", request.Amount.String())
	}

	createdAt := request.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, queryInsertRequest,
		request.RequestId, request.UserId, request.Asset, request.Amount.String(),
		request.CustodianId, request.Chain, request.Address,
		models.RequestStatusPending, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		zap.L().Debug("Credit request already recorded, skipping replay",
			zap.String("request_id", request.RequestId))
		return nil
	}

	zap.L().Info("Credit request recorded",
		zap.String("request_id", request.RequestId),
		zap.String("user_id", request.UserId),
		zap.String("asset", request.Asset),
		zap.String("amount", request.Amount.String()))
	return nil
}

// ApplyDecision transitions a pending request to accepted or rejected.
// Acceptance applies the inventory credit in the same database transaction,
// so no reader can observe accepted-without-credited or vice versa.
// Decisions referencing unknown request ids return ErrRequestNotFound;
// already-decided requests return ErrRequestDecided. Both leave the ledger
// untouched.
func (s *Service) ApplyDecision(ctx context.Context, params store.DecisionParams) (*models.CreditRequest, error) {
	if params.Outcome != models.DecisionAccepted && params.Outcome != models.DecisionRejected {
		return nil, fmt.Errorf("invalid decision outcome %q", params.Outcome)
	}
	if params.Outcome == models.DecisionRejected && params.Reason == "" {
		return nil, store.ErrRejectWithoutReason
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	request, err := scanRequest(tx.QueryRowContext(ctx, queryGetRequest, params.RequestId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrRequestNotFound, params.RequestId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credit request: %w", err)
	}
	if request.Status != models.RequestStatusPending {
		return request, fmt.Errorf("%w: %s is %s", store.ErrRequestDecided, params.RequestId, request.Status)
	}

	decidedAt := params.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}

	if params.Outcome == models.DecisionAccepted {
		newBalance, err := applyDeltaTx(ctx, tx, store.ApplyDeltaParams{
			UserId:        request.UserId,
			Asset:         request.Asset,
			Delta:         request.Amount,
			StreamKey:     params.StreamKey,
			SourceEntryId: params.SourceEntryId,
			EntryType:     "credit",
			Reference:     fmt.Sprintf("credit request %s accepted", request.RequestId),
		})
		if err != nil {
			// A duplicate here means the credit landed but the request row
			// did not; the cursor and the state machine disagree. Surface
			// it rather than guessing.
			return nil, err
		}
		zap.L().Info("Credit applied for accepted request",
			zap.String("request_id", request.RequestId),
			zap.String("user_id", request.UserId),
			zap.String("asset", request.Asset),
			zap.String("new_balance", newBalance.String()))
	}

	result, err := tx.ExecContext(ctx, queryDecideRequest,
		statusForOutcome(params.Outcome), params.Reason, decidedAt, params.RequestId)
	if err != nil {
		return nil, fmt.Errorf("failed to update credit request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s decided concurrently", store.ErrRequestDecided, params.RequestId)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}

	request.Status = statusForOutcome(params.Outcome)
	request.RejectReason = params.Reason
	request.DecidedAt = decidedAt

	zap.L().Info("Credit request decided",
		zap.String("request_id", request.RequestId),
		zap.String("status", request.Status))
	return request, nil
}

// GetRequest loads one request by id.
func (s *Service) GetRequest(ctx context.Context, requestId string) (*models.CreditRequest, error) {
	request, err := scanRequest(s.db.QueryRowContext(ctx, queryGetRequest, requestId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrRequestNotFound, requestId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credit request: %w", err)
	}
	return request, nil
}

// ListPendingOlderThan returns pending requests created before cutoff, in
// creation order. Used by the abandoned-request scan; the core never
// auto-rejects these.
func (s *Service) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.CreditRequest, error) {
	rows, err := s.db.QueryContext(ctx, queryListPendingOlderThan, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var requests []models.CreditRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request rows: %w", err)
	}
	return requests, nil
}

func statusForOutcome(outcome string) string {
	if outcome == models.DecisionAccepted {
		return models.RequestStatusAccepted
	}
	return models.RequestStatusRejected
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.CreditRequest, error) {
	var request models.CreditRequest
	var amountStr string
	var decidedAt sql.NullTime
	err := row.Scan(&request.RequestId, &request.UserId, &request.Asset, &amountStr,
		&request.CustodianId, &request.Chain, &request.Address,
		&request.Status, &request.RejectReason, &request.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	request.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
	}
	if decidedAt.Valid {
		request.DecidedAt = decidedAt.Time
	}
	return &request, nil
}
