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

// RecordPledge records earmarked collateral. Replays of the pledge event
// hit the primary key and are ignored.
func (s *Service) RecordPledge(ctx context.Context, pledge models.Pledge) error {
	if pledge.PledgeId == "" {
		return fmt.Errorf("pledge id cannot be empty")
	}
	if !pledge.Amount.IsPositive() {
		return fmt.Errorf("pledge amount must be positive, got %s", pledge.Amount.String())
	}

	createdAt := pledge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, queryInsertPledge,
		pledge.PledgeId, pledge.UserId, pledge.Asset, pledge.Amount.String(),
		pledge.CustodianId, pledge.Chain, pledge.Address,
		models.PledgeStatusActive, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert pledge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		zap.L().Debug("Pledge already recorded, skipping replay",
			zap.String("pledge_id", pledge.PledgeId))
		return nil
	}

	zap.L().Info("Pledge recorded",
		zap.String("pledge_id", pledge.PledgeId),
		zap.String("user_id", pledge.UserId),
		zap.String("asset", pledge.Asset),
		zap.String("amount", pledge.Amount.String()))
	return nil
}

// ReleasePledge marks a pledge released. Releasing an already-released
// pledge is a no-op (replay); releasing an unknown pledge is an error.
func (s *Service) ReleasePledge(ctx context.Context, pledgeId string, releasedAt time.Time) error {
	if releasedAt.IsZero() {
		releasedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, queryReleasePledge, releasedAt, pledgeId)
	if err != nil {
		return fmt.Errorf("failed to release pledge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM pledges WHERE pledge_id = ?`, pledgeId).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", store.ErrPledgeNotFound, pledgeId)
		}
		if err != nil {
			return fmt.Errorf("failed to check pledge status: %w", err)
		}
		zap.L().Debug("Pledge already released, skipping replay",
			zap.String("pledge_id", pledgeId))
		return nil
	}

	zap.L().Info("Pledge released", zap.String("pledge_id", pledgeId))
	return nil
}

// GetPledge loads one pledge by id.
func (s *Service) GetPledge(ctx context.Context, pledgeId string) (*models.Pledge, error) {
	var pledge models.Pledge
	var amountStr string
	var releasedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetPledge, pledgeId).Scan(
		&pledge.PledgeId, &pledge.UserId, &pledge.Asset, &amountStr,
		&pledge.CustodianId, &pledge.Chain, &pledge.Address,
		&pledge.Status, &pledge.CreatedAt, &releasedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrPledgeNotFound, pledgeId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pledge: %w", err)
	}
	pledge.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amountStr, err)
	}
	if releasedAt.Valid {
		pledge.ReleasedAt = releasedAt.Time
	}
	return &pledge, nil
}

// ActivePledgeTotal sums active pledge amounts for one (user, asset). The
// WSP keeps this at or above the mirrored inventory balance; amounts are
// summed as decimals, never as floats.
func (s *Service) ActivePledgeTotal(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryActivePledgeAmounts, userId, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query active pledges: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan pledge amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse pledge amount %q: %w", amountStr, err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating pledge rows: %w", err)
	}
	return total, nil
}
