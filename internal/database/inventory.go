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
	"errors"
	"fmt"
	"strings"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Retries for the optimistic version check. Concurrent deltas to the same
// (user, asset) serialize through this loop; different pairs never contend.
const maxVersionRetries = 5

// ApplyDelta applies one inventory delta idempotently and returns the new
// balance. A delta whose source entry was already applied returns
// ErrDuplicateApplication with the current balance; a delta that would
// drive the balance negative returns ErrInvariantViolation and changes
// nothing.
func (s *Service) ApplyDelta(ctx context.Context, params store.ApplyDeltaParams) (decimal.Decimal, error) {
	zap.L().Debug("Applying inventory delta",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("delta", params.Delta.String()),
		zap.String("source_entry_id", params.SourceEntryId))

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		balance, err := s.applyDeltaOnce(ctx, params)
		if errors.Is(err, store.ErrConcurrentModification) {
			continue
		}
		return balance, err
	}
	return decimal.Zero, fmt.Errorf("apply delta for %s/%s: %w",
		params.UserId, params.Asset, store.ErrConcurrentModification)
}

func (s *Service) applyDeltaOnce(ctx context.Context, params store.ApplyDeltaParams) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := applyDeltaTx(ctx, tx, params)
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// applyDeltaTx runs the idempotent apply inside an existing transaction so
// decision handling can credit the ledger in the same atomic step as the
// request transition.
func applyDeltaTx(ctx context.Context, tx *sql.Tx, params store.ApplyDeltaParams) (decimal.Decimal, error) {
	if params.SourceEntryId == "" || params.StreamKey == "" {
		return decimal.Zero, fmt.Errorf("delta requires stream key and source entry id")
	}

	// Idempotency cursor: highest applied entry per (user, asset, stream).
	var lastApplied string
	err := tx.QueryRowContext(ctx, queryGetCursor, params.UserId, params.Asset, params.StreamKey).Scan(&lastApplied)
	if err != nil && err != sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("failed to read idempotency cursor: %w", err)
	}
	if err == nil && streamlog.CompareEntryIDs(params.SourceEntryId, lastApplied) <= 0 {
		current, err := currentBalanceTx(ctx, tx, params.UserId, params.Asset)
		if err != nil {
			return decimal.Zero, err
		}
		return current, fmt.Errorf("%w: entry %s already applied for %s/%s on %s",
			store.ErrDuplicateApplication, params.SourceEntryId, params.UserId, params.Asset, params.StreamKey)
	}

	var balanceId, balanceStr string
	var version int64
	err = tx.QueryRowContext(ctx, queryGetInventoryBalance, params.UserId, params.Asset).
		Scan(&balanceId, &balanceStr, &version)

	var balance decimal.Decimal
	if err == sql.ErrNoRows {
		balanceId = uuid.New().String()
		balance = decimal.Zero
		version = 1
		if _, err := tx.ExecContext(ctx, queryInsertInventoryBalance,
			balanceId, params.UserId, params.Asset, "0", 1); err != nil {
			return decimal.Zero, fmt.Errorf("failed to create inventory balance: %w", err)
		}
	} else if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get inventory balance: %w", err)
	} else {
		balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
		}
	}

	newBalance := balance.Add(params.Delta)
	if newBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: delta %s would take %s/%s from %s to %s",
			store.ErrInvariantViolation, params.Delta.String(), params.UserId, params.Asset,
			balance.String(), newBalance.String())
	}

	// The unique (stream, source entry) index backstops the cursor against
	// replays interleaved across (user, asset) pairs.
	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		uuid.New().String(), params.UserId, params.Asset, params.EntryType,
		params.Delta.String(), balance.String(), newBalance.String(),
		params.StreamKey, params.SourceEntryId, params.Reference, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return balance, fmt.Errorf("%w: ledger entry for %s on %s already recorded",
				store.ErrDuplicateApplication, params.SourceEntryId, params.StreamKey)
		}
		return decimal.Zero, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateInventoryBalance,
		newBalance.String(), params.SourceEntryId, params.UserId, params.Asset, version)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update inventory balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return decimal.Zero, fmt.Errorf("inventory update failed - %w", store.ErrConcurrentModification)
	}

	if _, err := tx.ExecContext(ctx, queryUpsertCursor,
		params.UserId, params.Asset, params.StreamKey, params.SourceEntryId); err != nil {
		return decimal.Zero, fmt.Errorf("failed to advance idempotency cursor: %w", err)
	}

	return newBalance, nil
}

func currentBalanceTx(ctx context.Context, tx *sql.Tx, userId, asset string) (decimal.Decimal, error) {
	var balanceStr string
	err := tx.QueryRowContext(ctx, queryGetBalanceOnly, userId, asset).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return decimal.NewFromString(balanceStr)
}

// GetBalance returns the mirrored Credit Inventory for one (user, asset),
// zero if no deltas have been applied.
func (s *Service) GetBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalanceOnly, userId, asset).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return decimal.NewFromString(balanceStr)
}

// ListBalances returns all mirrored balances for a user.
func (s *Service) ListBalances(ctx context.Context, userId string) ([]models.InventoryBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryListBalances, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var balances []models.InventoryBalance
	for rows.Next() {
		var b models.InventoryBalance
		var balanceStr string
		if err := rows.Scan(&b.Id, &b.UserId, &b.Asset, &balanceStr, &b.Version, &b.LastEntryId, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
