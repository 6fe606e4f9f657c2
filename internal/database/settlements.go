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
	"openoes-go/internal/streamlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordSettlement upserts the latest WSP-reported custody figure for one
// (user, asset). Replayed or stale entries (by entry id) are no-ops.
func (s *Service) RecordSettlement(ctx context.Context, observation models.SettlementObservation) error {
	if observation.ReportedBalance.IsNegative() {
		return fmt.Errorf("reported balance cannot be negative, got %s for %s/%s",
			observation.ReportedBalance.String(), observation.UserId, observation.Asset)
	}

	var existingEntry string
	err := s.db.QueryRowContext(ctx, queryGetSettlementEntry,
		observation.UserId, observation.Asset).Scan(&existingEntry)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read settlement observation: %w", err)
	}
	if err == nil && streamlog.CompareEntryIDs(observation.EntryId, existingEntry) <= 0 {
		zap.L().Debug("Settlement observation already recorded, skipping replay",
			zap.String("user_id", observation.UserId),
			zap.String("asset", observation.Asset),
			zap.String("entry_id", observation.EntryId))
		return nil
	}

	reportedAt := observation.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, queryUpsertSettlement,
		observation.UserId, observation.Asset, observation.ReportedBalance.String(),
		observation.StreamKey, observation.EntryId, reportedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement observation: %w", err)
	}

	zap.L().Debug("Settlement observation recorded",
		zap.String("user_id", observation.UserId),
		zap.String("asset", observation.Asset),
		zap.String("reported_balance", observation.ReportedBalance.String()))
	return nil
}

// ReconciliationSnapshot reads every observed (user, asset) together with
// its mirrored balance and the last reported delta in a single transaction,
// so the reconciler never sees a torn view of a concurrent apply.
func (s *Service) ReconciliationSnapshot(ctx context.Context) ([]models.ReconciliationRow, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, queryReconciliationSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation snapshot: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var snapshot []models.ReconciliationRow
	for rows.Next() {
		var row models.ReconciliationRow
		var reportedStr, mirroredStr, lastDeltaStr string
		if err := rows.Scan(&row.UserId, &row.Asset, &reportedStr, &row.SourceEntryId,
			&mirroredStr, &lastDeltaStr, &row.HasLastReported); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if row.ReportedBalance, err = decimal.NewFromString(reportedStr); err != nil {
			return nil, fmt.Errorf("failed to parse reported balance %q: %w", reportedStr, err)
		}
		if row.MirroredBalance, err = decimal.NewFromString(mirroredStr); err != nil {
			return nil, fmt.Errorf("failed to parse mirrored balance %q: %w", mirroredStr, err)
		}
		if row.HasLastReported {
			if row.LastReported, err = decimal.NewFromString(lastDeltaStr); err != nil {
				return nil, fmt.Errorf("failed to parse last delta %q: %w", lastDeltaStr, err)
			}
		}
		snapshot = append(snapshot, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return snapshot, nil
}

// SaveSettlementReports appends the reports and advances the last-reported
// delta per (user, asset) in one transaction. A zero-amount report marks a
// resolved discrepancy: it resets the last-reported state without appending
// a report row.
func (s *Service) SaveSettlementReports(ctx context.Context, reports []models.SettlementReport) error {
	if len(reports) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	appended := 0
	for _, report := range reports {
		if !report.Amount.IsZero() {
			id := report.Id
			if id == "" {
				id = uuid.New().String()
			}
			generatedAt := report.GeneratedAt
			if generatedAt.IsZero() {
				generatedAt = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, queryInsertSettlementReport,
				id, report.UserId, report.Asset, report.Amount.String(),
				report.SourceEventId, generatedAt); err != nil {
				return fmt.Errorf("failed to insert settlement report: %w", err)
			}
			appended++
		}
		if _, err := tx.ExecContext(ctx, queryUpsertReconciliationState,
			report.UserId, report.Asset, report.Amount.String()); err != nil {
			return fmt.Errorf("failed to update reconciliation state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement reports: %w", err)
	}

	if appended > 0 {
		zap.L().Info("Settlement reports saved", zap.Int("count", appended))
	}
	return nil
}

// ListSettlementReports returns the most recent reports.
func (s *Service) ListSettlementReports(ctx context.Context, limit int) ([]models.SettlementReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, queryListSettlementReports, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement reports: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}()

	var reports []models.SettlementReport
	for rows.Next() {
		var report models.SettlementReport
		var amountStr string
		if err := rows.Scan(&report.Id, &report.UserId, &report.Asset, &amountStr,
			&report.SourceEventId, &report.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement report: %w", err)
		}
		if report.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse report amount %q: %w", amountStr, err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report rows: %w", err)
	}
	return reports, nil
}
