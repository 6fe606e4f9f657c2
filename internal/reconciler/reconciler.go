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

// Package reconciler compares the mirrored Credit Inventory against the
// WSP-reported custody figures and emits settlement reports for any
// discrepancy. Reports are derived data: reconciliation never mutates the
// mirror itself.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	"go.uber.org/zap"
)

// Reconciler periodically snapshots the mirror and reports balance deltas.
type Reconciler struct {
	store    store.SettlementStore
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(settlements store.SettlementStore, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:    settlements,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) {
	zap.L().Info("Starting settlement reconciler", zap.Duration("interval", r.interval))
	go r.runLoop(ctx)
}

// Stop gracefully stops the reconciler.
func (r *Reconciler) Stop() {
	zap.L().Info("Stopping settlement reconciler")
	close(r.stopChan)
	<-r.doneChan
	zap.L().Info("Settlement reconciler stopped")
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.RunOnce(ctx); err != nil {
		zap.L().Error("Reconciliation pass failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				zap.L().Error("Reconciliation pass failed", zap.Error(err))
			}
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce takes one consistent snapshot and persists a report for every
// (user, asset) whose delta is non-zero and differs from the last reported
// delta. A delta that returns to zero resets the suppression state so a
// later recurrence is reported again.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	snapshot, err := r.store.ReconciliationSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot mirror: %w", err)
	}

	now := time.Now().UTC()
	var reports []models.SettlementReport
	for _, row := range snapshot {
		delta := row.ReportedBalance.Sub(row.MirroredBalance)

		if row.HasLastReported && delta.Equal(row.LastReported) {
			continue
		}
		if delta.IsZero() && !row.HasLastReported {
			continue
		}

		if !delta.IsZero() {
			zap.L().Warn("Settlement discrepancy detected",
				zap.String("user_id", row.UserId),
				zap.String("asset", row.Asset),
				zap.String("mirrored", row.MirroredBalance.String()),
				zap.String("reported", row.ReportedBalance.String()),
				zap.String("delta", delta.String()),
				zap.String("source_entry_id", row.SourceEntryId))
		} else {
			zap.L().Info("Settlement discrepancy resolved",
				zap.String("user_id", row.UserId),
				zap.String("asset", row.Asset))
		}

		reports = append(reports, models.SettlementReport{
			UserId:        row.UserId,
			Asset:         row.Asset,
			Amount:        delta,
			SourceEventId: row.SourceEntryId,
			GeneratedAt:   now,
		})
	}

	if len(reports) == 0 {
		zap.L().Debug("Reconciliation pass clean", zap.Int("pairs", len(snapshot)))
		return nil
	}

	if err := r.store.SaveSettlementReports(ctx, reports); err != nil {
		return fmt.Errorf("failed to save settlement reports: %w", err)
	}
	return nil
}
