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

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.MirrorStore.
var _ store.MirrorStore = (*Service)(nil)

// Service is the SQLite-backed Exchange-side mirror store: credit inventory
// ledger, credit-request state machine, pledge tracker, and settlement
// observations/reports in one database so accept+credit can be one
// transaction.
type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite mirror database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Mirror database initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Mirrored Credit Inventory (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS credit_inventory (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		last_entry_id TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, asset)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_inventory_user_asset ON credit_inventory(user_id, asset);

	-- Highest applied source entry per (user, asset, stream); the
	-- idempotency cursor that makes at-least-once delivery safe to apply.
	CREATE TABLE IF NOT EXISTS inventory_cursors (
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		stream_key TEXT NOT NULL,
		last_entry_id TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, asset, stream_key)
	);

	-- Ledger Entries (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		stream_key TEXT NOT NULL,
		source_entry_id TEXT NOT NULL,
		reference TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_source ON ledger_entries(stream_key, source_entry_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_asset ON ledger_entries(user_id, asset);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_created_at ON ledger_entries(created_at);

	-- Credit request state machine: pending -> accepted | rejected
	CREATE TABLE IF NOT EXISTS credit_requests (
		request_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		custodian_id TEXT,
		chain TEXT,
		address TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status_created ON credit_requests(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_user_asset ON credit_requests(user_id, asset);

	-- Custodied collateral pledges backing outstanding credit
	CREATE TABLE IF NOT EXISTS pledges (
		pledge_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		custodian_id TEXT,
		chain TEXT,
		address TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		released_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pledges_user_asset_status ON pledges(user_id, asset, status);

	-- Latest WSP-reported custody figure per (user, asset)
	CREATE TABLE IF NOT EXISTS settlement_observations (
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		reported_balance TEXT NOT NULL,
		stream_key TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		reported_at TIMESTAMP NOT NULL,
		UNIQUE(user_id, asset)
	);

	-- Derived discrepancy reports; append-only
	CREATE TABLE IF NOT EXISTS settlement_reports (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_event_id TEXT NOT NULL,
		generated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON settlement_reports(generated_at);

	-- Last reported delta per (user, asset); suppresses repeat reports for
	-- an unchanged discrepancy
	CREATE TABLE IF NOT EXISTS reconciliation_state (
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		last_delta TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, asset)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
