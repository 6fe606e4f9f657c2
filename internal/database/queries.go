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

const (
	// Inventory queries
	queryGetInventoryBalance = `
		SELECT id, balance, version
		FROM credit_inventory
		WHERE user_id = ? AND asset = ?`

	queryInsertInventoryBalance = `
		INSERT INTO credit_inventory (id, user_id, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryUpdateInventoryBalance = `
		UPDATE credit_inventory
		SET balance = ?, last_entry_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND asset = ? AND version = ?`

	queryGetBalanceOnly = `
		SELECT balance
		FROM credit_inventory
		WHERE user_id = ? AND asset = ?`

	queryListBalances = `
		SELECT id, user_id, asset, balance, version, COALESCE(last_entry_id, ''), updated_at
		FROM credit_inventory
		WHERE user_id = ?
		ORDER BY asset`

	queryGetCursor = `
		SELECT last_entry_id
		FROM inventory_cursors
		WHERE user_id = ? AND asset = ? AND stream_key = ?`

	queryUpsertCursor = `
		INSERT INTO inventory_cursors (user_id, asset, stream_key, last_entry_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, asset, stream_key)
		DO UPDATE SET last_entry_id = excluded.last_entry_id, updated_at = CURRENT_TIMESTAMP`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, user_id, asset, entry_type, delta, balance_before, balance_after,
			stream_key, source_entry_id, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Credit request queries
	queryInsertRequest = `
		INSERT OR IGNORE INTO credit_requests (
			request_id, user_id, asset, amount, custodian_id, chain, address,
			status, reject_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?)`

	queryGetRequest = `
		SELECT request_id, user_id, asset, amount, custodian_id, chain, address,
		       status, reject_reason, created_at, decided_at
		FROM credit_requests
		WHERE request_id = ?`

	queryDecideRequest = `
		UPDATE credit_requests
		SET status = ?, reject_reason = ?, decided_at = ?
		WHERE request_id = ? AND status = 'pending'`

	queryListPendingOlderThan = `
		SELECT request_id, user_id, asset, amount, custodian_id, chain, address,
		       status, reject_reason, created_at, decided_at
		FROM credit_requests
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at`

	// Pledge queries
	queryInsertPledge = `
		INSERT OR IGNORE INTO pledges (
			pledge_id, user_id, asset, amount, custodian_id, chain, address,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetPledge = `
		SELECT pledge_id, user_id, asset, amount, custodian_id, chain, address,
		       status, created_at, released_at
		FROM pledges
		WHERE pledge_id = ?`

	queryReleasePledge = `
		UPDATE pledges
		SET status = 'released', released_at = ?
		WHERE pledge_id = ? AND status = 'active'`

	queryActivePledgeAmounts = `
		SELECT amount
		FROM pledges
		WHERE user_id = ? AND asset = ? AND status = 'active'`

	// Settlement queries
	queryGetSettlementEntry = `
		SELECT entry_id
		FROM settlement_observations
		WHERE user_id = ? AND asset = ?`

	queryUpsertSettlement = `
		INSERT INTO settlement_observations (user_id, asset, reported_balance, stream_key, entry_id, reported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, asset)
		DO UPDATE SET reported_balance = excluded.reported_balance,
		              stream_key = excluded.stream_key,
		              entry_id = excluded.entry_id,
		              reported_at = excluded.reported_at`

	queryReconciliationSnapshot = `
		SELECT o.user_id, o.asset, o.reported_balance, o.entry_id,
		       COALESCE(i.balance, '0'),
		       COALESCE(r.last_delta, ''),
		       r.user_id IS NOT NULL
		FROM settlement_observations o
		LEFT JOIN credit_inventory i ON i.user_id = o.user_id AND i.asset = o.asset
		LEFT JOIN reconciliation_state r ON r.user_id = o.user_id AND r.asset = o.asset
		ORDER BY o.user_id, o.asset`

	queryInsertSettlementReport = `
		INSERT INTO settlement_reports (id, user_id, asset, amount, source_event_id, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryUpsertReconciliationState = `
		INSERT INTO reconciliation_state (user_id, asset, last_delta)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, asset)
		DO UPDATE SET last_delta = excluded.last_delta, updated_at = CURRENT_TIMESTAMP`

	queryListSettlementReports = `
		SELECT id, user_id, asset, amount, source_event_id, generated_at
		FROM settlement_reports
		ORDER BY generated_at DESC
		LIMIT ?`
)
