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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credit request status values. A request is born pending and is immutable
// once decided.
const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
)

// Pledge status values.
const (
	PledgeStatusActive   = "active"
	PledgeStatusReleased = "released"
)

// CreditRequest represents one credit-increase request from the WSP.
// RejectReason is set iff Status is rejected; DecidedAt is zero while pending.
type CreditRequest struct {
	RequestId    string          `db:"request_id"`
	UserId       string          `db:"user_id"`
	Asset        string          `db:"asset"`
	Amount       decimal.Decimal `db:"amount"`
	CustodianId  string          `db:"custodian_id"`
	Chain        string          `db:"chain"`
	Address      string          `db:"address"`
	Status       string          `db:"status"`
	RejectReason string          `db:"reject_reason"`
	CreatedAt    time.Time       `db:"created_at"`
	DecidedAt    time.Time       `db:"decided_at"`
}

// Pledge represents custodied collateral earmarked by the WSP to back
// outstanding credit.
type Pledge struct {
	PledgeId    string          `db:"pledge_id"`
	UserId      string          `db:"user_id"`
	Asset       string          `db:"asset"`
	Amount      decimal.Decimal `db:"amount"`
	CustodianId string          `db:"custodian_id"`
	Chain       string          `db:"chain"`
	Address     string          `db:"address"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	ReleasedAt  time.Time       `db:"released_at"`
}

// InventoryBalance represents the mirrored Credit Inventory for one
// (user, asset) pair. Version increases on every applied delta and is the
// optimistic-locking token for balance writes.
type InventoryBalance struct {
	Id          string          `db:"id"`
	UserId      string          `db:"user_id"`
	Asset       string          `db:"asset"`
	Balance     decimal.Decimal `db:"balance"`
	Version     int64           `db:"version"`
	LastEntryId string          `db:"last_entry_id"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// LedgerEntry is the immutable audit record for one applied inventory delta.
type LedgerEntry struct {
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	Asset         string          `db:"asset"`
	EntryType     string          `db:"entry_type"`
	Delta         decimal.Decimal `db:"delta"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	StreamKey     string          `db:"stream_key"`
	SourceEntryId string          `db:"source_entry_id"`
	Reference     string          `db:"reference"`
	CreatedAt     time.Time       `db:"created_at"`
}

// SettlementReport is a derived, append-only discrepancy record produced by
// the reconciler. Never mutated after creation.
type SettlementReport struct {
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	Asset         string          `db:"asset"`
	Amount        decimal.Decimal `db:"amount"`
	SourceEventId string          `db:"source_event_id"`
	GeneratedAt   time.Time       `db:"generated_at"`
}

// SettlementObservation is the latest WSP-reported custody figure for one
// (user, asset), upserted by the mirror consumer from settlement events.
type SettlementObservation struct {
	UserId          string          `db:"user_id"`
	Asset           string          `db:"asset"`
	ReportedBalance decimal.Decimal `db:"reported_balance"`
	StreamKey       string          `db:"stream_key"`
	EntryId         string          `db:"entry_id"`
	ReportedAt      time.Time       `db:"reported_at"`
}

// ReconciliationRow is one (user, asset) line of a consistent reconciliation
// snapshot: the mirrored balance and the WSP-reported figure read in a single
// database transaction.
type ReconciliationRow struct {
	UserId          string
	Asset           string
	MirroredBalance decimal.Decimal
	ReportedBalance decimal.Decimal
	SourceEntryId   string
	LastReported    decimal.Decimal
	HasLastReported bool
}

// CustodianWallet identifies a custodian vault wallet backing a pledge.
type CustodianWallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// Portfolio identifies a custodian portfolio.
type Portfolio struct {
	Id   string
	Name string
}
