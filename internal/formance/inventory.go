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

package formance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Numscript templates. A positive delta moves funds from the WSP credit
// source into the user's inventory account; a negative delta moves them
// back. Metadata carries the originating stream entry for audit queries.

const numscriptCreditApplied = `vars {
  asset $asset
  number $amount
  account $user_id
  string $stream_key
  string $source_entry_id
  string $entry_type
  string $reference
}

send [$asset $amount] (
  source = @wsp:credit:issued allowing unbounded overdraft
  destination = @inventory:$user_id
)

set_tx_meta("stream_key", $stream_key)
set_tx_meta("source_entry_id", $source_entry_id)
set_tx_meta("entry_type", $entry_type)
set_tx_meta("reference", $reference)
`

const numscriptCreditReduced = `vars {
  asset $asset
  number $amount
  account $user_id
  string $stream_key
  string $source_entry_id
  string $entry_type
  string $reference
}

send [$asset $amount] (
  source = @inventory:$user_id
  destination = @wsp:credit:issued
)

set_tx_meta("stream_key", $stream_key)
set_tx_meta("source_entry_id", $source_entry_id)
set_tx_meta("entry_type", $entry_type)
set_tx_meta("reference", $reference)
`

// ApplyDelta records one inventory delta as a ledger transaction. The
// transaction reference is the (stream, source entry) pair, so a replayed
// delivery hits CONFLICT and maps to ErrDuplicateApplication. A reduction
// that exceeds the account balance fails the Numscript send and maps to
// ErrInvariantViolation.
func (s *Service) ApplyDelta(ctx context.Context, params store.ApplyDeltaParams) (decimal.Decimal, error) {
	if params.SourceEntryId == "" || params.StreamKey == "" {
		return decimal.Zero, fmt.Errorf("delta requires stream key and source entry id")
	}

	script := numscriptCreditApplied
	amount := params.Delta
	if amount.IsNegative() {
		script = numscriptCreditReduced
		amount = amount.Neg()
	}

	fAsset := formanceAsset(params.Asset)
	smallAmt := amount.Shift(int32(precisionFor(params.Asset))).BigInt().String()
	reference := params.StreamKey + ":" + params.SourceEntryId

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars: map[string]string{
					"asset":           fAsset,
					"amount":          smallAmt,
					"user_id":         params.UserId,
					"stream_key":      params.StreamKey,
					"source_entry_id": params.SourceEntryId,
					"entry_type":      params.EntryType,
					"reference":       params.Reference,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			current, balErr := s.GetBalance(ctx, params.UserId, params.Asset)
			if balErr != nil {
				return decimal.Zero, balErr
			}
			return current, fmt.Errorf("%w: entry %s already posted for %s",
				store.ErrDuplicateApplication, params.SourceEntryId, params.StreamKey)
		}
		if params.Delta.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: delta %s rejected by ledger for %s/%s: %v",
				store.ErrInvariantViolation, params.Delta.String(), params.UserId, params.Asset, err)
		}
		return decimal.Zero, fmt.Errorf("error posting inventory delta: %w", err)
	}

	zap.L().Info("Inventory delta posted to accounting ledger",
		zap.String("user_id", params.UserId),
		zap.String("asset", params.Asset),
		zap.String("delta", params.Delta.String()),
		zap.String("reference", reference))

	return s.GetBalance(ctx, params.UserId, params.Asset)
}

// GetBalance reads the inventory account volumes for one (user, asset).
func (s *Service) GetBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error) {
	vols, err := s.getAccountVolumes(ctx, "inventory:"+userId)
	if err != nil {
		return decimal.Zero, err
	}
	if bal := volumeBalance(vols, formanceAsset(asset)); bal != nil {
		return bigIntToDecimal(bal, asset), nil
	}
	return decimal.Zero, nil
}

// ListBalances returns all non-zero inventory balances for a user.
func (s *Service) ListBalances(ctx context.Context, userId string) ([]models.InventoryBalance, error) {
	addr := "inventory:" + userId
	vols, err := s.getAccountVolumes(ctx, addr)
	if err != nil {
		return nil, err
	}

	var balances []models.InventoryBalance
	for fAsset, vol := range vols {
		bal := volumeBalance(map[string]shared.V2Volume{fAsset: vol}, fAsset)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		symbol := assetSymbol(fAsset)
		balances = append(balances, models.InventoryBalance{
			Id:        addr,
			UserId:    userId,
			Asset:     symbol,
			Balance:   bigIntToDecimal(bal, symbol),
			UpdatedAt: time.Now().UTC(),
		})
	}
	return balances, nil
}

// ---------- helpers ----------

func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account volumes for %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, symbol string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(symbol)))
}

// assetSymbol extracts the symbol from a Formance asset like "USDC/6".
func assetSymbol(fAsset string) string {
	for i, c := range fAsset {
		if c == '/' {
			return fAsset[:i]
		}
	}
	return fAsset
}
