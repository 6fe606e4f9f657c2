package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	"github.com/shopspring/decimal"
)

func insertTestRequest(t *testing.T, service *Service, requestId, userId, asset, amount string) {
	t.Helper()
	err := service.CreateRequest(context.Background(), models.CreditRequest{
		RequestId: requestId,
		UserId:    userId,
		Asset:     asset,
		Amount:    decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
}

func TestCreateRequest_Replay(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")
	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")

	request, err := service.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if request.Status != models.RequestStatusPending {
		t.Errorf("Expected pending status, got %s", request.Status)
	}
}

func TestApplyDecision_AcceptCreditsInventory(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")

	request, err := service.ApplyDecision(ctx, store.DecisionParams{
		RequestId:     "req-1",
		Outcome:       models.DecisionAccepted,
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
	})
	if err != nil {
		t.Fatalf("ApplyDecision failed: %v", err)
	}
	if request.Status != models.RequestStatusAccepted {
		t.Errorf("Expected accepted status, got %s", request.Status)
	}

	balance, err := service.GetBalance(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("10.0")) {
		t.Errorf("Expected balance 10.0 after acceptance, got %s", balance.String())
	}
}

func TestApplyDecision_RedeliveredDecision(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")

	params := store.DecisionParams{
		RequestId:     "req-1",
		Outcome:       models.DecisionAccepted,
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
	}
	if _, err := service.ApplyDecision(ctx, params); err != nil {
		t.Fatalf("First ApplyDecision failed: %v", err)
	}

	// Redelivery of the same decision must not credit a second time.
	request, err := service.ApplyDecision(ctx, params)
	if !errors.Is(err, store.ErrRequestDecided) {
		t.Fatalf("Expected ErrRequestDecided, got %v", err)
	}
	if request == nil || request.Status != models.RequestStatusAccepted {
		t.Errorf("Expected decided request back on replay")
	}

	balance, err := service.GetBalance(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("10.0")) {
		t.Errorf("Expected balance 10.0 after replayed decision, got %s", balance.String())
	}
}

func TestApplyDecision_UnknownRequest(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	_, err := service.ApplyDecision(context.Background(), store.DecisionParams{
		RequestId:     "missing",
		Outcome:       models.DecisionAccepted,
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
	})
	if !errors.Is(err, store.ErrRequestNotFound) {
		t.Fatalf("Expected ErrRequestNotFound, got %v", err)
	}
}

func TestApplyDecision_RejectRequiresReason(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")

	_, err := service.ApplyDecision(context.Background(), store.DecisionParams{
		RequestId:     "req-1",
		Outcome:       models.DecisionRejected,
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
	})
	if !errors.Is(err, store.ErrRejectWithoutReason) {
		t.Fatalf("Expected ErrRejectWithoutReason, got %v", err)
	}
}

func TestApplyDecision_RejectLeavesInventoryUntouched(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	insertTestRequest(t, service, "req-1", "u1", "BTC", "10.0")

	request, err := service.ApplyDecision(ctx, store.DecisionParams{
		RequestId:     "req-1",
		Outcome:       models.DecisionRejected,
		Reason:        "insufficient collateral",
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
	})
	if err != nil {
		t.Fatalf("ApplyDecision failed: %v", err)
	}
	if request.Status != models.RequestStatusRejected {
		t.Errorf("Expected rejected status, got %s", request.Status)
	}
	if request.RejectReason != "insufficient collateral" {
		t.Errorf("Expected reject reason to be stored, got %q", request.RejectReason)
	}

	balance, err := service.GetBalance(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.Zero) {
		t.Errorf("Expected zero balance after rejection, got %s", balance.String())
	}
}

func TestListPendingOlderThan(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	err := service.CreateRequest(ctx, models.CreditRequest{
		RequestId: "req-old",
		UserId:    "u1",
		Asset:     "BTC",
		Amount:    decimal.RequireFromString("1.0"),
		CreatedAt: old,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	insertTestRequest(t, service, "req-new", "u1", "BTC", "2.0")

	pending, err := service.ListPendingOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListPendingOlderThan failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 abandoned request, got %d", len(pending))
	}
	if pending[0].RequestId != "req-old" {
		t.Errorf("Expected req-old, got %s", pending[0].RequestId)
	}
}
