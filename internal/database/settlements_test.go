package database

import (
	"context"
	"testing"
	"time"

	"openoes-go/internal/models"
	"openoes-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestRecordSettlement_StaleEntryIgnored(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	err := service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("10.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000005-0",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}

	// Redelivered earlier observation must not clobber the newer figure.
	err = service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("8.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000001-0",
	})
	if err != nil {
		t.Fatalf("RecordSettlement replay failed: %v", err)
	}

	snapshot, err := service.ReconciliationSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReconciliationSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 snapshot row, got %d", len(snapshot))
	}
	if !snapshot[0].ReportedBalance.Equal(decimal.RequireFromString("10.0")) {
		t.Errorf("Expected reported balance 10.0, got %s", snapshot[0].ReportedBalance.String())
	}
	if snapshot[0].SourceEntryId != "1700000000005-0" {
		t.Errorf("Expected entry 1700000000005-0, got %s", snapshot[0].SourceEntryId)
	}
}

func TestReconciliationSnapshot_JoinsMirroredBalance(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, err := service.ApplyDelta(ctx, store.ApplyDeltaParams{
		UserId:        "u1",
		Asset:         "BTC",
		Delta:         decimal.RequireFromString("9.5"),
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-0",
		EntryType:     "credit",
	})
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	err = service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("10.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000001-0",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}

	snapshot, err := service.ReconciliationSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReconciliationSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 snapshot row, got %d", len(snapshot))
	}
	row := snapshot[0]
	if !row.MirroredBalance.Equal(decimal.RequireFromString("9.5")) {
		t.Errorf("Expected mirrored balance 9.5, got %s", row.MirroredBalance.String())
	}
	if !row.ReportedBalance.Equal(decimal.RequireFromString("10.0")) {
		t.Errorf("Expected reported balance 10.0, got %s", row.ReportedBalance.String())
	}
	if row.HasLastReported {
		t.Error("Expected no prior reconciliation state")
	}
}

func TestReconciliationSnapshot_UnmirroredUserDefaultsToZero(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	err := service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u9",
		Asset:           "SOL",
		ReportedBalance: decimal.RequireFromString("3.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000001-0",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}

	snapshot, err := service.ReconciliationSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReconciliationSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 snapshot row, got %d", len(snapshot))
	}
	if !snapshot[0].MirroredBalance.Equal(decimal.Zero) {
		t.Errorf("Expected zero mirrored balance, got %s", snapshot[0].MirroredBalance.String())
	}
}

func TestSaveSettlementReports_AdvancesState(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	err := service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("10.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000001-0",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}

	reports := []models.SettlementReport{{
		UserId:        "u1",
		Asset:         "BTC",
		Amount:        decimal.RequireFromString("0.5"),
		SourceEventId: "1700000000001-0",
		GeneratedAt:   time.Now().UTC(),
	}}
	if err := service.SaveSettlementReports(ctx, reports); err != nil {
		t.Fatalf("SaveSettlementReports failed: %v", err)
	}

	snapshot, err := service.ReconciliationSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReconciliationSnapshot failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("Expected 1 snapshot row, got %d", len(snapshot))
	}
	if !snapshot[0].HasLastReported {
		t.Fatal("Expected reconciliation state after report")
	}
	if !snapshot[0].LastReported.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected last reported delta 0.5, got %s", snapshot[0].LastReported.String())
	}

	listed, err := service.ListSettlementReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(listed))
	}
	if listed[0].Id == "" {
		t.Error("Expected a generated report id")
	}
	if !listed[0].Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected report amount 0.5, got %s", listed[0].Amount.String())
	}
}

func TestSaveSettlementReports_Empty(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	if err := service.SaveSettlementReports(context.Background(), nil); err != nil {
		t.Fatalf("SaveSettlementReports with no reports failed: %v", err)
	}
}

func TestRecordSettlement_NegativeReportedRejected(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	err := service.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("-1.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000000-1",
	})
	if err == nil {
		t.Fatal("Expected error for negative reported balance")
	}

	snapshot, err := service.ReconciliationSnapshot(ctx)
	if err != nil {
		t.Fatalf("ReconciliationSnapshot failed: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("Expected no observations recorded, got %d", len(snapshot))
	}
}
