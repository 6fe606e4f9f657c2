package reconciler

import (
	"context"
	"testing"
	"time"

	"openoes-go/internal/database"
	"openoes-go/internal/models"
	"openoes-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupReconcilerTest(t *testing.T) (*Reconciler, *database.Service) {
	t.Helper()

	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(svc.Close)

	return New(svc, time.Minute), svc
}

func seedMirror(t *testing.T, svc *database.Service, mirrored, reported string) {
	t.Helper()
	ctx := context.Background()

	if mirrored != "0" {
		_, err := svc.ApplyDelta(ctx, store.ApplyDeltaParams{
			UserId:        "u1",
			Asset:         "BTC",
			Delta:         decimal.RequireFromString(mirrored),
			StreamKey:     "STREAM:credit:decisions",
			SourceEntryId: "1700000000000-1",
			EntryType:     "credit",
		})
		if err != nil {
			t.Fatalf("ApplyDelta failed: %v", err)
		}
	}

	err := svc.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString(reported),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000000-2",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
}

func TestRunOnce_MatchingBalancesNoReport(t *testing.T) {
	r, svc := setupReconcilerTest(t)
	seedMirror(t, svc, "10.0", "10.0")

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	reports, err := svc.ListSettlementReports(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("Expected no reports for matching balances, got %d", len(reports))
	}
}

func TestRunOnce_DiscrepancyReported(t *testing.T) {
	r, svc := setupReconcilerTest(t)
	seedMirror(t, svc, "9.5", "10.0")

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	reports, err := svc.ListSettlementReports(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	if !reports[0].Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected delta 0.5, got %s", reports[0].Amount.String())
	}
	if reports[0].SourceEventId != "1700000000000-2" {
		t.Errorf("Expected settlement entry id on report, got %s", reports[0].SourceEventId)
	}
}

func TestRunOnce_UnchangedDiscrepancySuppressed(t *testing.T) {
	r, svc := setupReconcilerTest(t)
	seedMirror(t, svc, "9.5", "10.0")

	ctx := context.Background()
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("First RunOnce failed: %v", err)
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("Second RunOnce failed: %v", err)
	}

	reports, err := svc.ListSettlementReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("Expected unchanged discrepancy reported once, got %d reports", len(reports))
	}
}

func TestRunOnce_ChangedDiscrepancyReportedAgain(t *testing.T) {
	r, svc := setupReconcilerTest(t)
	seedMirror(t, svc, "9.5", "10.0")

	ctx := context.Background()
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("First RunOnce failed: %v", err)
	}

	// The WSP reports a new figure; the delta changes.
	err := svc.RecordSettlement(ctx, models.SettlementObservation{
		UserId:          "u1",
		Asset:           "BTC",
		ReportedBalance: decimal.RequireFromString("11.0"),
		StreamKey:       "STREAM:settlement:events",
		EntryId:         "1700000000000-3",
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("Second RunOnce failed: %v", err)
	}

	reports, err := svc.ListSettlementReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("Expected 2 reports after delta change, got %d", len(reports))
	}
}

func TestRunOnce_ResolvedDiscrepancyResetsState(t *testing.T) {
	r, svc := setupReconcilerTest(t)
	seedMirror(t, svc, "9.5", "10.0")

	ctx := context.Background()
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("First RunOnce failed: %v", err)
	}

	// Mirror catches up; delta becomes zero.
	_, err := svc.ApplyDelta(ctx, store.ApplyDeltaParams{
		UserId:        "u1",
		Asset:         "BTC",
		Delta:         decimal.RequireFromString("0.5"),
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-5",
		EntryType:     "credit",
	})
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("Second RunOnce failed: %v", err)
	}

	// Same discrepancy reappears later; it must be reported again.
	_, err = svc.ApplyDelta(ctx, store.ApplyDeltaParams{
		UserId:        "u1",
		Asset:         "BTC",
		Delta:         decimal.RequireFromString("-0.5"),
		StreamKey:     "STREAM:credit:decisions",
		SourceEntryId: "1700000000000-6",
		EntryType:     "settlement_correction",
	})
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("Third RunOnce failed: %v", err)
	}

	reports, err := svc.ListSettlementReports(ctx, 10)
	if err != nil {
		t.Fatalf("ListSettlementReports failed: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("Expected recurrence reported after reset, got %d reports", len(reports))
	}
}
