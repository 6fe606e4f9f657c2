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

func TestRecordPledge_AndTotal(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pledges := []models.Pledge{
		{PledgeId: "p1", UserId: "u1", Asset: "BTC", Amount: decimal.RequireFromString("1.5")},
		{PledgeId: "p2", UserId: "u1", Asset: "BTC", Amount: decimal.RequireFromString("0.5")},
		{PledgeId: "p3", UserId: "u1", Asset: "ETH", Amount: decimal.RequireFromString("7.0")},
	}
	for _, p := range pledges {
		if err := service.RecordPledge(ctx, p); err != nil {
			t.Fatalf("RecordPledge %s failed: %v", p.PledgeId, err)
		}
	}

	total, err := service.ActivePledgeTotal(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("ActivePledgeTotal failed: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("2.0")) {
		t.Errorf("Expected total 2.0, got %s", total.String())
	}
}

func TestRecordPledge_Replay(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	pledge := models.Pledge{PledgeId: "p1", UserId: "u1", Asset: "BTC", Amount: decimal.RequireFromString("1.0")}
	if err := service.RecordPledge(ctx, pledge); err != nil {
		t.Fatalf("RecordPledge failed: %v", err)
	}
	if err := service.RecordPledge(ctx, pledge); err != nil {
		t.Fatalf("RecordPledge replay failed: %v", err)
	}

	total, err := service.ActivePledgeTotal(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("ActivePledgeTotal failed: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("1.0")) {
		t.Errorf("Expected total 1.0 after replay, got %s", total.String())
	}
}

func TestReleasePledge(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := service.RecordPledge(ctx, models.Pledge{
		PledgeId: "p1", UserId: "u1", Asset: "BTC", Amount: decimal.RequireFromString("1.0"),
	}); err != nil {
		t.Fatalf("RecordPledge failed: %v", err)
	}

	if err := service.ReleasePledge(ctx, "p1", time.Now().UTC()); err != nil {
		t.Fatalf("ReleasePledge failed: %v", err)
	}

	pledge, err := service.GetPledge(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPledge failed: %v", err)
	}
	if pledge.Status != models.PledgeStatusReleased {
		t.Errorf("Expected released status, got %s", pledge.Status)
	}
	if pledge.ReleasedAt.IsZero() {
		t.Error("Expected released_at to be set")
	}

	total, err := service.ActivePledgeTotal(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("ActivePledgeTotal failed: %v", err)
	}
	if !total.Equal(decimal.Zero) {
		t.Errorf("Expected zero active total after release, got %s", total.String())
	}

	// Redelivered release event is a no-op.
	if err := service.ReleasePledge(ctx, "p1", time.Now().UTC()); err != nil {
		t.Fatalf("ReleasePledge replay failed: %v", err)
	}
}

func TestReleasePledge_Unknown(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	err := service.ReleasePledge(context.Background(), "missing", time.Now().UTC())
	if !errors.Is(err, store.ErrPledgeNotFound) {
		t.Fatalf("Expected ErrPledgeNotFound, got %v", err)
	}
}

func TestGetPledge_Unknown(t *testing.T) {
	service, cleanup := setupMirrorTestDB(t)
	defer cleanup()

	_, err := service.GetPledge(context.Background(), "missing")
	if !errors.Is(err, store.ErrPledgeNotFound) {
		t.Fatalf("Expected ErrPledgeNotFound, got %v", err)
	}
}
