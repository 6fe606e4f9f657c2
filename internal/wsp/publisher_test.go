package wsp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"openoes-go/internal/database"
	"openoes-go/internal/keyspace"
	"openoes-go/internal/models"
	"openoes-go/internal/store"
	"openoes-go/internal/streamlog"

	"github.com/shopspring/decimal"
)

type fakeLog struct {
	appended map[string][]map[string]string
	failures int
	nextSeq  int64
}

func newFakeLog() *fakeLog {
	return &fakeLog{appended: make(map[string][]map[string]string)}
}

func (f *fakeLog) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", fmt.Errorf("%w: connection refused", streamlog.ErrConnectivity)
	}
	f.nextSeq++
	f.appended[stream] = append(f.appended[stream], fields)
	return fmt.Sprintf("1700000000000-%d", f.nextSeq), nil
}

func (f *fakeLog) ReadGroup(ctx context.Context, args streamlog.ReadGroupArgs) ([]streamlog.Message, error) {
	return nil, nil
}

func (f *fakeLog) Ack(ctx context.Context, stream, group string, ids ...string) error { return nil }

func (f *fakeLog) Reclaim(ctx context.Context, args streamlog.ReclaimArgs) ([]streamlog.Message, error) {
	return nil, nil
}

func (f *fakeLog) EnsureGroup(ctx context.Context, stream, group string) error { return nil }

func setupPublisherTest(t *testing.T) (*Publisher, *fakeLog, *database.Service) {
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

	log := newFakeLog()
	return NewPublisher(PublisherConfig{Log: log, Store: svc, RetryBackoff: time.Millisecond}), log, svc
}

func TestSubmitCreditRequest_PublishesPledgeThenRequest(t *testing.T) {
	p, log, _ := setupPublisherTest(t)

	requestId, err := p.SubmitCreditRequest(context.Background(), SubmitCreditRequestParams{
		UserId: "u1",
		Asset:  "BTC",
		Amount: decimal.RequireFromString("10.0"),
		Chain:  "bitcoin",
	})
	if err != nil {
		t.Fatalf("SubmitCreditRequest failed: %v", err)
	}
	if requestId == "" {
		t.Fatal("Expected a request id")
	}

	pledges := log.appended[keyspace.PledgeStream]
	if len(pledges) != 1 {
		t.Fatalf("Expected 1 pledge event, got %d", len(pledges))
	}
	if pledges[0]["type"] != string(models.EventPledgeCreated) {
		t.Errorf("Expected pledge_created event, got %s", pledges[0]["type"])
	}
	if pledges[0]["amount"] != "10" {
		t.Errorf("Expected pledge amount 10, got %s", pledges[0]["amount"])
	}

	requests := log.appended[keyspace.CreditRequestStream]
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request event, got %d", len(requests))
	}
	if requests[0]["request_id"] != requestId {
		t.Errorf("Expected request id %s on event, got %s", requestId, requests[0]["request_id"])
	}
}

func TestSubmitCreditRequest_RejectsNonPositiveAmount(t *testing.T) {
	p, _, _ := setupPublisherTest(t)

	_, err := p.SubmitCreditRequest(context.Background(), SubmitCreditRequestParams{
		UserId: "u1",
		Asset:  "BTC",
		Amount: decimal.Zero,
	})
	if err == nil {
		t.Fatal("Expected error for zero amount")
	}
}

func TestSubmitCreditRequest_RetriesConnectivity(t *testing.T) {
	p, log, _ := setupPublisherTest(t)
	log.failures = 2

	_, err := p.SubmitCreditRequest(context.Background(), SubmitCreditRequestParams{
		UserId: "u1",
		Asset:  "BTC",
		Amount: decimal.RequireFromString("1.0"),
	})
	if err != nil {
		t.Fatalf("Expected retries to absorb transient failures: %v", err)
	}
	if len(log.appended[keyspace.PledgeStream]) != 1 {
		t.Errorf("Expected pledge appended after retries")
	}
}

func TestPublishDecision_RejectRequiresReason(t *testing.T) {
	p, _, _ := setupPublisherTest(t)

	_, err := p.PublishDecision(context.Background(), "req-1", models.DecisionRejected, "")
	if !errors.Is(err, store.ErrRejectWithoutReason) {
		t.Fatalf("Expected ErrRejectWithoutReason, got %v", err)
	}

	if _, err := p.PublishDecision(context.Background(), "req-1", models.DecisionRejected, "no collateral"); err != nil {
		t.Fatalf("PublishDecision with reason failed: %v", err)
	}
}

func TestPublishDecision_InvalidOutcome(t *testing.T) {
	p, _, _ := setupPublisherTest(t)

	_, err := p.PublishDecision(context.Background(), "req-1", "maybe", "")
	if err == nil {
		t.Fatal("Expected error for invalid outcome")
	}
}

func TestReleasePledge_RefusedWhileBackingInventory(t *testing.T) {
	p, log, svc := setupPublisherTest(t)
	ctx := context.Background()

	if err := svc.RecordPledge(ctx, models.Pledge{
		PledgeId: "p1",
		UserId:   "u1",
		Asset:    "BTC",
		Amount:   decimal.RequireFromString("10.0"),
	}); err != nil {
		t.Fatalf("RecordPledge failed: %v", err)
	}
	_, err := svc.ApplyDelta(ctx, store.ApplyDeltaParams{
		UserId:        "u1",
		Asset:         "BTC",
		Delta:         decimal.RequireFromString("10.0"),
		StreamKey:     keyspace.CreditDecisionStream,
		SourceEntryId: "1700000000000-1",
		EntryType:     "credit",
	})
	if err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	if _, err := p.ReleasePledge(ctx, "p1"); err == nil {
		t.Fatal("Expected release to be refused while inventory is outstanding")
	}
	if len(log.appended[keyspace.PledgeStream]) != 0 {
		t.Errorf("Expected no release event published")
	}
}

func TestReleasePledge_PublishesWhenUncovered(t *testing.T) {
	p, log, svc := setupPublisherTest(t)
	ctx := context.Background()

	if err := svc.RecordPledge(ctx, models.Pledge{
		PledgeId: "p1",
		UserId:   "u1",
		Asset:    "BTC",
		Amount:   decimal.RequireFromString("10.0"),
	}); err != nil {
		t.Fatalf("RecordPledge failed: %v", err)
	}

	if _, err := p.ReleasePledge(ctx, "p1"); err != nil {
		t.Fatalf("ReleasePledge failed: %v", err)
	}

	events := log.appended[keyspace.PledgeStream]
	if len(events) != 1 {
		t.Fatalf("Expected 1 release event, got %d", len(events))
	}
	if events[0]["type"] != string(models.EventPledgeReleased) {
		t.Errorf("Expected pledge_released event, got %s", events[0]["type"])
	}
}

func TestEmitSettlement(t *testing.T) {
	p, log, _ := setupPublisherTest(t)

	entryId, err := p.EmitSettlement(context.Background(), "u1", "BTC", decimal.RequireFromString("10.0"))
	if err != nil {
		t.Fatalf("EmitSettlement failed: %v", err)
	}
	if entryId == "" {
		t.Fatal("Expected an entry id")
	}

	events := log.appended[keyspace.SettlementStream]
	if len(events) != 1 {
		t.Fatalf("Expected 1 settlement event, got %d", len(events))
	}
	if events[0]["reported_balance"] != "10" {
		t.Errorf("Expected reported balance 10, got %s", events[0]["reported_balance"])
	}

	if _, err := p.EmitSettlement(context.Background(), "u1", "BTC", decimal.RequireFromString("-1")); err == nil {
		t.Fatal("Expected error for negative reported balance")
	}
}
