package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecodeEvent_RoundTrip(t *testing.T) {
	event := CreditRequestCreatedEvent{
		RequestId: "req-1",
		UserId:    "u1",
		Asset:     "BTC",
		Amount:    decimal.RequireFromString("10.0"),
	}

	decoded, err := DecodeEvent(event.Fields())
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	request, ok := decoded.(CreditRequestCreatedEvent)
	if !ok {
		t.Fatalf("Expected CreditRequestCreatedEvent, got %T", decoded)
	}
	if !request.Amount.Equal(event.Amount) {
		t.Errorf("Expected amount %s, got %s", event.Amount.String(), request.Amount.String())
	}
}

func TestDecodeEvent_RejectsNonPositiveRequestAmount(t *testing.T) {
	for _, amount := range []string{"0", "-5"} {
		_, err := DecodeEvent(map[string]string{
			"type":       string(EventCreditRequestCreated),
			"request_id": "req-1",
			"user_id":    "u1",
			"asset":      "BTC",
			"amount":     amount,
		})
		if !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Expected ErrMalformedEvent for amount %s, got %v", amount, err)
		}
	}
}

func TestDecodeEvent_RejectsNonPositivePledgeAmount(t *testing.T) {
	_, err := DecodeEvent(map[string]string{
		"type":      string(EventPledgeCreated),
		"pledge_id": "p1",
		"user_id":   "u1",
		"asset":     "BTC",
		"amount":    "-1",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for negative pledge amount, got %v", err)
	}
}

func TestDecodeEvent_RejectsNegativeReportedBalance(t *testing.T) {
	_, err := DecodeEvent(map[string]string{
		"type":             string(EventSettlement),
		"user_id":          "u1",
		"asset":            "BTC",
		"reported_balance": "-0.5",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for negative reported balance, got %v", err)
	}

	decoded, err := DecodeEvent(map[string]string{
		"type":             string(EventSettlement),
		"user_id":          "u1",
		"asset":            "BTC",
		"reported_balance": "0",
	})
	if err != nil {
		t.Fatalf("Expected zero reported balance to decode: %v", err)
	}
	if _, ok := decoded.(SettlementEvent); !ok {
		t.Fatalf("Expected SettlementEvent, got %T", decoded)
	}
}

func TestDecodeEvent_UnknownTypePassesThrough(t *testing.T) {
	decoded, err := DecodeEvent(map[string]string{
		"type":    "margin_call",
		"user_id": "u1",
	})
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	unknown, ok := decoded.(UnknownEvent)
	if !ok {
		t.Fatalf("Expected UnknownEvent, got %T", decoded)
	}
	if unknown.RawType != "margin_call" {
		t.Errorf("Expected raw type margin_call, got %s", unknown.RawType)
	}
}
