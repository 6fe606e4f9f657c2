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
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent marks a stream entry whose fields are missing or
// unparsable. Redelivery cannot fix a malformed payload, so consumers
// acknowledge these entries and report them instead of retrying.
var ErrMalformedEvent = errors.New("malformed event payload")

// EventType is the `type` field carried by every stream entry.
type EventType string

const (
	EventCreditRequestCreated EventType = "credit_request_created"
	EventCreditDecision       EventType = "credit_decision"
	EventPledgeCreated        EventType = "pledge_created"
	EventPledgeReleased       EventType = "pledge_released"
	EventSettlement           EventType = "settlement"
)

// Decision outcome values carried by credit_decision events.
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

const (
	fieldType = "type"

	eventTimeLayout = time.RFC3339Nano
)

// Event is the closed set of stream entry payloads. Unrecognized `type`
// values decode to UnknownEvent so consumers always have an explicit
// default arm (forward compatibility: skip-and-acknowledge, never fatal).
type Event interface {
	EventType() EventType
	// Fields encodes the event back into stream entry fields.
	Fields() map[string]string
}

// CreditRequestCreatedEvent announces a new credit-increase request (WSP -> log).
type CreditRequestCreatedEvent struct {
	RequestId   string
	UserId      string
	Asset       string
	Amount      decimal.Decimal
	CustodianId string
	Chain       string
	Address     string
	CreatedAt   time.Time
}

func (e CreditRequestCreatedEvent) EventType() EventType { return EventCreditRequestCreated }

func (e CreditRequestCreatedEvent) Fields() map[string]string {
	return map[string]string{
		fieldType:      string(EventCreditRequestCreated),
		"request_id":   e.RequestId,
		"user_id":      e.UserId,
		"asset":        e.Asset,
		"amount":       e.Amount.String(),
		"custodian_id": e.CustodianId,
		"chain":        e.Chain,
		"address":      e.Address,
		"created_at":   e.CreatedAt.UTC().Format(eventTimeLayout),
	}
}

// CreditDecisionEvent records the Exchange's terminal decision on a request.
type CreditDecisionEvent struct {
	RequestId string
	Outcome   string // accepted | rejected
	Reason    string // required iff rejected
	DecidedAt time.Time
}

func (e CreditDecisionEvent) EventType() EventType { return EventCreditDecision }

func (e CreditDecisionEvent) Fields() map[string]string {
	return map[string]string{
		fieldType:    string(EventCreditDecision),
		"request_id": e.RequestId,
		"outcome":    e.Outcome,
		"reason":     e.Reason,
		"decided_at": e.DecidedAt.UTC().Format(eventTimeLayout),
	}
}

// PledgeCreatedEvent announces collateral earmarked at the custodian.
type PledgeCreatedEvent struct {
	PledgeId    string
	UserId      string
	Asset       string
	Amount      decimal.Decimal
	CustodianId string
	Chain       string
	Address     string
	CreatedAt   time.Time
}

func (e PledgeCreatedEvent) EventType() EventType { return EventPledgeCreated }

func (e PledgeCreatedEvent) Fields() map[string]string {
	return map[string]string{
		fieldType:      string(EventPledgeCreated),
		"pledge_id":    e.PledgeId,
		"user_id":      e.UserId,
		"asset":        e.Asset,
		"amount":       e.Amount.String(),
		"custodian_id": e.CustodianId,
		"chain":        e.Chain,
		"address":      e.Address,
		"created_at":   e.CreatedAt.UTC().Format(eventTimeLayout),
	}
}

// PledgeReleasedEvent announces that earmarked collateral was released.
type PledgeReleasedEvent struct {
	PledgeId   string
	ReleasedAt time.Time
}

func (e PledgeReleasedEvent) EventType() EventType { return EventPledgeReleased }

func (e PledgeReleasedEvent) Fields() map[string]string {
	return map[string]string{
		fieldType:     string(EventPledgeReleased),
		"pledge_id":   e.PledgeId,
		"released_at": e.ReleasedAt.UTC().Format(eventTimeLayout),
	}
}

// SettlementEvent carries the WSP's authoritative custody figure for one
// (user, asset). The reconciler compares it against the mirrored inventory.
type SettlementEvent struct {
	UserId          string
	Asset           string
	ReportedBalance decimal.Decimal
	ReportedAt      time.Time
}

func (e SettlementEvent) EventType() EventType { return EventSettlement }

func (e SettlementEvent) Fields() map[string]string {
	return map[string]string{
		fieldType:          string(EventSettlement),
		"user_id":          e.UserId,
		"asset":            e.Asset,
		"reported_balance": e.ReportedBalance.String(),
		"reported_at":      e.ReportedAt.UTC().Format(eventTimeLayout),
	}
}

// UnknownEvent is the explicit default arm for `type` values this version
// does not recognize.
type UnknownEvent struct {
	RawType string
	Raw     map[string]string
}

func (e UnknownEvent) EventType() EventType { return EventType(e.RawType) }

func (e UnknownEvent) Fields() map[string]string { return e.Raw }

// DecodeEvent parses stream entry fields into an Event. A missing or
// unparsable required field returns an error wrapping ErrMalformedEvent;
// an unrecognized type returns UnknownEvent with no error.
func DecodeEvent(fields map[string]string) (Event, error) {
	typ, ok := fields[fieldType]
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedEvent)
	}

	switch EventType(typ) {
	case EventCreditRequestCreated:
		amount, err := requirePositiveAmount(fields, "amount")
		if err != nil {
			return nil, err
		}
		requestId, userId, asset, err := requireStrings3(fields, "request_id", "user_id", "asset")
		if err != nil {
			return nil, err
		}
		return CreditRequestCreatedEvent{
			RequestId:   requestId,
			UserId:      userId,
			Asset:       asset,
			Amount:      amount,
			CustodianId: fields["custodian_id"],
			Chain:       fields["chain"],
			Address:     fields["address"],
			CreatedAt:   parseEventTime(fields["created_at"]),
		}, nil

	case EventCreditDecision:
		requestId, err := requireString(fields, "request_id")
		if err != nil {
			return nil, err
		}
		outcome, err := requireString(fields, "outcome")
		if err != nil {
			return nil, err
		}
		if outcome != DecisionAccepted && outcome != DecisionRejected {
			return nil, fmt.Errorf("%w: invalid outcome %q", ErrMalformedEvent, outcome)
		}
		reason := fields["reason"]
		if outcome == DecisionRejected && reason == "" {
			return nil, fmt.Errorf("%w: rejection without reason", ErrMalformedEvent)
		}
		return CreditDecisionEvent{
			RequestId: requestId,
			Outcome:   outcome,
			Reason:    reason,
			DecidedAt: parseEventTime(fields["decided_at"]),
		}, nil

	case EventPledgeCreated:
		amount, err := requirePositiveAmount(fields, "amount")
		if err != nil {
			return nil, err
		}
		pledgeId, userId, asset, err := requireStrings3(fields, "pledge_id", "user_id", "asset")
		if err != nil {
			return nil, err
		}
		return PledgeCreatedEvent{
			PledgeId:    pledgeId,
			UserId:      userId,
			Asset:       asset,
			Amount:      amount,
			CustodianId: fields["custodian_id"],
			Chain:       fields["chain"],
			Address:     fields["address"],
			CreatedAt:   parseEventTime(fields["created_at"]),
		}, nil

	case EventPledgeReleased:
		pledgeId, err := requireString(fields, "pledge_id")
		if err != nil {
			return nil, err
		}
		return PledgeReleasedEvent{
			PledgeId:   pledgeId,
			ReleasedAt: parseEventTime(fields["released_at"]),
		}, nil

	case EventSettlement:
		reported, err := requireAmount(fields, "reported_balance")
		if err != nil {
			return nil, err
		}
		if reported.IsNegative() {
			return nil, fmt.Errorf("%w: reported_balance cannot be negative, got %s",
				ErrMalformedEvent, reported.String())
		}
		userId, err := requireString(fields, "user_id")
		if err != nil {
			return nil, err
		}
		asset, err := requireString(fields, "asset")
		if err != nil {
			return nil, err
		}
		return SettlementEvent{
			UserId:          userId,
			Asset:           asset,
			ReportedBalance: reported,
			ReportedAt:      parseEventTime(fields["reported_at"]),
		}, nil

	default:
		raw := make(map[string]string, len(fields))
		for k, v := range fields {
			raw[k] = v
		}
		return UnknownEvent{RawType: typ, Raw: raw}, nil
	}
}

func requireString(fields map[string]string, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedEvent, key)
	}
	return v, nil
}

func requireStrings3(fields map[string]string, k1, k2, k3 string) (string, string, string, error) {
	v1, err := requireString(fields, k1)
	if err != nil {
		return "", "", "", err
	}
	v2, err := requireString(fields, k2)
	if err != nil {
		return "", "", "", err
	}
	v3, err := requireString(fields, k3)
	if err != nil {
		return "", "", "", err
	}
	return v1, v2, v3, nil
}

func requireAmount(fields map[string]string, key string) (decimal.Decimal, error) {
	raw, err := requireString(fields, key)
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid %s %q: %v", ErrMalformedEvent, key, raw, err)
	}
	return amount, nil
}

// requirePositiveAmount enforces positivity at the decode boundary. A zero
// or negative amount is a payload defect, not a transient failure: the
// store would refuse it on every redelivery, so the entry must be dropped
// as malformed instead of retried.
func requirePositiveAmount(fields map[string]string, key string) (decimal.Decimal, error) {
	amount, err := requireAmount(fields, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive, got %s",
			ErrMalformedEvent, key, amount.String())
	}
	return amount, nil
}

// parseEventTime parses an optional timestamp field; producers always set it
// but a missing value is not grounds to drop an otherwise valid entry.
func parseEventTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(eventTimeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
