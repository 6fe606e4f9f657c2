package store

import (
	"context"
	"errors"
	"time"

	"openoes-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	// ErrDuplicateApplication is an idempotency hit: the delta's source entry
	// was already applied. Logged by callers, never surfaced as a failure.
	ErrDuplicateApplication = errors.New("duplicate delta application")

	// ErrInvariantViolation marks a delta that would drive a balance
	// negative. Fatal for that entry; the consumer leaves it unacknowledged
	// for manual inspection.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	ErrRequestNotFound        = errors.New("credit request not found")
	ErrRequestDecided         = errors.New("credit request already decided")
	ErrRejectWithoutReason    = errors.New("rejection requires a reason")
	ErrPledgeNotFound         = errors.New("pledge not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// ApplyDeltaParams describes one inventory delta keyed by its source stream
// entry for idempotent application.
type ApplyDeltaParams struct {
	UserId        string
	Asset         string
	Delta         decimal.Decimal
	StreamKey     string
	SourceEntryId string
	EntryType     string // credit | settlement_correction
	Reference     string
}

// DecisionParams describes one decision event applied to a pending request.
type DecisionParams struct {
	RequestId     string
	Outcome       string // models.DecisionAccepted | models.DecisionRejected
	Reason        string
	StreamKey     string
	SourceEntryId string
	DecidedAt     time.Time
}

// InventoryStore is the Exchange-side mirrored Credit Inventory ledger.
// ApplyDelta must be idempotent on (stream, source entry) and must never
// let a balance go negative.
type InventoryStore interface {
	ApplyDelta(ctx context.Context, params ApplyDeltaParams) (decimal.Decimal, error)
	GetBalance(ctx context.Context, userId, asset string) (decimal.Decimal, error)
	ListBalances(ctx context.Context, userId string) ([]models.InventoryBalance, error)
}

// RequestStore persists the credit-request state machine.
type RequestStore interface {
	// CreateRequest records a new pending request; replays of the creation
	// event are no-ops.
	CreateRequest(ctx context.Context, request models.CreditRequest) error

	// ApplyDecision transitions a pending request to its terminal state.
	// Acceptance credits the inventory in the same atomic step. Decisions
	// for unknown requests return ErrRequestNotFound; decisions for decided
	// requests return ErrRequestDecided. Both are no-ops for the ledger.
	ApplyDecision(ctx context.Context, params DecisionParams) (*models.CreditRequest, error)

	GetRequest(ctx context.Context, requestId string) (*models.CreditRequest, error)

	// ListPendingOlderThan returns pending requests created before cutoff.
	// Abandoned requests are reported, never auto-rejected.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.CreditRequest, error)
}

// PledgeStore tracks custodied collateral pledges backing outstanding credit.
type PledgeStore interface {
	RecordPledge(ctx context.Context, pledge models.Pledge) error
	ReleasePledge(ctx context.Context, pledgeId string, releasedAt time.Time) error
	GetPledge(ctx context.Context, pledgeId string) (*models.Pledge, error)
	// ActivePledgeTotal returns the sum of active pledge amounts for one
	// (user, asset). The WSP must keep this >= the mirrored inventory.
	ActivePledgeTotal(ctx context.Context, userId, asset string) (decimal.Decimal, error)
}

// SettlementStore records WSP-reported custody figures and the reports the
// reconciler derives from them.
type SettlementStore interface {
	// RecordSettlement upserts the latest reported figure for a (user, asset);
	// stale or replayed entries (by entry id) are no-ops.
	RecordSettlement(ctx context.Context, observation models.SettlementObservation) error

	// ReconciliationSnapshot reads mirrored balances and reported figures
	// consistently at a single ledger version.
	ReconciliationSnapshot(ctx context.Context) ([]models.ReconciliationRow, error)

	// SaveSettlementReports appends reports and advances the per-(user,asset)
	// last-reported state in one transaction. A zero-amount report resets the
	// state without appending a report row.
	SaveSettlementReports(ctx context.Context, reports []models.SettlementReport) error

	ListSettlementReports(ctx context.Context, limit int) ([]models.SettlementReport, error)
}

// MirrorStore is the full Exchange-side mirror contract implemented by the
// SQLite backend.
type MirrorStore interface {
	InventoryStore
	RequestStore
	PledgeStore
	SettlementStore

	Close()
}
