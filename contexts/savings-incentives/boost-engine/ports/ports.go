package ports

import (
	"context"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
)

// OpenBoostFilter selects boosts still in play for an actor: the actor has
// a join row in one of Statuses, the boost is active, under budget, and
// inside its time window. Exactly one of AccountID/UserID is set.
type OpenBoostFilter struct {
	AccountID string
	UserID    string
	Statuses  []entities.BoostStatus
}

// StatusUpdate is one boost's persistence step: move the listed accounts to
// NewStatus and append one audit log row, atomically per boost. Deactivate
// additionally flips the boost inactive and logs a deactivation event inside
// the same write.
type StatusUpdate struct {
	BoostID    string
	AccountIDs []string
	NewStatus  entities.BoostStatus
	LogType    entities.LogType
	LogContext map[string]any
	Deactivate bool
	// Reason is recorded on the deactivation log row when Deactivate is set.
	Reason string
}

type UpdateResult struct {
	BoostID     string
	UpdatedTime time.Time
}

type Repository interface {
	CreateBoost(ctx context.Context, boost entities.Boost, audience []entities.BoostAccountStatus) error
	GetBoost(ctx context.Context, boostID string) (entities.Boost, error)
	FindOpenBoosts(ctx context.Context, filter OpenBoostFilter) ([]entities.Boost, error)
	// FindAccountsForBoost resolves accountID -> userID for every account
	// of the boost currently in one of the given statuses.
	FindAccountsForBoost(ctx context.Context, boostID string, statuses []entities.BoostStatus) (map[string]string, error)
	GetAccountStatus(ctx context.Context, boostID string, accountID string) (entities.BoostAccountStatus, error)
	ListBoostsForUser(ctx context.Context, userID string) ([]entities.BoostAccountStatus, error)
	WriteStatusAndLog(ctx context.Context, update StatusUpdate) (UpdateResult, error)
	// DeactivateBoost flips the boost inactive and logs the reason, without
	// touching any account row. Used when a boost must close even though no
	// account is left to transition.
	DeactivateBoost(ctx context.Context, boostID string, reason string) error
	AppendLog(ctx context.Context, log entities.BoostLog) error
	// RecomputeRedeemed re-derives each boost's redeemed total from its
	// redemption logs and persists it, returning the new totals.
	RecomputeRedeemed(ctx context.Context, boostIDs []string) (map[string]int64, error)
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]entities.Boost, error)
	ListExpiredAccountStatuses(ctx context.Context, now time.Time, limit int) ([]entities.BoostAccountStatus, error)
}

type TransferType string

const (
	TransferTypeRedemption TransferType = "REDEMPTION"
	TransferTypeReversal   TransferType = "REVERSAL"
)

type TransferRecipient struct {
	AccountID     string
	Amount        int64
	RecipientType string
}

// TransferInstruction is the ephemeral per-boost request handed to the
// funds-transfer collaborator. Reversal instructions carry negated amounts.
type TransferInstruction struct {
	BoostID         string
	FloatID         string
	FromID          string
	Currency        string
	Unit            conditions.AmountUnit
	Recipients      []TransferRecipient
	TransactionType TransferType
}

type TransferResult struct {
	BoostID        string
	AccountTxIDs   map[string]string
	AmountSettled  int64
	TransferStatus string
}

const (
	TransferStatusSuccess = "SUCCESS"
	TransferStatusFailure = "FAILURE"
)

type TransferResponse struct {
	Status  string
	Results map[string]TransferResult
}

// FundsTransfer moves money out of (or back into) the bonus pool. It is
// invoked at most once per event with the full batch; any non-success
// response means no money moved for any boost in the batch.
type FundsTransfer interface {
	Transfer(ctx context.Context, instructions []TransferInstruction) (TransferResponse, error)
}

type MessageInstruction struct {
	InstructionID     string
	DestinationUserID string
	Parameters        map[string]string
}

// MessageDispatcher fans user notifications out to the messaging
// collaborator. Best effort: failures are logged by callers, never retried
// here and never surfaced to the triggering request.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, instructions []MessageInstruction) error
}

// EventPublisher emits domain events after a boost's status change has been
// durably persisted.
type EventPublisher interface {
	Publish(ctx context.Context, userID string, eventType string, payload map[string]any) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
