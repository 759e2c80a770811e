package entities

import (
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
)

type BoostStatus string

const (
	StatusCreated  BoostStatus = "CREATED"
	StatusOffered  BoostStatus = "OFFERED"
	StatusUnlocked BoostStatus = "UNLOCKED"
	StatusPending  BoostStatus = "PENDING"
	StatusExpired  BoostStatus = "EXPIRED"
	StatusRevoked  BoostStatus = "REVOKED"
	StatusRedeemed BoostStatus = "REDEEMED"
)

// statusRank is the explicit total order over boost statuses. Terminal and
// monetary statuses outrank progress statuses, so when one event satisfies
// several status condition sets the highest-ranked status wins, and a later
// event can never move an account to a lower-ranked status.
var statusRank = map[BoostStatus]int{
	StatusCreated:  0,
	StatusOffered:  1,
	StatusUnlocked: 2,
	StatusPending:  3,
	StatusExpired:  4,
	StatusRevoked:  5,
	StatusRedeemed: 6,
}

func StatusRank(status BoostStatus) int {
	rank, ok := statusRank[status]
	if !ok {
		return -1
	}
	return rank
}

func (s BoostStatus) Terminal() bool {
	return s == StatusRedeemed || s == StatusExpired
}

// OpenStatuses are the join-record statuses that keep an account in play for
// a boost: only accounts sitting in one of these can still transition.
var OpenStatuses = []BoostStatus{StatusOffered, StatusPending}

type BoostFlag string

const (
	// FlagRedeemAllAtOnce ends the boost for every participant as soon as
	// any one account redeems it.
	FlagRedeemAllAtOnce BoostFlag = "REDEEM_ALL_AT_ONCE"
	// FlagRandomAllocation marks boosts whose payout is drawn from a pooled
	// pot rather than a fixed per-account amount.
	FlagRandomAllocation BoostFlag = "RANDOM_ALLOCATION"
)

type MessageTarget string

const (
	MessageTargetAll       MessageTarget = "ALL"
	MessageTargetInitiator MessageTarget = "INITIATOR"
)

// MessageBinding links a status transition to a pre-registered message
// instruction owned by the messaging collaborator.
type MessageBinding struct {
	Status        BoostStatus
	InstructionID string
	Target        MessageTarget
}

// Boost is a reward campaign funded from a bonus pool. Rules are immutable
// after creation; boosts are deactivated, never deleted.
type Boost struct {
	ID       string
	Label    string
	ClientID string

	BonusPoolID string
	FloatID     string

	Amount   int64
	Unit     conditions.AmountUnit
	Currency string
	Budget   int64
	Redeemed int64

	Active    bool
	Flags     []BoostFlag
	StartTime time.Time
	EndTime   time.Time

	StatusConditions map[BoostStatus][]conditions.Condition
	MessageBindings  []MessageBinding

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Boost) HasFlag(flag BoostFlag) bool {
	for _, candidate := range b.Flags {
		if candidate == flag {
			return true
		}
	}
	return false
}

// Open reports whether the boost can still be offered against: active,
// inside its window, and with budget headroom for at least one more payout.
func (b Boost) Open(now time.Time) bool {
	if !b.Active {
		return false
	}
	if !b.EndTime.IsZero() && now.After(b.EndTime) {
		return false
	}
	return b.Redeemed < b.Budget
}

// ParseStatusConditions builds the parse-once condition AST for a boost's
// raw status->condition-string mapping. Any malformed string fails the whole
// set; boosts with unparseable rules must never go live.
func ParseStatusConditions(raw map[string][]string) (map[BoostStatus][]conditions.Condition, error) {
	parsed := make(map[BoostStatus][]conditions.Condition, len(raw))
	for status, list := range raw {
		set := make([]conditions.Condition, 0, len(list))
		for _, expr := range list {
			condition, err := conditions.Parse(expr)
			if err != nil {
				return nil, err
			}
			set = append(set, condition)
		}
		parsed[BoostStatus(status)] = set
	}
	return parsed, nil
}

// BoostAccountStatus is the per-account join row tracking progress on a
// boost. Rows are created when the boost is offered and only ever move
// forward in status rank; terminal rows persist for audit.
type BoostAccountStatus struct {
	BoostID    string
	AccountID  string
	UserID     string
	Status     BoostStatus
	ExpiryTime *time.Time
	UpdatedAt  time.Time
}

type LogType string

const (
	LogTypeBoostCreated     LogType = "BOOST_CREATED"
	LogTypeStatusChange     LogType = "STATUS_CHANGE"
	LogTypeBoostDeactivated LogType = "BOOST_DEACTIVATED"
)

// BoostLog is the append-only audit trail. Redemption rows double as the
// source of truth when redeemed totals are recomputed.
type BoostLog struct {
	ID         string
	BoostID    string
	AccountID  string
	LogType    LogType
	LogContext map[string]any
	CreatedAt  time.Time
}
