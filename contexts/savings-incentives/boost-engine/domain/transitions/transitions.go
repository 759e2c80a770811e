// Package transitions decides which boost statuses an event newly
// qualifies, and enforces the forward-only account state machine:
// CREATED -> OFFERED -> (UNLOCKED ->) PENDING -> REDEEMED, with a parallel exit
// to REVOKED/EXPIRED from any non-terminal state.
package transitions

import (
	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
)

// MetStatuses returns every status of the boost whose full condition list
// holds for the event. Statuses with no conditions are not event-triggerable
// and never appear in the result.
func MetStatuses(boost entities.Boost, ev conditions.Event) []entities.BoostStatus {
	met := make([]entities.BoostStatus, 0, 2)
	for status, list := range boost.StatusConditions {
		if conditions.AllMet(list, ev) {
			met = append(met, status)
		}
	}
	return met
}

// Select picks the single status to apply when several are met at once,
// using the explicit precedence encoded in entities.StatusRank
// (REDEEMED > REVOKED > EXPIRED > PENDING > UNLOCKED > OFFERED). The bool is
// false when nothing was met.
func Select(met []entities.BoostStatus) (entities.BoostStatus, bool) {
	var best entities.BoostStatus
	found := false
	for _, status := range met {
		if !found || entities.StatusRank(status) > entities.StatusRank(best) {
			best = status
			found = true
		}
	}
	return best, found
}

// CanTransition reports whether an account currently at from may move to
// to. Terminal states are absorbing, and rank never decreases: a REDEEMED
// row can never be rewritten by a later, lower-ranked event.
func CanTransition(from, to entities.BoostStatus) bool {
	if from.Terminal() {
		return false
	}
	return entities.StatusRank(to) > entities.StatusRank(from)
}
