package transitions

import (
	"testing"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
)

func condition(t *testing.T, raw string) conditions.Condition {
	t.Helper()
	parsed, err := conditions.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q failed: %v", raw, err)
	}
	return parsed
}

func TestMetStatusesEvaluatesEveryConditionSet(t *testing.T) {
	boost := entities.Boost{
		ID: "boost-1",
		StatusConditions: map[entities.BoostStatus][]conditions.Condition{
			entities.StatusPending: {
				condition(t, "save_event_greater_than #{100::WHOLE_CENT::USD}"),
			},
			entities.StatusRedeemed: {
				condition(t, "save_event_greater_than #{1000::WHOLE_CENT::USD}"),
			},
		},
	}

	small := conditions.Event{
		AccountID: "acc-1",
		Context:   map[string]any{"savedAmount": "500::WHOLE_CENT::USD"},
	}
	met := MetStatuses(boost, small)
	if len(met) != 1 || met[0] != entities.StatusPending {
		t.Fatalf("expected only PENDING met, got %#v", met)
	}

	large := conditions.Event{
		AccountID: "acc-1",
		Context:   map[string]any{"savedAmount": "2000::WHOLE_CENT::USD"},
	}
	if len(MetStatuses(boost, large)) != 2 {
		t.Fatalf("expected both condition sets met for the large save")
	}
}

func TestSelectPrefersHighestRankedStatus(t *testing.T) {
	selected, ok := Select([]entities.BoostStatus{
		entities.StatusPending,
		entities.StatusRedeemed,
		entities.StatusUnlocked,
	})
	if !ok || selected != entities.StatusRedeemed {
		t.Fatalf("expected REDEEMED to win, got %s ok=%v", selected, ok)
	}

	selected, ok = Select([]entities.BoostStatus{
		entities.StatusRevoked,
		entities.StatusPending,
	})
	if !ok || selected != entities.StatusRevoked {
		t.Fatalf("expected REVOKED over PENDING, got %s", selected)
	}

	if _, ok := Select(nil); ok {
		t.Fatalf("empty set must select nothing")
	}
}

func TestCanTransitionIsForwardOnly(t *testing.T) {
	if !CanTransition(entities.StatusOffered, entities.StatusPending) {
		t.Fatalf("OFFERED->PENDING must be allowed")
	}
	if !CanTransition(entities.StatusPending, entities.StatusRedeemed) {
		t.Fatalf("PENDING->REDEEMED must be allowed")
	}
	if CanTransition(entities.StatusPending, entities.StatusOffered) {
		t.Fatalf("status rank must never decrease")
	}
	if CanTransition(entities.StatusPending, entities.StatusPending) {
		t.Fatalf("self transition is not a transition")
	}
}

func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	for _, terminal := range []entities.BoostStatus{entities.StatusRedeemed, entities.StatusExpired} {
		for _, next := range []entities.BoostStatus{
			entities.StatusOffered,
			entities.StatusPending,
			entities.StatusRevoked,
			entities.StatusRedeemed,
		} {
			if CanTransition(terminal, next) {
				t.Fatalf("%s is terminal, transition to %s must be rejected", terminal, next)
			}
		}
	}
}
