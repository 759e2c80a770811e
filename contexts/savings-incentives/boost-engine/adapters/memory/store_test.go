package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	"acorn/contexts/savings-incentives/boost-engine/ports"
)

func seedBoost(id string, active bool, redeemed, budget int64, endTime time.Time) entities.Boost {
	return entities.Boost{
		ID:       id,
		Label:    id,
		Amount:   500,
		Budget:   budget,
		Redeemed: redeemed,
		Active:   active,
		EndTime:  endTime,
	}
}

func TestFindOpenBoostsFiltersClosedOnes(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	store := NewStore(Seed{
		Boosts: []entities.Boost{
			seedBoost("boost-open", true, 0, 5000, time.Time{}),
			seedBoost("boost-inactive", false, 0, 5000, time.Time{}),
			seedBoost("boost-spent", true, 5000, 5000, time.Time{}),
			seedBoost("boost-ended", true, 0, 5000, past),
		},
		Statuses: []entities.BoostAccountStatus{
			{BoostID: "boost-open", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusOffered},
			{BoostID: "boost-inactive", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusOffered},
			{BoostID: "boost-spent", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusOffered},
			{BoostID: "boost-ended", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusOffered},
		},
	})

	boosts, err := store.FindOpenBoosts(context.Background(), ports.OpenBoostFilter{
		AccountID: "acc-1",
		Statuses:  entities.OpenStatuses,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(boosts) != 1 || boosts[0].ID != "boost-open" {
		t.Fatalf("only the open boost should match, got %#v", boosts)
	}
}

func TestFindOpenBoostsIgnoresTerminalJoinRows(t *testing.T) {
	store := NewStore(Seed{
		Boosts: []entities.Boost{seedBoost("boost-1", true, 0, 5000, time.Time{})},
		Statuses: []entities.BoostAccountStatus{
			{BoostID: "boost-1", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusRedeemed},
		},
	})

	boosts, err := store.FindOpenBoosts(context.Background(), ports.OpenBoostFilter{
		AccountID: "acc-1",
		Statuses:  entities.OpenStatuses,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(boosts) != 0 {
		t.Fatalf("redeemed join row must not surface the boost, got %#v", boosts)
	}
}

func TestWriteStatusAndLogRejectsRegression(t *testing.T) {
	store := NewStore(Seed{
		Boosts: []entities.Boost{seedBoost("boost-1", true, 0, 5000, time.Time{})},
		Statuses: []entities.BoostAccountStatus{
			{BoostID: "boost-1", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusRedeemed},
		},
	})

	_, err := store.WriteStatusAndLog(context.Background(), ports.StatusUpdate{
		BoostID:    "boost-1",
		AccountIDs: []string{"acc-1"},
		NewStatus:  entities.StatusPending,
		LogType:    entities.LogTypeStatusChange,
	})
	if !errors.Is(err, domainerrors.ErrStatusRegression) {
		t.Fatalf("expected ErrStatusRegression, got %v", err)
	}
	if len(store.Logs()) != 0 {
		t.Fatalf("rejected write must not log")
	}
}

func TestWriteStatusAndLogEnforcesBudget(t *testing.T) {
	store := NewStore(Seed{
		Boosts: []entities.Boost{seedBoost("boost-1", true, 800, 1000, time.Time{})},
		Statuses: []entities.BoostAccountStatus{
			{BoostID: "boost-1", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusPending},
		},
	})

	_, err := store.WriteStatusAndLog(context.Background(), ports.StatusUpdate{
		BoostID:    "boost-1",
		AccountIDs: []string{"acc-1"},
		NewStatus:  entities.StatusRedeemed,
		LogType:    entities.LogTypeStatusChange,
	})
	if !errors.Is(err, domainerrors.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	row, err := store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if row.Status != entities.StatusPending {
		t.Fatalf("rejected write must leave the row untouched, got %s", row.Status)
	}
}

func TestRecomputeRedeemedSumsOnlyRedemptionLogs(t *testing.T) {
	store := NewStore(Seed{
		Boosts: []entities.Boost{seedBoost("boost-1", true, 0, 5000, time.Time{})},
	})

	ctx := context.Background()
	logs := []entities.BoostLog{
		{BoostID: "boost-1", LogType: entities.LogTypeStatusChange, LogContext: map[string]any{
			"newStatus": string(entities.StatusRedeemed), "amountSettled": int64(500),
		}},
		{BoostID: "boost-1", LogType: entities.LogTypeStatusChange, LogContext: map[string]any{
			"newStatus": string(entities.StatusRedeemed), "amountSettled": int64(500),
		}},
		{BoostID: "boost-1", LogType: entities.LogTypeStatusChange, LogContext: map[string]any{
			"newStatus": string(entities.StatusPending),
		}},
		{BoostID: "boost-1", LogType: entities.LogTypeBoostCreated, LogContext: map[string]any{
			"amountSettled": int64(999),
		}},
		{BoostID: "boost-other", LogType: entities.LogTypeStatusChange, LogContext: map[string]any{
			"newStatus": string(entities.StatusRedeemed), "amountSettled": int64(123),
		}},
	}
	for _, log := range logs {
		if err := store.AppendLog(ctx, log); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	totals, err := store.RecomputeRedeemed(ctx, []string{"boost-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals["boost-1"] != 1000 {
		t.Fatalf("expected 1000 from the two redemption logs, got %d", totals["boost-1"])
	}

	boost, err := store.GetBoost(ctx, "boost-1")
	if err != nil {
		t.Fatalf("boost lookup failed: %v", err)
	}
	if boost.Redeemed != 1000 {
		t.Fatalf("recomputed total must be persisted, got %d", boost.Redeemed)
	}
}
