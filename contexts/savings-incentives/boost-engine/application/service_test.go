package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/adapters/memory"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	"acorn/contexts/savings-incentives/boost-engine/ports"
)

type publishedEvent struct {
	userID    string
	eventType string
	payload   map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *eventRecorder) Publish(_ context.Context, userID string, eventType string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, publishedEvent{userID: userID, eventType: eventType, payload: payload})
	return nil
}

func (r *eventRecorder) published() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]publishedEvent(nil), r.events...)
}

type failingTransfer struct {
	calls int
	err   error
}

func (f *failingTransfer) Transfer(_ context.Context, _ []ports.TransferInstruction) (ports.TransferResponse, error) {
	f.calls++
	if f.err != nil {
		return ports.TransferResponse{}, f.err
	}
	return ports.TransferResponse{Status: ports.TransferStatusFailure}, nil
}

type fixture struct {
	store      *memory.Store
	ledger     *memory.Ledger
	dispatcher *memory.Dispatcher
	events     *eventRecorder
	service    Service
}

func newFixture(t *testing.T, seed memory.Seed) *fixture {
	t.Helper()
	store := memory.NewStore(seed)
	ledger := memory.NewLedger()
	dispatcher := memory.NewDispatcher()
	events := &eventRecorder{}
	return &fixture{
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		events:     events,
		service: Service{
			Repo:      store,
			Transfers: ledger,
			Messages:  dispatcher,
			Events:    events,
			Clock:     store,
			IDGen:     store,
		},
	}
}

func redemptionBoost(t *testing.T, id string, amount, budget int64, flags ...entities.BoostFlag) entities.Boost {
	t.Helper()
	statusConditions, err := entities.ParseStatusConditions(map[string][]string{
		string(entities.StatusRedeemed): {"save_event_greater_than #{1000::HUNDREDTH_CENT::USD}"},
	})
	if err != nil {
		t.Fatalf("parse status conditions: %v", err)
	}
	return entities.Boost{
		ID:               id,
		Label:            "Big Saver",
		ClientID:         "client-1",
		BonusPoolID:      "pool-1",
		FloatID:          "float-1",
		Amount:           amount,
		Unit:             "HUNDREDTH_CENT",
		Currency:         "USD",
		Budget:           budget,
		Active:           true,
		Flags:            flags,
		StatusConditions: statusConditions,
		MessageBindings: []entities.MessageBinding{
			{Status: entities.StatusRedeemed, InstructionID: "msg-instr-1", Target: entities.MessageTargetAll},
		},
	}
}

func offeredAccount(boostID, accountID, userID string) entities.BoostAccountStatus {
	return entities.BoostAccountStatus{
		BoostID:   boostID,
		AccountID: accountID,
		UserID:    userID,
		Status:    entities.StatusOffered,
		UpdatedAt: time.Now().UTC(),
	}
}

func qualifyingSave(accountID string) EventInput {
	return EventInput{
		AccountID: accountID,
		Context:   map[string]any{"savedAmount": "1500::HUNDREDTH_CENT::USD"},
	}
}

func TestProcessEventRejectsAnonymousEvent(t *testing.T) {
	f := newFixture(t, memory.Seed{})
	_, err := f.service.ProcessEvent(context.Background(), EventInput{Context: map[string]any{"savedAmount": "1::WHOLE_CENT::USD"}})
	if !errors.Is(err, domainerrors.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestProcessEventNoOpenBoostsIsNoOp(t *testing.T) {
	f := newFixture(t, memory.Seed{})
	result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoostsTriggered != 0 {
		t.Fatalf("expected zero triggered boosts, got %d", result.BoostsTriggered)
	}
	if len(f.ledger.Batches()) != 0 {
		t.Fatalf("no-op event must not reach the transfer collaborator")
	}
	if len(f.dispatcher.Instructions()) != 0 || len(f.events.published()) != 0 {
		t.Fatalf("no-op event must not fan out")
	}
}

func TestProcessEventUnmetConditionIsNoOp(t *testing.T) {
	f := newFixture(t, memory.Seed{
		Boosts:   []entities.Boost{redemptionBoost(t, "boost-1", 500, 5000)},
		Statuses: []entities.BoostAccountStatus{offeredAccount("boost-1", "acc-1", "user-1")},
	})

	result, err := f.service.ProcessEvent(context.Background(), EventInput{
		AccountID: "acc-1",
		Context:   map[string]any{"savedAmount": "500::HUNDREDTH_CENT::USD"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoostsTriggered != 0 {
		t.Fatalf("below-threshold save must trigger nothing, got %d", result.BoostsTriggered)
	}
	if len(f.ledger.Batches()) != 0 {
		t.Fatalf("unmet condition must not reach the transfer collaborator")
	}
	if len(f.store.Logs()) != 0 {
		t.Fatalf("unmet condition must write nothing")
	}

	row, err := f.store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if row.Status != entities.StatusOffered {
		t.Fatalf("account status must be unchanged, got %s", row.Status)
	}
}

func TestProcessEventRedeemsQualifyingBoost(t *testing.T) {
	f := newFixture(t, memory.Seed{
		Boosts:   []entities.Boost{redemptionBoost(t, "boost-1", 500, 5000)},
		Statuses: []entities.BoostAccountStatus{offeredAccount("boost-1", "acc-1", "user-1")},
	})

	result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoostsTriggered != 1 || result.Result != ProcessResultSuccess {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := result.RedeemedTotals["boost-1"]; got != 500 {
		t.Fatalf("redeemed total must equal one payout, got %d", got)
	}

	row, err := f.store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if row.Status != entities.StatusRedeemed {
		t.Fatalf("expected REDEEMED, got %s", row.Status)
	}

	batches := f.ledger.Batches()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one batch with one instruction, got %#v", batches)
	}
	instruction := batches[0][0]
	if instruction.TransactionType != ports.TransferTypeRedemption {
		t.Fatalf("expected REDEMPTION, got %s", instruction.TransactionType)
	}
	if len(instruction.Recipients) != 1 || instruction.Recipients[0].Amount != 500 {
		t.Fatalf("unexpected recipients: %#v", instruction.Recipients)
	}

	messages := f.dispatcher.Instructions()
	if len(messages) != 1 || messages[0].DestinationUserID != "user-1" || messages[0].InstructionID != "msg-instr-1" {
		t.Fatalf("unexpected messages: %#v", messages)
	}

	published := f.events.published()
	if len(published) != 1 || published[0].userID != "user-1" || published[0].eventType != EventTypeStatusChanged {
		t.Fatalf("unexpected events: %#v", published)
	}
	if published[0].payload["newStatus"] != string(entities.StatusRedeemed) {
		t.Fatalf("event payload missing new status: %#v", published[0].payload)
	}

	var changeLog *entities.BoostLog
	for _, log := range f.store.Logs() {
		if log.LogType == entities.LogTypeStatusChange {
			copied := log
			changeLog = &copied
		}
	}
	if changeLog == nil {
		t.Fatalf("status change log missing")
	}
	if settled, _ := changeLog.LogContext["amountSettled"].(int64); settled != 500 {
		t.Fatalf("log must carry the settled amount, got %v", changeLog.LogContext["amountSettled"])
	}
}

func TestTransferFailureBlocksPersistenceAndFanOut(t *testing.T) {
	for name, transfer := range map[string]*failingTransfer{
		"error":          {err: errors.New("ledger unreachable")},
		"failure_status": {},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, memory.Seed{
				Boosts:   []entities.Boost{redemptionBoost(t, "boost-1", 500, 5000)},
				Statuses: []entities.BoostAccountStatus{offeredAccount("boost-1", "acc-1", "user-1")},
			})
			f.service.Transfers = transfer

			result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
			if !errors.Is(err, domainerrors.ErrTransferFailed) {
				t.Fatalf("expected ErrTransferFailed, got %v", err)
			}
			if result.Result != ProcessResultTransferFailed {
				t.Fatalf("expected TRANSFER_FAILED result, got %s", result.Result)
			}
			if transfer.calls != 1 {
				t.Fatalf("transfer must be attempted exactly once, got %d", transfer.calls)
			}

			row, lookupErr := f.store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
			if lookupErr != nil {
				t.Fatalf("account lookup failed: %v", lookupErr)
			}
			if row.Status != entities.StatusOffered {
				t.Fatalf("failed transfer must leave status untouched, got %s", row.Status)
			}
			if len(f.store.Logs()) != 0 {
				t.Fatalf("failed transfer must write no logs")
			}
			if len(f.dispatcher.Instructions()) != 0 || len(f.events.published()) != 0 {
				t.Fatalf("failed transfer must not fan out")
			}
		})
	}
}

func TestRevocationReversesTheBoostAmount(t *testing.T) {
	statusConditions, err := entities.ParseStatusConditions(map[string][]string{
		string(entities.StatusRevoked): {"withdrawal_before #{4102444800000}"},
	})
	if err != nil {
		t.Fatalf("parse status conditions: %v", err)
	}
	boost := redemptionBoost(t, "boost-1", 500, 5000)
	boost.StatusConditions = statusConditions

	f := newFixture(t, memory.Seed{
		Boosts: []entities.Boost{boost},
		Statuses: []entities.BoostAccountStatus{
			{BoostID: "boost-1", AccountID: "acc-1", UserID: "user-1", Status: entities.StatusPending},
		},
	})

	result, err := f.service.ProcessEvent(context.Background(), EventInput{
		AccountID: "acc-1",
		Context: map[string]any{
			"withdrawalAmount": "2000::HUNDREDTH_CENT::USD",
			"timeInMillis":     int64(1700000000000),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoostsTriggered != 1 {
		t.Fatalf("expected the withdrawal to trigger the revocation, got %+v", result)
	}

	batches := f.ledger.Batches()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one reversal batch, got %#v", batches)
	}
	instruction := batches[0][0]
	if instruction.TransactionType != ports.TransferTypeReversal {
		t.Fatalf("expected REVERSAL, got %s", instruction.TransactionType)
	}
	if instruction.Recipients[0].Amount != -500 {
		t.Fatalf("reversal must negate the boost amount, got %d", instruction.Recipients[0].Amount)
	}

	row, err := f.store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if row.Status != entities.StatusRevoked {
		t.Fatalf("expected REVOKED, got %s", row.Status)
	}
	if len(f.dispatcher.Instructions()) != 0 {
		t.Fatalf("revocation must not send redemption messages")
	}
	if len(result.RedeemedTotals) != 0 {
		t.Fatalf("revocation must not recompute redeemed totals, got %#v", result.RedeemedTotals)
	}
}

func TestRedeemAllAtOnceDeactivatesAndSettlesEveryAccount(t *testing.T) {
	f := newFixture(t, memory.Seed{
		Boosts: []entities.Boost{redemptionBoost(t, "boost-1", 500, 5000, entities.FlagRedeemAllAtOnce)},
		Statuses: []entities.BoostAccountStatus{
			offeredAccount("boost-1", "acc-1", "user-1"),
			offeredAccount("boost-1", "acc-2", "user-2"),
		},
	})

	result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.RedeemedTotals["boost-1"]; got != 1000 {
		t.Fatalf("pooled redemption must settle both accounts, got %d", got)
	}

	for _, accountID := range []string{"acc-1", "acc-2"} {
		row, lookupErr := f.store.GetAccountStatus(context.Background(), "boost-1", accountID)
		if lookupErr != nil {
			t.Fatalf("account lookup failed: %v", lookupErr)
		}
		if row.Status != entities.StatusRedeemed {
			t.Fatalf("account %s must be REDEEMED, got %s", accountID, row.Status)
		}
	}

	boost, err := f.store.GetBoost(context.Background(), "boost-1")
	if err != nil {
		t.Fatalf("boost lookup failed: %v", err)
	}
	if boost.Active {
		t.Fatalf("all-at-once redemption must deactivate the boost")
	}

	reason := ""
	for _, log := range f.store.Logs() {
		if log.LogType == entities.LogTypeBoostDeactivated {
			reason, _ = log.LogContext["reason"].(string)
		}
	}
	if reason != "REDEEM_ALL_AT_ONCE" {
		t.Fatalf("deactivation must be logged with its cause, got %q", reason)
	}

	if len(f.dispatcher.Instructions()) != 2 {
		t.Fatalf("ALL-target binding must message every participant, got %#v", f.dispatcher.Instructions())
	}

	// A replay of the same behavior finds nothing open: the boost is now
	// inactive, so the second event is a no-op end to end.
	again, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-2"))
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if again.BoostsTriggered != 0 {
		t.Fatalf("replay after deactivation must trigger nothing, got %d", again.BoostsTriggered)
	}
	if len(f.ledger.Batches()) != 1 {
		t.Fatalf("replay must not reach the transfer collaborator again")
	}
}

func TestBudgetExhaustionRejectsTheRedemption(t *testing.T) {
	f := newFixture(t, memory.Seed{
		Boosts:   []entities.Boost{redemptionBoost(t, "boost-1", 500, 400)},
		Statuses: []entities.BoostAccountStatus{offeredAccount("boost-1", "acc-1", "user-1")},
	})

	result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
	if err != nil {
		t.Fatalf("per-boost persistence failures are isolated, got %v", err)
	}
	if len(result.UpdateResults) != 1 {
		t.Fatalf("expected one update outcome, got %#v", result.UpdateResults)
	}
	if !strings.Contains(result.UpdateResults[0].Error, "budget") {
		t.Fatalf("expected a budget rejection, got %q", result.UpdateResults[0].Error)
	}

	row, err := f.store.GetAccountStatus(context.Background(), "boost-1", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if row.Status != entities.StatusOffered {
		t.Fatalf("budget rejection must leave the account untouched, got %s", row.Status)
	}
	if len(result.RedeemedTotals) != 0 {
		t.Fatalf("nothing redeemed, totals must be empty: %#v", result.RedeemedTotals)
	}
	if len(f.events.published()) != 0 {
		t.Fatalf("rejected write must not fan out")
	}
}

func TestPerBoostPersistenceIsolation(t *testing.T) {
	f := newFixture(t, memory.Seed{
		Boosts: []entities.Boost{
			redemptionBoost(t, "boost-ok", 500, 5000),
			redemptionBoost(t, "boost-starved", 500, 400),
		},
		Statuses: []entities.BoostAccountStatus{
			offeredAccount("boost-ok", "acc-1", "user-1"),
			offeredAccount("boost-starved", "acc-1", "user-1"),
		},
	})

	result, err := f.service.ProcessEvent(context.Background(), qualifyingSave("acc-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BoostsTriggered != 2 {
		t.Fatalf("both boosts should trigger, got %d", result.BoostsTriggered)
	}
	if len(result.UpdateResults) != 2 {
		t.Fatalf("expected two update outcomes, got %#v", result.UpdateResults)
	}

	outcomes := make(map[string]UpdateOutcome, 2)
	for _, outcome := range result.UpdateResults {
		outcomes[outcome.BoostID] = outcome
	}
	if outcomes["boost-ok"].Error != "" {
		t.Fatalf("healthy boost must persist, got %q", outcomes["boost-ok"].Error)
	}
	if outcomes["boost-starved"].Error == "" {
		t.Fatalf("starved boost must be rejected")
	}

	okRow, err := f.store.GetAccountStatus(context.Background(), "boost-ok", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if okRow.Status != entities.StatusRedeemed {
		t.Fatalf("healthy boost account must be REDEEMED, got %s", okRow.Status)
	}
	starvedRow, err := f.store.GetAccountStatus(context.Background(), "boost-starved", "acc-1")
	if err != nil {
		t.Fatalf("account lookup failed: %v", err)
	}
	if starvedRow.Status != entities.StatusOffered {
		t.Fatalf("starved boost account must be untouched, got %s", starvedRow.Status)
	}

	if got := result.RedeemedTotals["boost-ok"]; got != 500 {
		t.Fatalf("only the persisted boost counts toward totals, got %#v", result.RedeemedTotals)
	}
	if _, present := result.RedeemedTotals["boost-starved"]; present {
		t.Fatalf("rejected boost must not appear in totals")
	}
}

func TestRepeatedRedemptionsStayWithinBudget(t *testing.T) {
	boost := redemptionBoost(t, "boost-1", 500, 1000)
	statuses := []entities.BoostAccountStatus{
		offeredAccount("boost-1", "acc-1", "user-1"),
		offeredAccount("boost-1", "acc-2", "user-2"),
		offeredAccount("boost-1", "acc-3", "user-3"),
	}
	f := newFixture(t, memory.Seed{Boosts: []entities.Boost{boost}, Statuses: statuses})

	succeeded := 0
	for _, accountID := range []string{"acc-1", "acc-2", "acc-3"} {
		result, err := f.service.ProcessEvent(context.Background(), qualifyingSave(accountID))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", accountID, err)
		}
		for _, outcome := range result.UpdateResults {
			if outcome.Error == "" {
				succeeded++
			}
		}
	}
	if succeeded != 2 {
		t.Fatalf("a 1000 budget funds exactly two 500 payouts, got %d", succeeded)
	}

	stored, err := f.store.GetBoost(context.Background(), "boost-1")
	if err != nil {
		t.Fatalf("boost lookup failed: %v", err)
	}
	if stored.Redeemed != 1000 {
		t.Fatalf("recomputed redeemed total must equal the budget, got %d", stored.Redeemed)
	}
	if stored.Redeemed > stored.Budget {
		t.Fatalf("redeemed total exceeded budget: %d > %d", stored.Redeemed, stored.Budget)
	}
}
