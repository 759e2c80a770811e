package application

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	"acorn/contexts/savings-incentives/boost-engine/domain/transitions"
	"acorn/contexts/savings-incentives/boost-engine/ports"
)

const moduleName = "savings-incentives/boost-engine"

// EventTypeStatusChanged is the domain event emitted per affected user once
// a boost's status change has been durably persisted.
const EventTypeStatusChanged = "boost.status.changed"

type Service struct {
	Repo      ports.Repository
	Transfers ports.FundsTransfer
	Messages  ports.MessageDispatcher
	Events    ports.EventPublisher
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    *slog.Logger
}

// EventInput is an incoming behavioral event. At least one of
// AccountID/UserID identifies the actor.
type EventInput struct {
	AccountID string
	UserID    string
	Context   map[string]any
}

type UpdateOutcome struct {
	BoostID     string
	UpdatedTime time.Time
	Error       string
}

const (
	ProcessResultSuccess        = "SUCCESS"
	ProcessResultTransferFailed = "TRANSFER_FAILED"
)

type ProcessResult struct {
	BoostsTriggered int
	Result          string
	TransferResults map[string]ports.TransferResult
	UpdateResults   []UpdateOutcome
	RedeemedTotals  map[string]int64
}

// triggeredBoost is one boost that crossed a status threshold for this
// event, with the accounts the transition applies to.
type triggeredBoost struct {
	boost    entities.Boost
	target   entities.BoostStatus
	accounts map[string]string // accountID -> userID
}

func (t triggeredBoost) monetary() bool {
	return t.target == entities.StatusRedeemed || t.target == entities.StatusRevoked
}

// ProcessEvent is the redemption orchestrator. One synchronous call chain
// per event: select open boosts, compute transitions, gate every monetary
// mutation behind a single batched funds transfer, persist per boost in
// isolation, recompute redeemed totals, then fan out notifications and
// domain events strictly after persistence.
func (s Service) ProcessEvent(ctx context.Context, input EventInput) (ProcessResult, error) {
	logger := ResolveLogger(s.Logger)
	input.AccountID = strings.TrimSpace(input.AccountID)
	input.UserID = strings.TrimSpace(input.UserID)
	if input.AccountID == "" && input.UserID == "" {
		return ProcessResult{}, domainerrors.ErrInvalidEvent
	}

	boosts, err := s.Repo.FindOpenBoosts(ctx, ports.OpenBoostFilter{
		AccountID: input.AccountID,
		UserID:    input.UserID,
		Statuses:  entities.OpenStatuses,
	})
	if err != nil {
		logger.Error("open boost lookup failed",
			"event", "boost_open_lookup_failed",
			"module", moduleName,
			"layer", "application",
			"account_id", input.AccountID,
			"user_id", input.UserID,
			"error", err.Error(),
		)
		return ProcessResult{}, err
	}
	if len(boosts) == 0 {
		return ProcessResult{BoostsTriggered: 0}, nil
	}

	ev := conditions.Event{
		AccountID: input.AccountID,
		UserID:    input.UserID,
		Context:   input.Context,
	}
	triggered := make([]*triggeredBoost, 0, len(boosts))
	for _, boost := range boosts {
		target, ok := transitions.Select(transitions.MetStatuses(boost, ev))
		if !ok {
			continue
		}
		triggered = append(triggered, &triggeredBoost{boost: boost, target: target})
	}
	if len(triggered) == 0 {
		return ProcessResult{BoostsTriggered: 0}, nil
	}

	s.resolveAffectedAccounts(ctx, input, triggered)
	live := triggered[:0]
	for _, item := range triggered {
		if len(item.accounts) == 0 {
			logger.Warn("boost transition has no affected accounts",
				"event", "boost_no_affected_accounts",
				"module", moduleName,
				"layer", "application",
				"boost_id", item.boost.ID,
				"target_status", item.target,
			)
			continue
		}
		live = append(live, item)
	}
	triggered = live
	if len(triggered) == 0 {
		return ProcessResult{BoostsTriggered: 0}, nil
	}

	result := ProcessResult{
		BoostsTriggered: len(triggered),
		Result:          ProcessResultSuccess,
		TransferResults: make(map[string]ports.TransferResult),
		RedeemedTotals:  make(map[string]int64),
	}

	// Step 5/6: one combined batch per event. This call is the consistency
	// boundary: nothing monetary is persisted unless it succeeds.
	instructions := make([]ports.TransferInstruction, 0, len(triggered))
	for _, item := range triggered {
		if item.monetary() {
			instructions = append(instructions, buildTransferInstruction(*item))
		}
	}
	transferOK := true
	if len(instructions) > 0 {
		response, transferErr := s.Transfers.Transfer(ctx, instructions)
		if transferErr != nil || response.Status != ports.TransferStatusSuccess {
			transferOK = false
			result.Result = ProcessResultTransferFailed
			logFields := []any{
				"event", "boost_transfer_batch_failed",
				"module", moduleName,
				"layer", "application",
				"instruction_count", len(instructions),
			}
			if transferErr != nil {
				logFields = append(logFields, "error", transferErr.Error())
			} else {
				logFields = append(logFields, "status", response.Status)
			}
			logger.Error("funds transfer batch failed", logFields...)
		} else {
			result.TransferResults = response.Results
		}
	}

	// Step 7: persist per boost, isolated. Monetary transitions are skipped
	// wholesale when the transfer gate did not pass.
	persisted := make([]*triggeredBoost, 0, len(triggered))
	for _, item := range triggered {
		if item.monetary() && !transferOK {
			continue
		}
		outcome := s.persistTransition(ctx, input, *item, result.TransferResults[item.boost.ID])
		result.UpdateResults = append(result.UpdateResults, outcome)
		if outcome.Error == "" {
			persisted = append(persisted, item)
		}
	}

	// Step 8: redeemed totals come from the logs, not from incrementing a
	// counter under the event; this is the reconciliation source of truth.
	redeemedIDs := make([]string, 0, len(persisted))
	for _, item := range persisted {
		if item.target == entities.StatusRedeemed {
			redeemedIDs = append(redeemedIDs, item.boost.ID)
		}
	}
	if len(redeemedIDs) > 0 {
		totals, recomputeErr := s.Repo.RecomputeRedeemed(ctx, redeemedIDs)
		if recomputeErr != nil {
			logger.Error("redeemed total recompute failed",
				"event", "boost_redeemed_recompute_failed",
				"module", moduleName,
				"layer", "application",
				"boost_ids", redeemedIDs,
				"error", recomputeErr.Error(),
			)
		} else {
			result.RedeemedTotals = totals
		}
	}

	// Steps 9/10: side-effect fan-out, only for boosts whose own write
	// committed. Concurrent and best effort; the orchestrator waits so a
	// caller-imposed deadline bounds the whole chain.
	s.fanOut(ctx, input, persisted)

	if !transferOK {
		return result, domainerrors.ErrTransferFailed
	}
	logger.Info("boost event processed",
		"event", "boost_event_processed",
		"module", moduleName,
		"layer", "application",
		"account_id", input.AccountID,
		"user_id", input.UserID,
		"boosts_triggered", result.BoostsTriggered,
		"transfer_count", len(instructions),
	)
	return result, nil
}

// resolveAffectedAccounts fills each triggered boost's account set: every
// open account for pooled all-at-once boosts, the initiator alone otherwise.
// Reads are independent, so they run concurrently; a failed read degrades
// that boost to an empty map rather than failing the event.
func (s Service) resolveAffectedAccounts(ctx context.Context, input EventInput, triggered []*triggeredBoost) {
	logger := ResolveLogger(s.Logger)
	var wg sync.WaitGroup
	for _, item := range triggered {
		wg.Add(1)
		go func(item *triggeredBoost) {
			defer wg.Done()
			accounts, err := s.accountsFor(ctx, input, item.boost)
			if err != nil {
				logger.Warn("affected account resolution failed",
					"event", "boost_affected_resolution_failed",
					"module", moduleName,
					"layer", "application",
					"boost_id", item.boost.ID,
					"error", err.Error(),
				)
				accounts = map[string]string{}
			}
			item.accounts = accounts
		}(item)
	}
	wg.Wait()
}

func (s Service) accountsFor(ctx context.Context, input EventInput, boost entities.Boost) (map[string]string, error) {
	if boost.HasFlag(entities.FlagRedeemAllAtOnce) {
		return s.Repo.FindAccountsForBoost(ctx, boost.ID, entities.OpenStatuses)
	}
	if input.AccountID != "" {
		row, err := s.Repo.GetAccountStatus(ctx, boost.ID, input.AccountID)
		if err != nil {
			return nil, err
		}
		return map[string]string{row.AccountID: row.UserID}, nil
	}
	all, err := s.Repo.FindAccountsForBoost(ctx, boost.ID, entities.OpenStatuses)
	if err != nil {
		return nil, err
	}
	mine := make(map[string]string, 1)
	for accountID, userID := range all {
		if userID == input.UserID {
			mine[accountID] = userID
		}
	}
	return mine, nil
}

func buildTransferInstruction(item triggeredBoost) ports.TransferInstruction {
	amount := item.boost.Amount
	transferType := ports.TransferTypeRedemption
	if item.target == entities.StatusRevoked {
		amount = -amount
		transferType = ports.TransferTypeReversal
	}
	recipients := make([]ports.TransferRecipient, 0, len(item.accounts))
	for accountID := range item.accounts {
		recipients = append(recipients, ports.TransferRecipient{
			AccountID:     accountID,
			Amount:        amount,
			RecipientType: "END_USER_ACCOUNT",
		})
	}
	return ports.TransferInstruction{
		BoostID:         item.boost.ID,
		FloatID:         item.boost.FloatID,
		FromID:          item.boost.BonusPoolID,
		Currency:        item.boost.Currency,
		Unit:            item.boost.Unit,
		Recipients:      recipients,
		TransactionType: transferType,
	}
}

func (s Service) persistTransition(
	ctx context.Context,
	input EventInput,
	item triggeredBoost,
	transfer ports.TransferResult,
) UpdateOutcome {
	logger := ResolveLogger(s.Logger)
	accountIDs := make([]string, 0, len(item.accounts))
	for accountID := range item.accounts {
		accountIDs = append(accountIDs, accountID)
	}
	logContext := map[string]any{
		"newStatus":   string(item.target),
		"accountIds":  accountIDs,
		"initiator":   initiatorID(input),
		"boostAmount": item.boost.Amount,
	}
	if item.target == entities.StatusRedeemed {
		logContext["amountSettled"] = item.boost.Amount * int64(len(accountIDs))
	}
	if item.target == entities.StatusRevoked {
		logContext["amountSettled"] = -item.boost.Amount * int64(len(accountIDs))
	}
	if len(transfer.AccountTxIDs) > 0 {
		logContext["accountTxIds"] = transfer.AccountTxIDs
	}

	update := ports.StatusUpdate{
		BoostID:    item.boost.ID,
		AccountIDs: accountIDs,
		NewStatus:  item.target,
		LogType:    entities.LogTypeStatusChange,
		LogContext: logContext,
		Deactivate: item.target == entities.StatusRedeemed && item.boost.HasFlag(entities.FlagRedeemAllAtOnce),
	}
	if update.Deactivate {
		update.Reason = "REDEEM_ALL_AT_ONCE"
	}
	written, err := s.Repo.WriteStatusAndLog(ctx, update)
	if err != nil {
		logger.Error("boost status persistence failed",
			"event", "boost_status_persist_failed",
			"module", moduleName,
			"layer", "application",
			"boost_id", item.boost.ID,
			"target_status", item.target,
			"error", err.Error(),
		)
		return UpdateOutcome{BoostID: item.boost.ID, Error: err.Error()}
	}
	logger.Info("boost status persisted",
		"event", "boost_status_persisted",
		"module", moduleName,
		"layer", "application",
		"boost_id", item.boost.ID,
		"target_status", item.target,
		"account_count", len(accountIDs),
		"deactivated", update.Deactivate,
	)
	return UpdateOutcome{BoostID: item.boost.ID, UpdatedTime: written.UpdatedTime}
}

// fanOut dispatches notifications and domain events for boosts whose
// persistence committed. The two streams run concurrently with each other;
// errors are logged and swallowed.
func (s Service) fanOut(ctx context.Context, input EventInput, persisted []*triggeredBoost) {
	logger := ResolveLogger(s.Logger)
	var wg sync.WaitGroup

	for _, item := range persisted {
		if item.target != entities.StatusRedeemed {
			continue
		}
		instructions := buildMessageInstructions(input, *item)
		if len(instructions) == 0 {
			continue
		}
		wg.Add(1)
		go func(boostID string, instructions []ports.MessageInstruction) {
			defer wg.Done()
			if err := s.Messages.Dispatch(ctx, instructions); err != nil {
				logger.Warn("boost notification dispatch failed",
					"event", "boost_notification_dispatch_failed",
					"module", moduleName,
					"layer", "application",
					"boost_id", boostID,
					"instruction_count", len(instructions),
					"error", err.Error(),
				)
			}
		}(item.boost.ID, instructions)
	}

	for _, item := range persisted {
		for _, userID := range uniqueUsers(item.accounts) {
			wg.Add(1)
			go func(item triggeredBoost, userID string) {
				defer wg.Done()
				payload := map[string]any{
					"boostId":   item.boost.ID,
					"newStatus": string(item.target),
					"initiator": initiatorID(input),
				}
				if err := s.Events.Publish(ctx, userID, EventTypeStatusChanged, payload); err != nil {
					logger.Warn("boost event publish failed",
						"event", "boost_event_publish_failed",
						"module", moduleName,
						"layer", "application",
						"boost_id", item.boost.ID,
						"user_id", userID,
						"error", err.Error(),
					)
				}
			}(*item, userID)
		}
	}
	wg.Wait()
}

func buildMessageInstructions(input EventInput, item triggeredBoost) []ports.MessageInstruction {
	parameters := map[string]string{
		"boostId":    item.boost.ID,
		"boostLabel": item.boost.Label,
		"newStatus":  string(item.target),
	}
	instructions := make([]ports.MessageInstruction, 0, len(item.accounts))
	for _, binding := range item.boost.MessageBindings {
		if binding.Status != item.target {
			continue
		}
		switch binding.Target {
		case entities.MessageTargetAll:
			for _, userID := range uniqueUsers(item.accounts) {
				instructions = append(instructions, ports.MessageInstruction{
					InstructionID:     binding.InstructionID,
					DestinationUserID: userID,
					Parameters:        parameters,
				})
			}
		case entities.MessageTargetInitiator:
			userID := input.UserID
			if userID == "" {
				userID = item.accounts[input.AccountID]
			}
			if userID != "" {
				instructions = append(instructions, ports.MessageInstruction{
					InstructionID:     binding.InstructionID,
					DestinationUserID: userID,
					Parameters:        parameters,
				})
			}
		}
	}
	return instructions
}

func uniqueUsers(accounts map[string]string) []string {
	seen := make(map[string]struct{}, len(accounts))
	users := make([]string, 0, len(accounts))
	for _, userID := range accounts {
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	return users
}

func initiatorID(input EventInput) string {
	if input.AccountID != "" {
		return input.AccountID
	}
	return input.UserID
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}
