package workers

import (
	"context"
	"log/slog"
	"time"

	application "acorn/contexts/savings-incentives/boost-engine/application"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	"acorn/contexts/savings-incentives/boost-engine/ports"
)

// ExpiryJob is the periodic sweep run by the worker process, outside the
// event call chain: boosts past their end time are deactivated and their
// open accounts expired, and individually-expired join rows are closed out.
type ExpiryJob struct {
	Repo      ports.Repository
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

func (j ExpiryJob) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(j.Logger)
	limit := j.BatchSize
	if limit <= 0 {
		limit = 100
	}
	now := j.now()
	swept := 0

	boosts, err := j.Repo.ListExpiring(ctx, now, limit)
	if err != nil {
		logger.Error("expiry sweep boost listing failed",
			"event", "boost_expiry_list_failed",
			"module", "savings-incentives/boost-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	for _, boost := range boosts {
		accounts, err := j.Repo.FindAccountsForBoost(ctx, boost.ID, entities.OpenStatuses)
		if err != nil {
			logger.Warn("expiry sweep account resolution failed",
				"event", "boost_expiry_accounts_failed",
				"module", "savings-incentives/boost-engine",
				"layer", "worker",
				"boost_id", boost.ID,
				"error", err.Error(),
			)
			continue
		}
		accountIDs := make([]string, 0, len(accounts))
		for accountID := range accounts {
			accountIDs = append(accountIDs, accountID)
		}
		// All participants may already sit in a terminal status; the boost
		// still has to close or it would be re-listed every cycle.
		if len(accountIDs) == 0 {
			if err := j.Repo.DeactivateBoost(ctx, boost.ID, "END_TIME_PASSED"); err != nil {
				logger.Error("expiry sweep deactivation failed",
					"event", "boost_expiry_deactivate_failed",
					"module", "savings-incentives/boost-engine",
					"layer", "worker",
					"boost_id", boost.ID,
					"error", err.Error(),
				)
				continue
			}
			swept++
			continue
		}
		_, err = j.Repo.WriteStatusAndLog(ctx, ports.StatusUpdate{
			BoostID:    boost.ID,
			AccountIDs: accountIDs,
			NewStatus:  entities.StatusExpired,
			LogType:    entities.LogTypeBoostDeactivated,
			LogContext: map[string]any{
				"newStatus": string(entities.StatusExpired),
				"reason":    "END_TIME_PASSED",
			},
			Deactivate: true,
			Reason:     "END_TIME_PASSED",
		})
		if err != nil {
			logger.Error("expiry sweep deactivation failed",
				"event", "boost_expiry_deactivate_failed",
				"module", "savings-incentives/boost-engine",
				"layer", "worker",
				"boost_id", boost.ID,
				"error", err.Error(),
			)
			continue
		}
		swept++
	}

	rows, err := j.Repo.ListExpiredAccountStatuses(ctx, now, limit)
	if err != nil {
		logger.Error("expiry sweep account listing failed",
			"event", "boost_expiry_account_list_failed",
			"module", "savings-incentives/boost-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return swept, err
	}
	for _, row := range rows {
		_, err := j.Repo.WriteStatusAndLog(ctx, ports.StatusUpdate{
			BoostID:    row.BoostID,
			AccountIDs: []string{row.AccountID},
			NewStatus:  entities.StatusExpired,
			LogType:    entities.LogTypeStatusChange,
			LogContext: map[string]any{
				"newStatus": string(entities.StatusExpired),
				"reason":    "ACCOUNT_EXPIRY_PASSED",
			},
		})
		if err != nil {
			logger.Warn("expiry sweep account close failed",
				"event", "boost_expiry_account_close_failed",
				"module", "savings-incentives/boost-engine",
				"layer", "worker",
				"boost_id", row.BoostID,
				"account_id", row.AccountID,
				"error", err.Error(),
			)
			continue
		}
		swept++
	}

	logger.Debug("expiry sweep cycle finished",
		"event", "boost_expiry_cycle_finished",
		"module", "savings-incentives/boost-engine",
		"layer", "worker",
		"swept", swept,
	)
	return swept, nil
}

// Run loops RunOnce on the given interval until the context is cancelled.
func (j ExpiryJob) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}

func (j ExpiryJob) now() time.Time {
	if j.Clock == nil {
		return time.Now().UTC()
	}
	return j.Clock.Now().UTC()
}
