package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	"acorn/contexts/savings-incentives/boost-engine/domain/transitions"
	"acorn/contexts/savings-incentives/boost-engine/ports"

	"github.com/google/uuid"
)

// Store is the in-memory persistence gateway used by tests and local runs.
// It doubles as Clock and IDGenerator for module wiring, matching how the
// other service stores in this repository are seeded.
type Store struct {
	mu sync.RWMutex

	boosts   map[string]entities.Boost
	statuses map[string]entities.BoostAccountStatus // key: boostID|accountID
	logs     []entities.BoostLog
}

func statusKey(boostID, accountID string) string {
	return boostID + "|" + accountID
}

type Seed struct {
	Boosts   []entities.Boost
	Statuses []entities.BoostAccountStatus
}

func NewStore(seed Seed) *Store {
	store := &Store{
		boosts:   make(map[string]entities.Boost, len(seed.Boosts)),
		statuses: make(map[string]entities.BoostAccountStatus, len(seed.Statuses)),
	}
	for _, boost := range seed.Boosts {
		store.boosts[boost.ID] = boost
	}
	for _, row := range seed.Statuses {
		store.statuses[statusKey(row.BoostID, row.AccountID)] = row
	}
	return store
}

func (s *Store) CreateBoost(_ context.Context, boost entities.Boost, audience []entities.BoostAccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.boosts[boost.ID]; exists {
		return domainerrors.ErrBoostExists
	}
	s.boosts[boost.ID] = boost
	for _, row := range audience {
		s.statuses[statusKey(row.BoostID, row.AccountID)] = row
	}
	return nil
}

func (s *Store) GetBoost(_ context.Context, boostID string) (entities.Boost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boost, exists := s.boosts[strings.TrimSpace(boostID)]
	if !exists {
		return entities.Boost{}, domainerrors.ErrBoostNotFound
	}
	return boost, nil
}

func (s *Store) FindOpenBoosts(_ context.Context, filter ports.OpenBoostFilter) ([]entities.Boost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	matched := make(map[string]struct{})
	for _, row := range s.statuses {
		if filter.AccountID != "" && row.AccountID != filter.AccountID {
			continue
		}
		if filter.AccountID == "" && filter.UserID != "" && row.UserID != filter.UserID {
			continue
		}
		if !statusIn(row.Status, filter.Statuses) {
			continue
		}
		matched[row.BoostID] = struct{}{}
	}

	boosts := make([]entities.Boost, 0, len(matched))
	for boostID := range matched {
		boost, exists := s.boosts[boostID]
		if !exists || !boost.Open(now) {
			continue
		}
		boosts = append(boosts, boost)
	}
	sort.Slice(boosts, func(i, j int) bool { return boosts[i].ID < boosts[j].ID })
	return boosts, nil
}

func (s *Store) FindAccountsForBoost(
	_ context.Context,
	boostID string,
	statuses []entities.BoostStatus,
) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make(map[string]string)
	for _, row := range s.statuses {
		if row.BoostID != boostID || !statusIn(row.Status, statuses) {
			continue
		}
		accounts[row.AccountID] = row.UserID
	}
	return accounts, nil
}

func (s *Store) GetAccountStatus(_ context.Context, boostID string, accountID string) (entities.BoostAccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.statuses[statusKey(strings.TrimSpace(boostID), strings.TrimSpace(accountID))]
	if !exists {
		return entities.BoostAccountStatus{}, domainerrors.ErrAccountNotFound
	}
	return row, nil
}

func (s *Store) ListBoostsForUser(_ context.Context, userID string) ([]entities.BoostAccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]entities.BoostAccountStatus, 0)
	for _, row := range s.statuses {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	return rows, nil
}

// WriteStatusAndLog applies one boost's transition atomically under the
// store lock: forward-only status moves for each listed account, budget
// headroom enforced for redemptions, one audit log row, and the optional
// deactivation flip with its own log entry.
func (s *Store) WriteStatusAndLog(_ context.Context, update ports.StatusUpdate) (ports.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boost, exists := s.boosts[update.BoostID]
	if !exists {
		return ports.UpdateResult{}, domainerrors.ErrBoostNotFound
	}

	movable := make([]string, 0, len(update.AccountIDs))
	for _, accountID := range update.AccountIDs {
		row, ok := s.statuses[statusKey(update.BoostID, accountID)]
		if !ok {
			continue
		}
		if transitions.CanTransition(row.Status, update.NewStatus) {
			movable = append(movable, accountID)
		}
	}
	if len(movable) == 0 {
		return ports.UpdateResult{}, domainerrors.ErrStatusRegression
	}

	if update.NewStatus == entities.StatusRedeemed {
		settle := boost.Amount * int64(len(movable))
		if boost.Redeemed+settle > boost.Budget {
			return ports.UpdateResult{}, domainerrors.ErrBudgetExceeded
		}
	}

	now := time.Now().UTC()
	for _, accountID := range movable {
		key := statusKey(update.BoostID, accountID)
		row := s.statuses[key]
		row.Status = update.NewStatus
		row.UpdatedAt = now
		s.statuses[key] = row
	}

	s.logs = append(s.logs, entities.BoostLog{
		ID:         uuid.NewString(),
		BoostID:    update.BoostID,
		LogType:    update.LogType,
		LogContext: update.LogContext,
		CreatedAt:  now,
	})

	if update.Deactivate {
		boost.Active = false
		s.logs = append(s.logs, entities.BoostLog{
			ID:      uuid.NewString(),
			BoostID: update.BoostID,
			LogType: entities.LogTypeBoostDeactivated,
			LogContext: map[string]any{
				"reason": update.Reason,
			},
			CreatedAt: now,
		})
	}
	boost.UpdatedAt = now
	s.boosts[update.BoostID] = boost

	return ports.UpdateResult{BoostID: update.BoostID, UpdatedTime: now}, nil
}

// DeactivateBoost closes a boost that has no accounts left to move, so the
// expiry sweep stops re-listing it.
func (s *Store) DeactivateBoost(_ context.Context, boostID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	boost, exists := s.boosts[boostID]
	if !exists {
		return domainerrors.ErrBoostNotFound
	}
	if !boost.Active {
		return nil
	}
	now := time.Now().UTC()
	boost.Active = false
	boost.UpdatedAt = now
	s.boosts[boostID] = boost
	s.logs = append(s.logs, entities.BoostLog{
		ID:      uuid.NewString(),
		BoostID: boostID,
		LogType: entities.LogTypeBoostDeactivated,
		LogContext: map[string]any{
			"reason": reason,
		},
		CreatedAt: now,
	})
	return nil
}

func (s *Store) AppendLog(_ context.Context, log entities.BoostLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, log)
	return nil
}

// RecomputeRedeemed sums settled amounts over redemption logs and persists
// the totals. Logs, not counters, are the source of truth.
func (s *Store) RecomputeRedeemed(_ context.Context, boostIDs []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[string]int64, len(boostIDs))
	for _, boostID := range boostIDs {
		var total int64
		for _, log := range s.logs {
			if log.BoostID != boostID || log.LogType != entities.LogTypeStatusChange {
				continue
			}
			if status, _ := log.LogContext["newStatus"].(string); status != string(entities.StatusRedeemed) {
				continue
			}
			total += settledAmount(log.LogContext)
		}
		boost, exists := s.boosts[boostID]
		if !exists {
			continue
		}
		boost.Redeemed = total
		s.boosts[boostID] = boost
		totals[boostID] = total
	}
	return totals, nil
}

func (s *Store) ListExpiring(_ context.Context, now time.Time, limit int) ([]entities.Boost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	boosts := make([]entities.Boost, 0)
	for _, boost := range s.boosts {
		if !boost.Active || boost.EndTime.IsZero() || boost.EndTime.After(now) {
			continue
		}
		boosts = append(boosts, boost)
	}
	sort.Slice(boosts, func(i, j int) bool { return boosts[i].EndTime.Before(boosts[j].EndTime) })
	if len(boosts) > limit {
		boosts = boosts[:limit]
	}
	return boosts, nil
}

func (s *Store) ListExpiredAccountStatuses(_ context.Context, now time.Time, limit int) ([]entities.BoostAccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]entities.BoostAccountStatus, 0)
	for _, row := range s.statuses {
		if row.ExpiryTime == nil || row.ExpiryTime.After(now) {
			continue
		}
		if !statusIn(row.Status, entities.OpenStatuses) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExpiryTime.Before(*rows[j].ExpiryTime) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Logs returns a copy of the audit trail for assertions.
func (s *Store) Logs() []entities.BoostLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.BoostLog(nil), s.logs...)
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func statusIn(status entities.BoostStatus, statuses []entities.BoostStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func settledAmount(logContext map[string]any) int64 {
	switch value := logContext["amountSettled"].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
