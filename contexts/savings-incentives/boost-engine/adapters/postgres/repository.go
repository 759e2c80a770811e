package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	"acorn/contexts/savings-incentives/boost-engine/domain/transitions"
	"acorn/contexts/savings-incentives/boost-engine/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateBoost(ctx context.Context, boost entities.Boost, audience []entities.BoostAccountStatus) error {
	row, err := boostModelFromEntity(boost)
	if err != nil {
		return r.logError("boost_repo_create_encode_failed", err, "boost_id", boost.ID)
	}
	statusRows := make([]boostAccountStatusModel, 0, len(audience))
	for _, member := range audience {
		statusRows = append(statusRows, accountStatusModelFromEntity(member))
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(statusRows) > 0 {
			if err := tx.Create(&statusRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			r.logWarn("boost_repo_create_unique_conflict", "boost_id", boost.ID)
			return domainerrors.ErrBoostExists
		}
		return r.logError("boost_repo_create_failed", err, "boost_id", boost.ID)
	}
	return nil
}

func (r *Repository) GetBoost(ctx context.Context, boostID string) (entities.Boost, error) {
	var row boostModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(boostID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Boost{}, domainerrors.ErrBoostNotFound
		}
		return entities.Boost{}, r.logError("boost_repo_get_failed", err, "boost_id", boostID)
	}
	return row.toEntity()
}

func (r *Repository) FindOpenBoosts(ctx context.Context, filter ports.OpenBoostFilter) ([]entities.Boost, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	join := r.db.WithContext(ctx).
		Model(&boostAccountStatusModel{}).
		Select("boost_id").
		Where("status IN ?", statuses)
	if filter.AccountID != "" {
		join = join.Where("account_id = ?", filter.AccountID)
	} else {
		join = join.Where("user_id = ?", filter.UserID)
	}

	var rows []boostModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("redeemed < budget").
		Where("end_time IS NULL OR end_time > ?", time.Now().UTC()).
		Where("id IN (?)", join).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("boost_repo_find_open_failed", err,
			"account_id", filter.AccountID,
			"user_id", filter.UserID,
		)
	}
	boosts := make([]entities.Boost, 0, len(rows))
	for _, row := range rows {
		boost, err := row.toEntity()
		if err != nil {
			return nil, r.logError("boost_repo_decode_failed", err, "boost_id", row.ID)
		}
		boosts = append(boosts, boost)
	}
	return boosts, nil
}

func (r *Repository) FindAccountsForBoost(
	ctx context.Context,
	boostID string,
	statuses []entities.BoostStatus,
) (map[string]string, error) {
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	var rows []boostAccountStatusModel
	err := r.db.WithContext(ctx).
		Where("boost_id = ?", strings.TrimSpace(boostID)).
		Where("status IN ?", names).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("boost_repo_find_accounts_failed", err, "boost_id", boostID)
	}
	accounts := make(map[string]string, len(rows))
	for _, row := range rows {
		accounts[row.AccountID] = row.UserID
	}
	return accounts, nil
}

func (r *Repository) GetAccountStatus(ctx context.Context, boostID string, accountID string) (entities.BoostAccountStatus, error) {
	var row boostAccountStatusModel
	err := r.db.WithContext(ctx).
		Where("boost_id = ?", strings.TrimSpace(boostID)).
		Where("account_id = ?", strings.TrimSpace(accountID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.BoostAccountStatus{}, domainerrors.ErrAccountNotFound
		}
		return entities.BoostAccountStatus{}, r.logError("boost_repo_get_account_status_failed", err,
			"boost_id", boostID,
			"account_id", accountID,
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListBoostsForUser(ctx context.Context, userID string) ([]entities.BoostAccountStatus, error) {
	var rows []boostAccountStatusModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("boost_repo_list_for_user_failed", err, "user_id", userID)
	}
	statuses := make([]entities.BoostAccountStatus, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, row.toEntity())
	}
	return statuses, nil
}

// WriteStatusAndLog applies one boost's transition in a single transaction:
// forward-only status moves, a budget-guarded redeemed bump for redemptions
// (the guard keeps redeemed <= budget even under concurrent events), one
// audit log row, and the optional deactivation flip.
func (r *Repository) WriteStatusAndLog(ctx context.Context, update ports.StatusUpdate) (ports.UpdateResult, error) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var boost boostModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", update.BoostID).
			First(&boost).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrBoostNotFound
			}
			return err
		}

		var rows []boostAccountStatusModel
		if err := tx.
			Where("boost_id = ?", update.BoostID).
			Where("account_id IN ?", update.AccountIDs).
			Find(&rows).Error; err != nil {
			return err
		}
		movable := make([]string, 0, len(rows))
		for _, row := range rows {
			if transitions.CanTransition(entities.BoostStatus(row.Status), update.NewStatus) {
				movable = append(movable, row.AccountID)
			}
		}
		if len(movable) == 0 {
			return domainerrors.ErrStatusRegression
		}

		if update.NewStatus == entities.StatusRedeemed {
			settle := boost.Amount * int64(len(movable))
			guarded := tx.Model(&boostModel{}).
				Where("id = ?", update.BoostID).
				Where("redeemed + ? <= budget", settle).
				Update("redeemed", gorm.Expr("redeemed + ?", settle))
			if guarded.Error != nil {
				return guarded.Error
			}
			if guarded.RowsAffected == 0 {
				return domainerrors.ErrBudgetExceeded
			}
		}

		if err := tx.Model(&boostAccountStatusModel{}).
			Where("boost_id = ?", update.BoostID).
			Where("account_id IN ?", movable).
			Updates(map[string]any{
				"status":     string(update.NewStatus),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		logRow, err := logModelFrom(entities.BoostLog{
			BoostID:    update.BoostID,
			LogType:    update.LogType,
			LogContext: update.LogContext,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if err := tx.Create(&logRow).Error; err != nil {
			return err
		}

		if update.Deactivate {
			if err := tx.Model(&boostModel{}).
				Where("id = ?", update.BoostID).
				Updates(map[string]any{"active": false, "updated_at": now}).
				Error; err != nil {
				return err
			}
			deactivation, err := logModelFrom(entities.BoostLog{
				BoostID:    update.BoostID,
				LogType:    entities.LogTypeBoostDeactivated,
				LogContext: map[string]any{"reason": update.Reason},
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
			if err := tx.Create(&deactivation).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrStatusRegression) ||
			errors.Is(err, domainerrors.ErrBudgetExceeded) ||
			errors.Is(err, domainerrors.ErrBoostNotFound) {
			return ports.UpdateResult{}, err
		}
		return ports.UpdateResult{}, r.logError("boost_repo_write_status_failed", err,
			"boost_id", update.BoostID,
			"new_status", string(update.NewStatus),
		)
	}
	return ports.UpdateResult{BoostID: update.BoostID, UpdatedTime: now}, nil
}

// DeactivateBoost closes a boost without touching account rows; the expiry
// sweep uses it when every participant has already reached a terminal status.
func (r *Repository) DeactivateBoost(ctx context.Context, boostID string, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated := tx.Model(&boostModel{}).
			Where("id = ?", boostID).
			Where("active = ?", true).
			Updates(map[string]any{"active": false, "updated_at": now})
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return nil
		}
		logRow, err := logModelFrom(entities.BoostLog{
			BoostID:    boostID,
			LogType:    entities.LogTypeBoostDeactivated,
			LogContext: map[string]any{"reason": reason},
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		return tx.Create(&logRow).Error
	})
	if err != nil {
		return r.logError("boost_repo_deactivate_failed", err, "boost_id", boostID)
	}
	return nil
}

func (r *Repository) AppendLog(ctx context.Context, log entities.BoostLog) error {
	row, err := logModelFrom(log)
	if err != nil {
		return r.logError("boost_repo_append_log_encode_failed", err, "boost_id", log.BoostID)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("boost_repo_append_log_failed", err, "boost_id", log.BoostID)
	}
	return nil
}

// RecomputeRedeemed re-derives redeemed totals from redemption log rows and
// persists them; the audit trail, not the counter, is authoritative.
func (r *Repository) RecomputeRedeemed(ctx context.Context, boostIDs []string) (map[string]int64, error) {
	totals := make(map[string]int64, len(boostIDs))
	for _, boostID := range boostIDs {
		var total int64
		err := r.db.WithContext(ctx).
			Model(&boostLogModel{}).
			Select("COALESCE(SUM((log_context->>'amountSettled')::bigint), 0)").
			Where("boost_id = ?", boostID).
			Where("log_type = ?", string(entities.LogTypeStatusChange)).
			Where("log_context->>'newStatus' = ?", string(entities.StatusRedeemed)).
			Scan(&total).Error
		if err != nil {
			return nil, r.logError("boost_repo_recompute_sum_failed", err, "boost_id", boostID)
		}
		if err := r.db.WithContext(ctx).
			Model(&boostModel{}).
			Where("id = ?", boostID).
			Update("redeemed", total).
			Error; err != nil {
			return nil, r.logError("boost_repo_recompute_update_failed", err, "boost_id", boostID)
		}
		totals[boostID] = total
	}
	return totals, nil
}

func (r *Repository) ListExpiring(ctx context.Context, now time.Time, limit int) ([]entities.Boost, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []boostModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("end_time IS NOT NULL AND end_time <= ?", now.UTC()).
		Order("end_time").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("boost_repo_list_expiring_failed", err)
	}
	boosts := make([]entities.Boost, 0, len(rows))
	for _, row := range rows {
		boost, err := row.toEntity()
		if err != nil {
			return nil, r.logError("boost_repo_decode_failed", err, "boost_id", row.ID)
		}
		boosts = append(boosts, boost)
	}
	return boosts, nil
}

func (r *Repository) ListExpiredAccountStatuses(ctx context.Context, now time.Time, limit int) ([]entities.BoostAccountStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(entities.OpenStatuses))
	for _, status := range entities.OpenStatuses {
		names = append(names, string(status))
	}
	var rows []boostAccountStatusModel
	err := r.db.WithContext(ctx).
		Where("expiry_time IS NOT NULL AND expiry_time <= ?", now.UTC()).
		Where("status IN ?", names).
		Order("expiry_time").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.logError("boost_repo_list_expired_accounts_failed", err)
	}
	statuses := make([]entities.BoostAccountStatus, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, row.toEntity())
	}
	return statuses, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "savings-incentives/boost-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("boost repository operation failed", fields...)
	return err
}

func (r *Repository) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+5)
	fields = append(fields,
		"event", event,
		"module", "savings-incentives/boost-engine",
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	r.logger.Warn("boost repository warning", fields...)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type boostModel struct {
	ID               string     `gorm:"column:id;primaryKey"`
	Label            string     `gorm:"column:label"`
	ClientID         string     `gorm:"column:client_id"`
	BonusPoolID      string     `gorm:"column:bonus_pool_id"`
	FloatID          string     `gorm:"column:float_id"`
	Amount           int64      `gorm:"column:amount"`
	Unit             string     `gorm:"column:unit"`
	Currency         string     `gorm:"column:currency"`
	Budget           int64      `gorm:"column:budget"`
	Redeemed         int64      `gorm:"column:redeemed"`
	Active           bool       `gorm:"column:active"`
	Flags            string     `gorm:"column:flags;type:jsonb"`
	StartTime        time.Time  `gorm:"column:start_time"`
	EndTime          *time.Time `gorm:"column:end_time"`
	StatusConditions string     `gorm:"column:status_conditions;type:jsonb"`
	MessageBindings  string     `gorm:"column:message_bindings;type:jsonb"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (boostModel) TableName() string {
	return "boosts"
}

func boostModelFromEntity(boost entities.Boost) (boostModel, error) {
	rawConditions := make(map[string][]string, len(boost.StatusConditions))
	for status, list := range boost.StatusConditions {
		raw := make([]string, 0, len(list))
		for _, condition := range list {
			raw = append(raw, condition.Raw)
		}
		rawConditions[string(status)] = raw
	}
	conditionsJSON, err := json.Marshal(rawConditions)
	if err != nil {
		return boostModel{}, err
	}
	flagsJSON, err := json.Marshal(boost.Flags)
	if err != nil {
		return boostModel{}, err
	}
	bindingsJSON, err := json.Marshal(boost.MessageBindings)
	if err != nil {
		return boostModel{}, err
	}
	row := boostModel{
		ID:               boost.ID,
		Label:            boost.Label,
		ClientID:         boost.ClientID,
		BonusPoolID:      boost.BonusPoolID,
		FloatID:          boost.FloatID,
		Amount:           boost.Amount,
		Unit:             string(boost.Unit),
		Currency:         boost.Currency,
		Budget:           boost.Budget,
		Redeemed:         boost.Redeemed,
		Active:           boost.Active,
		Flags:            string(flagsJSON),
		StartTime:        boost.StartTime,
		StatusConditions: string(conditionsJSON),
		MessageBindings:  string(bindingsJSON),
		CreatedAt:        boost.CreatedAt,
		UpdatedAt:        boost.UpdatedAt,
	}
	if !boost.EndTime.IsZero() {
		endTime := boost.EndTime
		row.EndTime = &endTime
	}
	return row, nil
}

func (m boostModel) toEntity() (entities.Boost, error) {
	var rawConditions map[string][]string
	if m.StatusConditions != "" {
		if err := json.Unmarshal([]byte(m.StatusConditions), &rawConditions); err != nil {
			return entities.Boost{}, err
		}
	}
	parsed, err := entities.ParseStatusConditions(rawConditions)
	if err != nil {
		return entities.Boost{}, err
	}
	var flags []entities.BoostFlag
	if m.Flags != "" {
		if err := json.Unmarshal([]byte(m.Flags), &flags); err != nil {
			return entities.Boost{}, err
		}
	}
	var bindings []entities.MessageBinding
	if m.MessageBindings != "" {
		if err := json.Unmarshal([]byte(m.MessageBindings), &bindings); err != nil {
			return entities.Boost{}, err
		}
	}
	boost := entities.Boost{
		ID:               m.ID,
		Label:            m.Label,
		ClientID:         m.ClientID,
		BonusPoolID:      m.BonusPoolID,
		FloatID:          m.FloatID,
		Amount:           m.Amount,
		Unit:             conditions.AmountUnit(m.Unit),
		Currency:         m.Currency,
		Budget:           m.Budget,
		Redeemed:         m.Redeemed,
		Active:           m.Active,
		Flags:            flags,
		StartTime:        m.StartTime,
		StatusConditions: parsed,
		MessageBindings:  bindings,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.EndTime != nil {
		boost.EndTime = *m.EndTime
	}
	return boost, nil
}

type boostAccountStatusModel struct {
	BoostID    string     `gorm:"column:boost_id;primaryKey"`
	AccountID  string     `gorm:"column:account_id;primaryKey"`
	UserID     string     `gorm:"column:user_id"`
	Status     string     `gorm:"column:status"`
	ExpiryTime *time.Time `gorm:"column:expiry_time"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (boostAccountStatusModel) TableName() string {
	return "boost_account_status"
}

func accountStatusModelFromEntity(row entities.BoostAccountStatus) boostAccountStatusModel {
	return boostAccountStatusModel{
		BoostID:    row.BoostID,
		AccountID:  row.AccountID,
		UserID:     row.UserID,
		Status:     string(row.Status),
		ExpiryTime: row.ExpiryTime,
		UpdatedAt:  row.UpdatedAt,
	}
}

func (m boostAccountStatusModel) toEntity() entities.BoostAccountStatus {
	return entities.BoostAccountStatus{
		BoostID:    m.BoostID,
		AccountID:  m.AccountID,
		UserID:     m.UserID,
		Status:     entities.BoostStatus(m.Status),
		ExpiryTime: m.ExpiryTime,
		UpdatedAt:  m.UpdatedAt,
	}
}

type boostLogModel struct {
	ID         string    `gorm:"column:id;primaryKey;default:gen_random_uuid()"`
	BoostID    string    `gorm:"column:boost_id"`
	AccountID  string    `gorm:"column:account_id"`
	LogType    string    `gorm:"column:log_type"`
	LogContext string    `gorm:"column:log_context;type:jsonb"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (boostLogModel) TableName() string {
	return "boost_logs"
}

func logModelFrom(log entities.BoostLog) (boostLogModel, error) {
	contextJSON, err := json.Marshal(log.LogContext)
	if err != nil {
		return boostLogModel{}, err
	}
	return boostLogModel{
		ID:         log.ID,
		BoostID:    log.BoostID,
		AccountID:  log.AccountID,
		LogType:    string(log.LogType),
		LogContext: string(contextJSON),
		CreatedAt:  log.CreatedAt,
	}, nil
}
