package application

import (
	"context"
	"strings"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
)

type AudienceMember struct {
	AccountID string
	UserID    string
}

type CreateBoostCommand struct {
	Label    string
	ClientID string

	BonusPoolID string
	FloatID     string

	Amount   int64
	Unit     conditions.AmountUnit
	Currency string
	Budget   int64

	Flags     []entities.BoostFlag
	StartTime time.Time
	EndTime   time.Time

	// StatusConditions holds the raw DSL strings; they are parsed exactly
	// once here and the boost goes live with the typed form.
	StatusConditions map[string][]string
	MessageBindings  []entities.MessageBinding

	Audience []AudienceMember
}

// CreateBoost validates a campaign definition, parses its rules, persists
// it, and offers it to the initial audience. Rules are immutable afterwards.
func (s Service) CreateBoost(ctx context.Context, cmd CreateBoostCommand) (entities.Boost, error) {
	logger := ResolveLogger(s.Logger)
	if strings.TrimSpace(cmd.Label) == "" ||
		strings.TrimSpace(cmd.ClientID) == "" ||
		strings.TrimSpace(cmd.BonusPoolID) == "" ||
		strings.TrimSpace(cmd.FloatID) == "" ||
		strings.TrimSpace(cmd.Currency) == "" {
		return entities.Boost{}, domainerrors.ErrInvalidBoost
	}
	if cmd.Amount <= 0 || cmd.Budget < cmd.Amount {
		return entities.Boost{}, domainerrors.ErrInvalidBoost
	}
	switch cmd.Unit {
	case conditions.UnitHundredthCent, conditions.UnitWholeCent, conditions.UnitWholeCurrency:
	default:
		return entities.Boost{}, domainerrors.ErrInvalidBoost
	}
	if len(cmd.StatusConditions) == 0 {
		return entities.Boost{}, domainerrors.ErrInvalidBoost
	}

	parsed, err := entities.ParseStatusConditions(cmd.StatusConditions)
	if err != nil {
		logger.Warn("boost condition rejected",
			"event", "boost_condition_rejected",
			"module", moduleName,
			"layer", "application",
			"label", cmd.Label,
			"error", err.Error(),
		)
		return entities.Boost{}, domainerrors.ErrInvalidCondition
	}

	boostID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.Boost{}, err
	}
	now := s.now()
	boost := entities.Boost{
		ID:               boostID,
		Label:            strings.TrimSpace(cmd.Label),
		ClientID:         strings.TrimSpace(cmd.ClientID),
		BonusPoolID:      strings.TrimSpace(cmd.BonusPoolID),
		FloatID:          strings.TrimSpace(cmd.FloatID),
		Amount:           cmd.Amount,
		Unit:             cmd.Unit,
		Currency:         strings.TrimSpace(cmd.Currency),
		Budget:           cmd.Budget,
		Active:           true,
		Flags:            cmd.Flags,
		StartTime:        cmd.StartTime,
		EndTime:          cmd.EndTime,
		StatusConditions: parsed,
		MessageBindings:  cmd.MessageBindings,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	audience := make([]entities.BoostAccountStatus, 0, len(cmd.Audience))
	for _, member := range cmd.Audience {
		if strings.TrimSpace(member.AccountID) == "" {
			continue
		}
		audience = append(audience, entities.BoostAccountStatus{
			BoostID:   boost.ID,
			AccountID: strings.TrimSpace(member.AccountID),
			UserID:    strings.TrimSpace(member.UserID),
			Status:    entities.StatusOffered,
			UpdatedAt: now,
		})
	}

	if err := s.Repo.CreateBoost(ctx, boost, audience); err != nil {
		logger.Error("boost creation failed",
			"event", "boost_create_failed",
			"module", moduleName,
			"layer", "application",
			"label", boost.Label,
			"error", err.Error(),
		)
		return entities.Boost{}, err
	}

	logID, err := s.IDGen.NewID(ctx)
	if err == nil {
		err = s.Repo.AppendLog(ctx, entities.BoostLog{
			ID:      logID,
			BoostID: boost.ID,
			LogType: entities.LogTypeBoostCreated,
			LogContext: map[string]any{
				"label":        boost.Label,
				"budget":       boost.Budget,
				"amount":       boost.Amount,
				"audienceSize": len(audience),
			},
			CreatedAt: now,
		})
	}
	if err != nil {
		logger.Warn("boost creation log failed",
			"event", "boost_create_log_failed",
			"module", moduleName,
			"layer", "application",
			"boost_id", boost.ID,
			"error", err.Error(),
		)
	}

	logger.Info("boost created",
		"event", "boost_created",
		"module", moduleName,
		"layer", "application",
		"boost_id", boost.ID,
		"label", boost.Label,
		"budget", boost.Budget,
		"audience_size", len(audience),
	)
	return boost, nil
}

// ListBoostsForUser returns a user's join rows for client display.
func (s Service) ListBoostsForUser(ctx context.Context, userID string) ([]entities.BoostAccountStatus, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domainerrors.ErrInvalidEvent
	}
	return s.Repo.ListBoostsForUser(ctx, userID)
}

func (s Service) GetAccountStatus(ctx context.Context, boostID string, accountID string) (entities.BoostAccountStatus, error) {
	boostID = strings.TrimSpace(boostID)
	accountID = strings.TrimSpace(accountID)
	if boostID == "" || accountID == "" {
		return entities.BoostAccountStatus{}, domainerrors.ErrInvalidEvent
	}
	return s.Repo.GetAccountStatus(ctx, boostID, accountID)
}
