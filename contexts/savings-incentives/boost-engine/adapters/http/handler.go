package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"acorn/contexts/savings-incentives/boost-engine/application"
	"acorn/contexts/savings-incentives/boost-engine/domain/conditions"
	"acorn/contexts/savings-incentives/boost-engine/domain/entities"
	domainerrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	httptransport "acorn/contexts/savings-incentives/boost-engine/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) ProcessEventHandler(
	ctx context.Context,
	req httptransport.ProcessEventRequest,
) (httptransport.ProcessEventResponse, error) {
	result, err := h.Service.ProcessEvent(ctx, application.EventInput{
		AccountID: req.AccountID,
		UserID:    req.UserID,
		Context:   req.EventContext,
	})
	if err != nil {
		// A failed transfer batch still carries a partial result: the
		// non-monetary transitions that persisted anyway.
		if errors.Is(err, domainerrors.ErrTransferFailed) {
			return processResultDTO(result), err
		}
		return httptransport.ProcessEventResponse{}, err
	}
	return processResultDTO(result), nil
}

func processResultDTO(result application.ProcessResult) httptransport.ProcessEventResponse {
	resp := httptransport.ProcessEventResponse{
		BoostsTriggered: result.BoostsTriggered,
		Result:          result.Result,
		RedeemedTotals:  result.RedeemedTotals,
	}
	if len(result.TransferResults) > 0 {
		resp.ResultOfTransfers = make(map[string]httptransport.TransferResultDTO, len(result.TransferResults))
		for boostID, transfer := range result.TransferResults {
			resp.ResultOfTransfers[boostID] = httptransport.TransferResultDTO{
				BoostID:       transfer.BoostID,
				Status:        transfer.TransferStatus,
				AmountSettled: transfer.AmountSettled,
				AccountTxIDs:  transfer.AccountTxIDs,
			}
		}
	}
	for _, update := range result.UpdateResults {
		dto := httptransport.UpdateResultDTO{
			BoostID: update.BoostID,
			Error:   update.Error,
		}
		if !update.UpdatedTime.IsZero() {
			dto.UpdatedTime = update.UpdatedTime.UTC().Format(time.RFC3339)
		}
		resp.ResultOfUpdates = append(resp.ResultOfUpdates, dto)
	}
	return resp
}

func (h Handler) CreateBoostHandler(
	ctx context.Context,
	req httptransport.CreateBoostRequest,
) (httptransport.CreateBoostResponse, error) {
	cmd := application.CreateBoostCommand{
		Label:            req.Label,
		ClientID:         req.ClientID,
		BonusPoolID:      req.BonusPoolID,
		FloatID:          req.FloatID,
		Amount:           req.Amount,
		Unit:             conditions.AmountUnit(req.Unit),
		Currency:         req.Currency,
		Budget:           req.Budget,
		StatusConditions: req.StatusConditions,
	}
	for _, flag := range req.Flags {
		cmd.Flags = append(cmd.Flags, entities.BoostFlag(flag))
	}
	for _, binding := range req.MessageBindings {
		cmd.MessageBindings = append(cmd.MessageBindings, entities.MessageBinding{
			Status:        entities.BoostStatus(binding.Status),
			InstructionID: binding.InstructionID,
			Target:        entities.MessageTarget(binding.Target),
		})
	}
	for _, member := range req.Audience {
		cmd.Audience = append(cmd.Audience, application.AudienceMember{
			AccountID: member.AccountID,
			UserID:    member.UserID,
		})
	}
	if req.StartTime != "" {
		startTime, err := time.Parse(time.RFC3339, req.StartTime)
		if err == nil {
			cmd.StartTime = startTime
		}
	}
	if req.EndTime != "" {
		endTime, err := time.Parse(time.RFC3339, req.EndTime)
		if err == nil {
			cmd.EndTime = endTime
		}
	}

	boost, err := h.Service.CreateBoost(ctx, cmd)
	if err != nil {
		return httptransport.CreateBoostResponse{}, err
	}
	resp := httptransport.CreateBoostResponse{Status: "success"}
	resp.Data.BoostID = boost.ID
	resp.Data.Label = boost.Label
	resp.Data.Amount = boost.Amount
	resp.Data.Budget = boost.Budget
	resp.Data.Active = boost.Active
	resp.Data.AudienceSize = len(req.Audience)
	resp.Data.CreatedAt = boost.CreatedAt.UTC().Format(time.RFC3339)
	return resp, nil
}

func (h Handler) GetAccountStatusHandler(
	ctx context.Context,
	boostID string,
	accountID string,
) (httptransport.AccountStatusResponse, error) {
	row, err := h.Service.GetAccountStatus(ctx, boostID, accountID)
	if err != nil {
		return httptransport.AccountStatusResponse{}, err
	}
	resp := httptransport.AccountStatusResponse{Status: "success"}
	resp.Data = httptransport.UserBoostDTO{
		BoostID:   row.BoostID,
		AccountID: row.AccountID,
		Status:    string(row.Status),
		UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if row.ExpiryTime != nil {
		resp.Data.ExpiryTime = row.ExpiryTime.UTC().Format(time.RFC3339)
	}
	return resp, nil
}

func (h Handler) ListUserBoostsHandler(ctx context.Context, userID string) (httptransport.UserBoostsResponse, error) {
	rows, err := h.Service.ListBoostsForUser(ctx, userID)
	if err != nil {
		return httptransport.UserBoostsResponse{}, err
	}
	resp := httptransport.UserBoostsResponse{
		Status: "success",
		Data:   make([]httptransport.UserBoostDTO, 0, len(rows)),
	}
	for _, row := range rows {
		dto := httptransport.UserBoostDTO{
			BoostID:   row.BoostID,
			AccountID: row.AccountID,
			Status:    string(row.Status),
			UpdatedAt: row.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if row.ExpiryTime != nil {
			dto.ExpiryTime = row.ExpiryTime.UTC().Format(time.RFC3339)
		}
		resp.Data = append(resp.Data, dto)
	}
	return resp, nil
}
