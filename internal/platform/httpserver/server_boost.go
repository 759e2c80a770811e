package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	boosterrors "acorn/contexts/savings-incentives/boost-engine/domain/errors"
	boosthttp "acorn/contexts/savings-incentives/boost-engine/transport/http"
)

func writeBoostError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, boosthttp.ErrorResponse{Code: code, Message: message})
}

func writeBoostDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, boosterrors.ErrInvalidEvent),
		errors.Is(err, boosterrors.ErrInvalidBoost),
		errors.Is(err, boosterrors.ErrInvalidCondition):
		writeBoostError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, boosterrors.ErrBoostNotFound),
		errors.Is(err, boosterrors.ErrAccountNotFound):
		writeBoostError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, boosterrors.ErrBoostExists):
		writeBoostError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, boosterrors.ErrTransferFailed):
		writeBoostError(w, http.StatusBadGateway, "transfer_failed", err.Error())
	default:
		writeBoostError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (s *Server) handleBoostEvent(w http.ResponseWriter, r *http.Request) {
	var req boosthttp.ProcessEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBoostError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.boosts.Handler.ProcessEventHandler(r.Context(), req)
	if err != nil {
		// Transfer failures return the partial result so callers can see
		// which non-monetary transitions persisted regardless.
		if errors.Is(err, boosterrors.ErrTransferFailed) {
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeBoostDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBoost(w http.ResponseWriter, r *http.Request) {
	var req boosthttp.CreateBoostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBoostError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.boosts.Handler.CreateBoostHandler(r.Context(), req)
	if err != nil {
		writeBoostDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetAccountStatus(w http.ResponseWriter, r *http.Request) {
	boostID := strings.TrimSpace(r.PathValue("boost_id"))
	accountID := strings.TrimSpace(r.PathValue("account_id"))
	if boostID == "" || accountID == "" {
		writeBoostError(w, http.StatusBadRequest, "invalid_request", "boost_id and account_id are required")
		return
	}

	resp, err := s.boosts.Handler.GetAccountStatusHandler(r.Context(), boostID, accountID)
	if err != nil {
		writeBoostDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListUserBoosts(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeBoostError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	resp, err := s.boosts.Handler.ListUserBoostsHandler(r.Context(), userID)
	if err != nil {
		writeBoostDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
