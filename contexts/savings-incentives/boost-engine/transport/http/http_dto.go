package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ProcessEventRequest struct {
	AccountID    string         `json:"account_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	EventContext map[string]any `json:"event_context"`
}

type TransferResultDTO struct {
	BoostID       string            `json:"boost_id"`
	Status        string            `json:"status"`
	AmountSettled int64             `json:"amount_settled"`
	AccountTxIDs  map[string]string `json:"account_tx_ids,omitempty"`
}

type UpdateResultDTO struct {
	BoostID     string `json:"boost_id"`
	UpdatedTime string `json:"updated_time,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ProcessEventResponse struct {
	BoostsTriggered   int                          `json:"boosts_triggered"`
	Result            string                       `json:"result,omitempty"`
	ResultOfTransfers map[string]TransferResultDTO `json:"result_of_transfers,omitempty"`
	ResultOfUpdates   []UpdateResultDTO            `json:"result_of_updates,omitempty"`
	RedeemedTotals    map[string]int64             `json:"redeemed_totals,omitempty"`
}

type MessageBindingDTO struct {
	Status        string `json:"status"`
	InstructionID string `json:"instruction_id"`
	Target        string `json:"target"`
}

type AudienceMemberDTO struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
}

type CreateBoostRequest struct {
	Label            string              `json:"label"`
	ClientID         string              `json:"client_id"`
	BonusPoolID      string              `json:"bonus_pool_id"`
	FloatID          string              `json:"float_id"`
	Amount           int64               `json:"amount"`
	Unit             string              `json:"unit"`
	Currency         string              `json:"currency"`
	Budget           int64               `json:"budget"`
	Flags            []string            `json:"flags,omitempty"`
	StartTime        string              `json:"start_time,omitempty"`
	EndTime          string              `json:"end_time,omitempty"`
	StatusConditions map[string][]string `json:"status_conditions"`
	MessageBindings  []MessageBindingDTO `json:"message_bindings,omitempty"`
	Audience         []AudienceMemberDTO `json:"audience,omitempty"`
}

type CreateBoostResponse struct {
	Status string `json:"status"`
	Data   struct {
		BoostID      string `json:"boost_id"`
		Label        string `json:"label"`
		Amount       int64  `json:"amount"`
		Budget       int64  `json:"budget"`
		Active       bool   `json:"active"`
		AudienceSize int    `json:"audience_size"`
		CreatedAt    string `json:"created_at"`
	} `json:"data"`
}

type UserBoostDTO struct {
	BoostID    string `json:"boost_id"`
	AccountID  string `json:"account_id"`
	Status     string `json:"status"`
	ExpiryTime string `json:"expiry_time,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

type UserBoostsResponse struct {
	Status string         `json:"status"`
	Data   []UserBoostDTO `json:"data"`
}

type AccountStatusResponse struct {
	Status string       `json:"status"`
	Data   UserBoostDTO `json:"data"`
}
