package agent

import "time"

// ConfirmRequest carries the code a user handed to the agent.
type ConfirmRequest struct {
	Code string `json:"code" validate:"required,min=5,max=32"`
}

// RequestResponse is the staff API view of an agent request.
type RequestResponse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Currency  string    `json:"currency"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"platform_fee"`
	AgentFee  int64     `json:"agent_fee"`
	Net       int64     `json:"net"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toResponse(r Request) RequestResponse {
	return RequestResponse{
		ID:        r.ID,
		Code:      r.Code,
		Kind:      r.Kind,
		Status:    r.Status,
		Currency:  r.Currency,
		Amount:    r.Amount,
		Fee:       r.Fee,
		AgentFee:  r.AgentFee,
		Net:       r.Net,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
