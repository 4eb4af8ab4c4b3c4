package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"rentescrow/crypto"
	"rentescrow/native/bank"
	"rentescrow/native/rentescrow"
)

type createEscrowRequest struct {
	ID            uint64 `json:"id"`
	Landlord      string `json:"landlord"`
	RentAmount    string `json:"rentAmount"`
	LeaseDuration uint64 `json:"leaseDuration"`
}

type payRentRequest struct {
	Amount string `json:"amount"`
}

type scoreRequest struct {
	Input uint64 `json:"input"`
}

type attestationRequest struct {
	Tenant    string `json:"tenant"`
	Reference string `json:"reference"`
	IssuedAt  int64  `json:"issuedAt,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// EscrowResponse is the JSON rendering of a live escrow record.
type EscrowResponse struct {
	ID               uint64  `json:"id"`
	Renter           string  `json:"renter"`
	Landlord         string  `json:"landlord"`
	RentAmount       string  `json:"rentAmount"`
	LeaseDuration    uint64  `json:"leaseDuration"`
	LeaseStartTime   uint64  `json:"leaseStartTime"`
	LeaseEndsAt      *uint64 `json:"leaseEndsAt,omitempty"`
	EscrowBalance    string  `json:"escrowBalance"`
	IsLeased         bool    `json:"isLeased"`
	Status           string  `json:"status"`
	ReliabilityScore uint64  `json:"reliabilityScore"`
}

// SettlementResponse describes the funds released when an escrow closes.
type SettlementResponse struct {
	ID        uint64 `json:"id"`
	Landlord  string `json:"landlord"`
	Disbursed string `json:"disbursed"`
}

type ScoreResponse struct {
	ID    uint64 `json:"id"`
	Score uint64 `json:"score"`
}

type AccountResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type AttestationResponse struct {
	ID        string `json:"id"`
	Tenant    string `json:"tenant"`
	Attester  string `json:"attester"`
	Reference string `json:"reference"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func escrowResponse(rec *rentescrow.Record) EscrowResponse {
	resp := EscrowResponse{
		ID:               rec.ID,
		Renter:           crypto.FormatIdentity(rec.Renter),
		Landlord:         crypto.FormatIdentity(rec.Landlord),
		RentAmount:       rec.RentAmount.Dec(),
		LeaseDuration:    rec.LeaseDuration,
		LeaseStartTime:   rec.LeaseStartTime,
		EscrowBalance:    rec.EscrowBalance.Dec(),
		IsLeased:         rec.IsLeased,
		Status:           rec.Status().String(),
		ReliabilityScore: rec.ReliabilityScore,
	}
	if end, ok := rec.LeaseEndsAt(); ok {
		resp.LeaseEndsAt = &end
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// classify maps a registry or ledger failure onto an HTTP status and the
// outcome label reported to metrics.
func classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, rentescrow.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, rentescrow.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, rentescrow.ErrEscrowExists),
		errors.Is(err, rentescrow.ErrAlreadyLeased),
		errors.Is(err, rentescrow.ErrNotLeased),
		errors.Is(err, rentescrow.ErrLeaseNotExpired):
		return http.StatusConflict, "conflict"
	case errors.Is(err, rentescrow.ErrInsufficientPayment),
		errors.Is(err, rentescrow.ErrBalanceOverflow),
		errors.Is(err, rentescrow.ErrInvalidLeaseAgreement),
		errors.Is(err, rentescrow.ErrInvalidPaymentHistory),
		errors.Is(err, rentescrow.ErrVaultParty),
		errors.Is(err, bank.ErrInsufficientFunds),
		errors.Is(err, bank.ErrSelfTransfer),
		errors.Is(err, bank.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, rentescrow.ErrCustodyUnavailable),
		errors.Is(err, rentescrow.ErrScoringUnavailable),
		errors.Is(err, bank.ErrVaultShortfall):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
