package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"rentescrow/crypto"
	"rentescrow/gateway/middleware"
	"rentescrow/native/rentescrow"
)

// CreateEscrow opens an escrow with the authenticated caller as renter.
func (s *Server) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	landlord, err := crypto.ParseIdentity(req.Landlord)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid landlord address")
		return
	}
	rentAmount, err := parseAmount(req.RentAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rentAmount")
		return
	}
	rec, err := s.registry.Create(caller, req.ID, landlord, rentAmount, req.LeaseDuration)
	if s.fail(w, "create", err) {
		return
	}
	s.succeed("create")
	writeJSON(w, http.StatusCreated, escrowResponse(rec))
}

// ListEscrows returns live escrows, optionally filtered by renter or landlord.
func (s *Server) ListEscrows(w http.ResponseWriter, r *http.Request) {
	var renter, landlord *[20]byte
	if raw := strings.TrimSpace(r.URL.Query().Get("renter")); raw != "" {
		id, err := crypto.ParseIdentity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid renter address")
			return
		}
		renter = &id
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("landlord")); raw != "" {
		id, err := crypto.ParseIdentity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid landlord address")
			return
		}
		landlord = &id
	}
	out := make([]EscrowResponse, 0)
	for _, rec := range s.registry.List() {
		if renter != nil && rec.Renter != *renter {
			continue
		}
		if landlord != nil && rec.Landlord != *landlord {
			continue
		}
		out = append(out, escrowResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetEscrow returns a single live escrow.
func (s *Server) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	rec, found := s.registry.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, rentescrow.ErrRecordNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, escrowResponse(rec))
}

// Rent marks the escrow leased.
func (s *Server) Rent(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	rec, err := s.registry.Rent(caller, id)
	if s.fail(w, "rent", err) {
		return
	}
	s.succeed("rent")
	writeJSON(w, http.StatusOK, escrowResponse(rec))
}

// PayRent deposits funds from the caller's ledger account into the escrow.
func (s *Server) PayRent(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	var req payRentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	rec, err := s.registry.PayRent(caller, id, amount)
	if s.fail(w, "pay_rent", err) {
		return
	}
	s.succeed("pay_rent")
	writeJSON(w, http.StatusOK, escrowResponse(rec))
}

// EndLease releases the balance to the landlord after the lease term.
func (s *Server) EndLease(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	amount, err := s.registry.LeaseEnded(caller, id)
	if s.fail(w, "lease_ended", err) {
		return
	}
	s.metrics.ObserveDisbursement("lease_ended", amount)
	s.succeed("lease_ended")
	writeJSON(w, http.StatusOK, SettlementResponse{
		ID:        id,
		Landlord:  crypto.FormatIdentity(caller),
		Disbursed: amount.Dec(),
	})
}

// CancelLease releases the balance of an unleased escrow to the landlord.
func (s *Server) CancelLease(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	amount, err := s.registry.CancelLease(caller, id)
	if s.fail(w, "cancel", err) {
		return
	}
	s.metrics.ObserveDisbursement("cancelled", amount)
	s.succeed("cancel")
	writeJSON(w, http.StatusOK, SettlementResponse{
		ID:        id,
		Landlord:  crypto.FormatIdentity(caller),
		Disbursed: amount.Dec(),
	})
}

// Score computes and stores the renter's reliability score.
func (s *Server) Score(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := escrowID(w, r)
	if !ok {
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	score, err := s.registry.CalculateReliabilityScore(r.Context(), caller, id, req.Input)
	if s.fail(w, "score", err) {
		return
	}
	s.succeed("score")
	writeJSON(w, http.StatusOK, ScoreResponse{ID: id, Score: score})
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return [20]byte{}, false
	}
	return caller, true
}

// fail writes the mapped error response and records the outcome. It reports
// whether err was non-nil.
func (s *Server) fail(w http.ResponseWriter, operation string, err error) bool {
	if err == nil {
		return false
	}
	status, outcome := classify(err)
	s.metrics.ObserveOperation(operation, outcome)
	if status >= http.StatusInternalServerError {
		s.logger.Error("escrow operation failed", "operation", operation, "error", err)
	}
	writeError(w, status, err.Error())
	return true
}

func (s *Server) succeed(operation string) {
	s.metrics.ObserveOperation(operation, "ok")
	s.publishState()
}

func escrowID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return 0, false
	}
	return id, true
}

func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(trimmed)
}
