package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rentescrow/crypto"
	"rentescrow/native/reputation"
)

// GetAccount reports the ledger balance held by an address.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	addr, err := crypto.ParseIdentity(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		Address: crypto.FormatIdentity(addr),
		Balance: s.ledger.Balance(addr).Dec(),
	})
}

// RecordAttestation stores a lease agreement attested by the caller.
func (s *Server) RecordAttestation(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if s.reputation == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation service unavailable")
		return
	}
	var req attestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	tenant, err := crypto.ParseIdentity(req.Tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant address")
		return
	}
	issuedAt := req.IssuedAt
	if issuedAt == 0 {
		issuedAt = time.Now().Unix()
	}
	agreement := &reputation.LeaseAgreement{
		Tenant:    tenant,
		Reference: req.Reference,
		Attester:  caller,
		IssuedAt:  issuedAt,
		ExpiresAt: req.ExpiresAt,
	}
	id, err := s.reputation.RecordAgreement(agreement)
	if err != nil {
		s.metrics.ObserveOperation("attest", "rejected")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.metrics.ObserveOperation("attest", "ok")
	writeJSON(w, http.StatusCreated, AttestationResponse{
		ID:        "0x" + hex.EncodeToString(id[:]),
		Tenant:    crypto.FormatIdentity(tenant),
		Attester:  crypto.FormatIdentity(caller),
		Reference: agreement.Reference,
		IssuedAt:  agreement.IssuedAt,
		ExpiresAt: agreement.ExpiresAt,
	})
}
