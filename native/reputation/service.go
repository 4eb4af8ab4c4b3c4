package reputation

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"rentescrow/core/events"
	"rentescrow/crypto"
	"rentescrow/native/rentescrow"
)

// Service is the default collaborator set consulted when scoring renters. It
// keeps lease agreement attestations and counts rent payments observed on the
// event stream.
type Service struct {
	mu         sync.RWMutex
	agreements map[[20]byte]map[[32]byte]*LeaseAgreement
	payments   map[[20]byte]uint64
	nowFn      func() int64
}

// NewService constructs an empty reputation service.
func NewService() *Service {
	return &Service{
		agreements: make(map[[20]byte]map[[32]byte]*LeaseAgreement),
		payments:   make(map[[20]byte]uint64),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock used to evaluate agreement expiry.
func (s *Service) SetNowFunc(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	s.nowFn = now
}

// Scoring exposes the service as the registry's collaborator set.
func (s *Service) Scoring() rentescrow.Scoring {
	return rentescrow.Scoring{LeaseAgreements: s, PaymentHistory: s, Scores: s}
}

// RecordAgreement stores a validated lease agreement and returns its id.
// Re-recording the same agreement replaces the earlier copy.
func (s *Service) RecordAgreement(a *LeaseAgreement) ([32]byte, error) {
	if err := a.Validate(); err != nil {
		return [32]byte{}, err
	}
	id, err := AgreementID(a)
	if err != nil {
		return [32]byte{}, err
	}
	clone := *a
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.agreements[a.Tenant]
	if !ok {
		byID = make(map[[32]byte]*LeaseAgreement)
		s.agreements[a.Tenant] = byID
	}
	byID[id] = &clone
	return id, nil
}

// PaymentCount returns the number of rent payments observed for the tenant.
func (s *Service) PaymentCount(tenant [20]byte) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.payments[tenant]
}

// Emit implements events.Emitter and tallies rent payments by renter. Payments
// that moved no funds are not counted.
func (s *Service) Emit(evt events.Event) {
	if evt == nil || evt.EventType() != rentescrow.EventTypeRentPaid {
		return
	}
	payload := events.PayloadOf(evt)
	if payload == nil {
		return
	}
	amount, err := uint256.FromDecimal(payload.Attribute("amount"))
	if err != nil || amount.IsZero() {
		return
	}
	renter, err := crypto.ParseIdentity(payload.Attribute("renter"))
	if err != nil {
		return
	}
	s.mu.Lock()
	s.payments[renter]++
	s.mu.Unlock()
}

// ValidateLeaseAgreement reports whether any recorded agreement for the tenant
// is active now.
func (s *Service) ValidateLeaseAgreement(_ context.Context, tenant [20]byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowFn()
	for _, agreement := range s.agreements[tenant] {
		if agreement.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// ValidatePaymentHistory reports whether the tenant has paid rent at least
// once.
func (s *Service) ValidatePaymentHistory(_ context.Context, tenant [20]byte) (bool, error) {
	return s.PaymentCount(tenant) > 0, nil
}

// ComputeScore applies no scoring model; the caller-supplied input is stored
// as the score.
func (s *Service) ComputeScore(_ context.Context, _ [20]byte, input uint64) (uint64, error) {
	return input, nil
}
