package reputation

import (
	"bytes"
	"context"
	"testing"

	"github.com/holiman/uint256"

	"rentescrow/core/events"
	"rentescrow/native/rentescrow"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type freeCustody struct{}

func (freeCustody) VaultAddress() [20]byte                { return testAddress(0xEE) }
func (freeCustody) Collect([20]byte, *uint256.Int) error  { return nil }
func (freeCustody) Disburse([20]byte, *uint256.Int) error { return nil }

func TestLeaseAgreementValidate(t *testing.T) {
	valid := &LeaseAgreement{Tenant: testAddress(1), Reference: "unit-4B", Attester: testAddress(2), IssuedAt: 100}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid agreement: %v", err)
	}
	cases := map[string]*LeaseAgreement{
		"nil":       nil,
		"tenant":    {Reference: "x", Attester: testAddress(2), IssuedAt: 1},
		"reference": {Tenant: testAddress(1), Reference: "  ", Attester: testAddress(2), IssuedAt: 1},
		"attester":  {Tenant: testAddress(1), Reference: "x", IssuedAt: 1},
		"issued":    {Tenant: testAddress(1), Reference: "x", Attester: testAddress(2)},
		"self":      {Tenant: testAddress(1), Reference: "x", Attester: testAddress(1), IssuedAt: 1},
		"expiry":    {Tenant: testAddress(1), Reference: "x", Attester: testAddress(2), IssuedAt: 10, ExpiresAt: 10},
	}
	for name, agreement := range cases {
		if err := agreement.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestAgreementIDNormalizesReference(t *testing.T) {
	a := &LeaseAgreement{Tenant: testAddress(1), Reference: "Unit-4B", Attester: testAddress(2), IssuedAt: 1}
	b := &LeaseAgreement{Tenant: testAddress(1), Reference: " unit-4b ", Attester: testAddress(2), IssuedAt: 5}
	idA, err := AgreementID(a)
	if err != nil {
		t.Fatalf("id a: %v", err)
	}
	idB, err := AgreementID(b)
	if err != nil {
		t.Fatalf("id b: %v", err)
	}
	if idA != idB {
		t.Fatalf("expected identical ids for normalized references")
	}
}

func TestValidateLeaseAgreementHonoursExpiry(t *testing.T) {
	svc := NewService()
	now := int64(500)
	svc.SetNowFunc(func() int64 { return now })
	tenant := testAddress(1)
	ctx := context.Background()

	ok, err := svc.ValidateLeaseAgreement(ctx, tenant)
	if err != nil || ok {
		t.Fatalf("expected no agreement, got ok=%v err=%v", ok, err)
	}
	if _, err := svc.RecordAgreement(&LeaseAgreement{Tenant: tenant, Reference: "unit-1", Attester: testAddress(9), IssuedAt: 100, ExpiresAt: 600}); err != nil {
		t.Fatalf("record agreement: %v", err)
	}
	ok, err = svc.ValidateLeaseAgreement(ctx, tenant)
	if err != nil || !ok {
		t.Fatalf("expected active agreement, got ok=%v err=%v", ok, err)
	}
	now = 600
	ok, _ = svc.ValidateLeaseAgreement(ctx, tenant)
	if ok {
		t.Fatalf("expected agreement to lapse at expiry")
	}
}

func TestServiceTracksPaymentsAndScores(t *testing.T) {
	svc := NewService()
	svc.SetNowFunc(func() int64 { return 1_000 })
	renter := testAddress(3)
	landlord := testAddress(4)

	registry := rentescrow.NewRegistry()
	registry.SetCustody(freeCustody{})
	registry.SetScoring(svc.Scoring())
	registry.SetEmitter(events.Multi{svc})
	registry.SetNowFunc(func() uint64 { return 1_000 })

	if _, err := registry.Create(renter, 1, landlord, uint256.NewInt(10), 30); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := registry.Rent(renter, 1); err != nil {
		t.Fatalf("rent: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.RecordAgreement(&LeaseAgreement{Tenant: renter, Reference: "unit-1", Attester: landlord, IssuedAt: 900}); err != nil {
		t.Fatalf("record agreement: %v", err)
	}
	if _, err := registry.CalculateReliabilityScore(ctx, renter, 1, 42); err == nil {
		t.Fatalf("expected payment history failure before any payment")
	}
	if _, err := registry.PayRent(renter, 1, uint256.NewInt(10)); err != nil {
		t.Fatalf("pay rent: %v", err)
	}
	if svc.PaymentCount(renter) != 1 {
		t.Fatalf("expected one recorded payment, got %d", svc.PaymentCount(renter))
	}
	score, err := registry.CalculateReliabilityScore(ctx, renter, 1, 42)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 42 {
		t.Fatalf("expected passthrough score 42, got %d", score)
	}
}

func TestZeroRentPaymentsDoNotBuildHistory(t *testing.T) {
	svc := NewService()
	renter := testAddress(3)
	landlord := testAddress(4)

	registry := rentescrow.NewRegistry()
	registry.SetCustody(freeCustody{})
	registry.SetEmitter(events.Multi{svc})
	registry.SetNowFunc(func() uint64 { return 1_000 })

	if _, err := registry.Create(renter, 1, landlord, new(uint256.Int), 30); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := registry.Rent(renter, 1); err != nil {
		t.Fatalf("rent: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := registry.PayRent(renter, 1, nil); err != nil {
			t.Fatalf("zero payment %d: %v", i, err)
		}
	}
	ok, err := svc.ValidatePaymentHistory(context.Background(), renter)
	if err != nil || ok {
		t.Fatalf("expected no payment history from zero payments, got ok=%v err=%v", ok, err)
	}
	if _, err := registry.PayRent(renter, 1, uint256.NewInt(1)); err != nil {
		t.Fatalf("pay rent: %v", err)
	}
	if svc.PaymentCount(renter) != 1 {
		t.Fatalf("expected one counted payment, got %d", svc.PaymentCount(renter))
	}
}
