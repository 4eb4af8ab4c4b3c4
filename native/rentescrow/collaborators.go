package rentescrow

import (
	"context"

	"github.com/holiman/uint256"
)

// Custody moves funds between callers and the registry's vault. Both methods
// must either apply the full movement or leave every balance untouched. The
// vault itself may never be a party to an escrow.
type Custody interface {
	VaultAddress() [20]byte
	Collect(from [20]byte, amount *uint256.Int) error
	Disburse(to [20]byte, amount *uint256.Int) error
}

// LeaseAgreementValidator reports whether the tenant holds a valid lease
// agreement. Implementations must return a definite answer for every tenant.
type LeaseAgreementValidator interface {
	ValidateLeaseAgreement(ctx context.Context, tenant [20]byte) (bool, error)
}

// PaymentHistoryValidator reports whether the tenant's payment history is
// acceptable for scoring.
type PaymentHistoryValidator interface {
	ValidatePaymentHistory(ctx context.Context, tenant [20]byte) (bool, error)
}

// ScoreComputer derives the reliability score stored on the escrow.
type ScoreComputer interface {
	ComputeScore(ctx context.Context, tenant [20]byte, input uint64) (uint64, error)
}

// Scoring groups the collaborators consulted by CalculateReliabilityScore.
type Scoring struct {
	LeaseAgreements LeaseAgreementValidator
	PaymentHistory  PaymentHistoryValidator
	Scores          ScoreComputer
}

func (s Scoring) configured() bool {
	return s.LeaseAgreements != nil && s.PaymentHistory != nil && s.Scores != nil
}
