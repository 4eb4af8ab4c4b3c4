package reputation

import (
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeaseAgreement captures an operator's statement that a tenant signed a
// lease. ExpiresAt of zero means the agreement does not lapse.
type LeaseAgreement struct {
	Tenant    [20]byte
	Reference string
	Attester  [20]byte
	IssuedAt  int64
	ExpiresAt int64
}

// ErrSelfAttestation is returned when a tenant attests their own agreement.
var ErrSelfAttestation = errors.New("reputation: tenant cannot attest own agreement")

// Validate ensures the agreement payload is well formed.
func (a *LeaseAgreement) Validate() error {
	if a == nil {
		return errors.New("reputation: agreement nil")
	}
	if a.Tenant == ([20]byte{}) {
		return errors.New("reputation: tenant required")
	}
	if strings.TrimSpace(a.Reference) == "" {
		return errors.New("reputation: agreement reference required")
	}
	if a.Attester == ([20]byte{}) {
		return errors.New("reputation: attester required")
	}
	if a.Attester == a.Tenant {
		return ErrSelfAttestation
	}
	if a.IssuedAt <= 0 {
		return errors.New("reputation: issuedAt must be positive")
	}
	if a.ExpiresAt > 0 && a.ExpiresAt <= a.IssuedAt {
		return errors.New("reputation: expiresAt must be after issuedAt")
	}
	return nil
}

// ActiveAt reports whether the agreement covers the supplied timestamp.
func (a *LeaseAgreement) ActiveAt(now int64) bool {
	if a == nil || now < a.IssuedAt {
		return false
	}
	return a.ExpiresAt == 0 || now < a.ExpiresAt
}

// AgreementID derives the stable identifier for an agreement from the tenant,
// the normalized reference and the attester.
func AgreementID(a *LeaseAgreement) ([32]byte, error) {
	if a == nil {
		return [32]byte{}, errors.New("reputation: agreement nil")
	}
	trimmed := strings.TrimSpace(a.Reference)
	if trimmed == "" {
		return [32]byte{}, errors.New("reputation: agreement reference required")
	}
	digest := ethcrypto.Keccak256([]byte(strings.ToLower(trimmed)))
	hash := ethcrypto.Keccak256(a.Tenant[:], digest, a.Attester[:])
	var id [32]byte
	copy(id[:], hash)
	return id, nil
}
