package rentescrow

import "errors"

var (
	ErrRecordNotFound        = errors.New("rentescrow: escrow does not exist")
	ErrEscrowExists          = errors.New("rentescrow: escrow already exists")
	ErrAlreadyLeased         = errors.New("rentescrow: escrow is already leased")
	ErrNotLeased             = errors.New("rentescrow: escrow is not leased yet")
	ErrUnauthorized          = errors.New("rentescrow: caller not authorized")
	ErrInsufficientPayment   = errors.New("rentescrow: insufficient rent amount")
	ErrLeaseNotExpired       = errors.New("rentescrow: lease duration not yet passed")
	ErrInvalidLeaseAgreement = errors.New("rentescrow: invalid lease agreement")
	ErrInvalidPaymentHistory = errors.New("rentescrow: invalid payment history")
	ErrBalanceOverflow       = errors.New("rentescrow: escrow balance overflow")
	ErrInvalidTimestamp      = errors.New("rentescrow: clock returned zero timestamp")
	ErrCustodyUnavailable    = errors.New("rentescrow: custody not configured")
	ErrScoringUnavailable    = errors.New("rentescrow: scoring collaborators not configured")
	ErrVaultParty            = errors.New("rentescrow: custody vault cannot be renter or landlord")
)
