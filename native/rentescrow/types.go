package rentescrow

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a live escrow record. Deleted records are
// simply absent from the registry.
type Status uint8

const (
	StatusUnleased Status = iota + 1
	StatusLeased
)

func (s Status) String() string {
	switch s {
	case StatusUnleased:
		return "unleased"
	case StatusLeased:
		return "leased"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Record captures a single rent escrow. Renter and Landlord are fixed at
// creation; LeaseStartTime stays zero until the renter starts the lease.
type Record struct {
	ID               uint64
	Renter           [20]byte
	Landlord         [20]byte
	RentAmount       uint256.Int
	LeaseDuration    uint64
	LeaseStartTime   uint64
	EscrowBalance    uint256.Int
	IsLeased         bool
	ReliabilityScore uint64
}

// Clone returns a copy of the record that callers may mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Status derives the lifecycle state from the leased flag.
func (r *Record) Status() Status {
	if r != nil && r.IsLeased {
		return StatusLeased
	}
	return StatusUnleased
}

// LeaseEndsAt reports the first timestamp at which the landlord may close the
// lease. The second return value is false when the record is not leased or the
// sum does not fit in a uint64.
func (r *Record) LeaseEndsAt() (uint64, bool) {
	if r == nil || !r.IsLeased {
		return 0, false
	}
	end := r.LeaseStartTime + r.LeaseDuration
	if end < r.LeaseStartTime {
		return 0, false
	}
	return end, true
}

// leaseExpired reports whether now is at or past start+duration without
// overflowing.
func (r *Record) leaseExpired(now uint64) bool {
	if now < r.LeaseStartTime {
		return false
	}
	return now-r.LeaseStartTime >= r.LeaseDuration
}

// Stats summarises the registry contents.
type Stats struct {
	Live          int
	Leased        int
	CustodyAmount uint256.Int
}
