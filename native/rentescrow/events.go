package rentescrow

import (
	"strconv"

	"rentescrow/core/types"
	"rentescrow/crypto"

	"github.com/holiman/uint256"
)

const (
	EventTypeCreated   = "rentescrow.created"
	EventTypeLeased    = "rentescrow.leased"
	EventTypeRentPaid  = "rentescrow.rent_paid"
	EventTypeEnded     = "rentescrow.lease_ended"
	EventTypeCancelled = "rentescrow.cancelled"
	EventTypeScored    = "rentescrow.scored"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical payload for a newly opened escrow.
func NewCreatedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeCreated, r)
	if r != nil {
		evt.Attributes["rentAmount"] = r.RentAmount.Dec()
		evt.Attributes["leaseDuration"] = strconv.FormatUint(r.LeaseDuration, 10)
	}
	return evt
}

// NewLeasedEvent returns the payload emitted when the renter starts the lease.
func NewLeasedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeLeased, r)
	if r != nil {
		evt.Attributes["leaseStartTime"] = strconv.FormatUint(r.LeaseStartTime, 10)
	}
	return evt
}

// NewRentPaidEvent returns the payload for a credited rent payment.
func NewRentPaidEvent(r *Record, paid *uint256.Int) *types.Event {
	evt := newRecordEvent(EventTypeRentPaid, r)
	evt.Attributes["amount"] = formatAmount(paid)
	return evt
}

// NewEndedEvent returns the payload emitted once the landlord collects the
// balance after the lease term.
func NewEndedEvent(r *Record, disbursed *uint256.Int) *types.Event {
	evt := newRecordEvent(EventTypeEnded, r)
	evt.Attributes["amount"] = formatAmount(disbursed)
	return evt
}

// NewCancelledEvent returns the payload for a cancellation before leasing.
func NewCancelledEvent(r *Record, disbursed *uint256.Int) *types.Event {
	evt := newRecordEvent(EventTypeCancelled, r)
	evt.Attributes["amount"] = formatAmount(disbursed)
	return evt
}

// NewScoredEvent returns the payload for a stored reliability score.
func NewScoredEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeScored, r)
	if r != nil {
		evt.Attributes["score"] = strconv.FormatUint(r.ReliabilityScore, 10)
	}
	return evt
}

func newRecordEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(r.ID, 10)
	attrs["renter"] = crypto.FormatIdentity(r.Renter)
	attrs["landlord"] = crypto.FormatIdentity(r.Landlord)
	attrs["balance"] = r.EscrowBalance.Dec()
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
