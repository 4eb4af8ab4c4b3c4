package rentescrow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"rentescrow/core/events"
	"rentescrow/core/types"
)

// Registry owns the table of rent escrows and applies every transition under a
// single lock so custody movements and ledger updates are never observed
// half-applied.
type Registry struct {
	mu      sync.Mutex
	records map[uint64]*Record
	custody Custody
	scoring Scoring
	emitter events.Emitter
	nowFn   func() uint64
	logger  *slog.Logger
}

// NewRegistry creates an empty registry with a no-op emitter and a wall clock
// measured in unix seconds.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[uint64]*Record),
		emitter: events.NoopEmitter{},
		nowFn:   unixNow,
		logger:  slog.Default(),
	}
}

func unixNow() uint64 { return uint64(time.Now().Unix()) }

// SetCustody configures the backend that holds escrowed funds.
func (r *Registry) SetCustody(custody Custody) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custody = custody
}

// SetScoring configures the collaborators consulted when scoring a renter.
func (r *Registry) SetScoring(scoring Scoring) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scoring = scoring
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (r *Registry) SetNowFunc(now func() uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = unixNow
		return
	}
	r.nowFn = now
}

// SetLogger overrides the structured logger.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger.With("component", "rentescrow")
}

func (r *Registry) emit(evt *types.Event) {
	if r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(escrowEvent{evt: evt})
}

func (r *Registry) load(id uint64) (*Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// Create opens a new escrow owned by caller as renter. Identifiers are unique
// across live records; reusing one fails with ErrEscrowExists.
func (r *Registry) Create(caller [20]byte, id uint64, landlord [20]byte, rentAmount *uint256.Int, leaseDuration uint64) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return nil, ErrEscrowExists
	}
	if r.custody != nil {
		vault := r.custody.VaultAddress()
		if caller == vault || landlord == vault {
			return nil, ErrVaultParty
		}
	}
	rec := &Record{
		ID:            id,
		Renter:        caller,
		Landlord:      landlord,
		LeaseDuration: leaseDuration,
	}
	if rentAmount != nil {
		rec.RentAmount.Set(rentAmount)
	}
	r.records[id] = rec
	r.logger.Info("escrow created", "id", id, "rentAmount", rec.RentAmount.Dec(), "leaseDuration", leaseDuration)
	r.emit(NewCreatedEvent(rec))
	return rec.Clone(), nil
}

// Rent starts the lease and returns the leased record. Only the renter may
// call it, once.
func (r *Registry) Rent(caller [20]byte, id uint64) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if rec.IsLeased {
		return nil, ErrAlreadyLeased
	}
	if caller != rec.Renter {
		return nil, ErrUnauthorized
	}
	now := r.nowFn()
	if now == 0 {
		return nil, ErrInvalidTimestamp
	}
	rec.LeaseStartTime = now
	rec.IsLeased = true
	r.logger.Info("escrow leased", "id", id, "leaseStartTime", now)
	r.emit(NewLeasedEvent(rec))
	return rec.Clone(), nil
}

// PayRent moves value from the renter into custody and credits the escrow
// balance. Overpayments are credited in full. The updated record is returned.
func (r *Registry) PayRent(caller [20]byte, id uint64, value *uint256.Int) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if !rec.IsLeased {
		return nil, ErrNotLeased
	}
	if caller != rec.Renter {
		return nil, ErrUnauthorized
	}
	paid := new(uint256.Int)
	if value != nil {
		paid.Set(value)
	}
	if paid.Lt(&rec.RentAmount) {
		return nil, ErrInsufficientPayment
	}
	next, overflow := new(uint256.Int).AddOverflow(&rec.EscrowBalance, paid)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	if !paid.IsZero() {
		if r.custody == nil {
			return nil, ErrCustodyUnavailable
		}
		if err := r.custody.Collect(caller, paid); err != nil {
			return nil, fmt.Errorf("rentescrow: collect rent: %w", err)
		}
	}
	rec.EscrowBalance.Set(next)
	r.logger.Info("rent paid", "id", id, "amount", paid.Dec(), "balance", rec.EscrowBalance.Dec())
	r.emit(NewRentPaidEvent(rec, paid))
	return rec.Clone(), nil
}

// LeaseEnded pays the full balance to the landlord once the lease term has
// elapsed and removes the escrow. The amount disbursed is returned.
func (r *Registry) LeaseEnded(caller [20]byte, id uint64) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if !rec.IsLeased {
		return nil, ErrNotLeased
	}
	if caller != rec.Landlord {
		return nil, ErrUnauthorized
	}
	if !rec.leaseExpired(r.nowFn()) {
		return nil, ErrLeaseNotExpired
	}
	amount, err := r.settle(rec)
	if err != nil {
		return nil, err
	}
	r.logger.Info("lease ended", "id", id, "disbursed", amount.Dec())
	r.emit(NewEndedEvent(rec, amount))
	return amount, nil
}

// CancelLease returns whatever balance accrued to the landlord and removes an
// escrow that was never leased.
func (r *Registry) CancelLease(caller [20]byte, id uint64) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if rec.IsLeased {
		return nil, ErrAlreadyLeased
	}
	if caller != rec.Landlord {
		return nil, ErrUnauthorized
	}
	amount, err := r.settle(rec)
	if err != nil {
		return nil, err
	}
	r.logger.Info("lease cancelled", "id", id, "disbursed", amount.Dec())
	r.emit(NewCancelledEvent(rec, amount))
	return amount, nil
}

// settle disburses the escrow balance to the landlord and deletes the record.
// A failed disbursement leaves the record untouched.
func (r *Registry) settle(rec *Record) (*uint256.Int, error) {
	amount := new(uint256.Int).Set(&rec.EscrowBalance)
	if !amount.IsZero() {
		if r.custody == nil {
			return nil, ErrCustodyUnavailable
		}
		if err := r.custody.Disburse(rec.Landlord, amount); err != nil {
			return nil, fmt.Errorf("rentescrow: disburse balance: %w", err)
		}
	}
	delete(r.records, rec.ID)
	return amount, nil
}

// CalculateReliabilityScore validates the renter with the configured
// collaborators and stores the computed score. It never affects balances or
// state.
func (r *Registry) CalculateReliabilityScore(ctx context.Context, caller [20]byte, id uint64, input uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.load(id)
	if err != nil {
		return 0, err
	}
	if !rec.IsLeased {
		return 0, ErrNotLeased
	}
	if caller != rec.Renter {
		return 0, ErrUnauthorized
	}
	if !r.scoring.configured() {
		return 0, ErrScoringUnavailable
	}
	ok, err := r.scoring.LeaseAgreements.ValidateLeaseAgreement(ctx, rec.Renter)
	if err != nil {
		return 0, fmt.Errorf("rentescrow: validate lease agreement: %w", err)
	}
	if !ok {
		return 0, ErrInvalidLeaseAgreement
	}
	ok, err = r.scoring.PaymentHistory.ValidatePaymentHistory(ctx, rec.Renter)
	if err != nil {
		return 0, fmt.Errorf("rentescrow: validate payment history: %w", err)
	}
	if !ok {
		return 0, ErrInvalidPaymentHistory
	}
	score, err := r.scoring.Scores.ComputeScore(ctx, rec.Renter, input)
	if err != nil {
		return 0, fmt.Errorf("rentescrow: compute score: %w", err)
	}
	rec.ReliabilityScore = score
	r.logger.Debug("reliability score stored", "id", id, "score", score)
	r.emit(NewScoredEvent(rec))
	return score, nil
}

// Get returns a copy of the escrow stored under id.
func (r *Registry) Get(id uint64) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns copies of every live escrow ordered by identifier.
func (r *Registry) List() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises live records and the funds currently held for them.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats Stats
	for _, rec := range r.records {
		stats.Live++
		if rec.IsLeased {
			stats.Leased++
		}
		stats.CustodyAmount.Add(&stats.CustodyAmount, &rec.EscrowBalance)
	}
	return stats
}
