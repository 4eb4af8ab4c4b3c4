package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrVaultShortfall    = errors.New("bank: vault balance below disbursement")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
	ErrSelfTransfer      = errors.New("bank: transfer source and destination are the vault")
)

// Ledger is an in-memory account ledger with a single module vault holding
// escrowed funds. Every movement is applied to both sides or to neither.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[[20]byte]*uint256.Int
	vault    [20]byte
}

// NewLedger creates an empty ledger whose custody balance is tracked under
// the vault address.
func NewLedger(vault [20]byte) *Ledger {
	return &Ledger{
		accounts: make(map[[20]byte]*uint256.Int),
		vault:    vault,
	}
}

// VaultAddress returns the account holding escrowed funds.
func (l *Ledger) VaultAddress() [20]byte { return l.vault }

// Balance returns a copy of the account balance. Unknown accounts hold zero.
func (l *Ledger) Balance(addr [20]byte) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.accounts[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// VaultBalance returns the funds currently in custody.
func (l *Ledger) VaultBalance() *uint256.Int {
	return l.Balance(l.vault)
}

// Credit mints amount into addr. It is used to seed accounts from genesis.
func (l *Ledger) Credit(addr [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balanceLocked(addr)
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	l.accounts[addr] = next
	return nil
}

// Collect moves amount from the payer into the vault.
func (l *Ledger) Collect(from [20]byte, amount *uint256.Int) error {
	if err := l.transfer(from, l.vault, amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return fmt.Errorf("collect from payer: %w", err)
		}
		return err
	}
	return nil
}

// Disburse moves amount out of the vault to the recipient.
func (l *Ledger) Disburse(to [20]byte, amount *uint256.Int) error {
	if err := l.transfer(l.vault, to, amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return ErrVaultShortfall
		}
		return err
	}
	return nil
}

func (l *Ledger) transfer(from, to [20]byte, amount *uint256.Int) error {
	if from == to {
		return ErrSelfTransfer
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.balanceLocked(from)
	if src.Lt(amount) {
		return ErrInsufficientFunds
	}
	dst := l.balanceLocked(to)
	nextDst, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	l.accounts[from] = new(uint256.Int).Sub(src, amount)
	l.accounts[to] = nextDst
	return nil
}

func (l *Ledger) balanceLocked(addr [20]byte) *uint256.Int {
	if bal, ok := l.accounts[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}
