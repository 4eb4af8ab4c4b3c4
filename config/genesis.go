package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"rentescrow/crypto"
	"rentescrow/native/bank"
	"rentescrow/native/reputation"
)

// Genesis is the initial state loaded into the daemon at boot: funded
// accounts and the lease agreements operators have already attested.
type Genesis struct {
	Accounts   []GenesisAccount   `toml:"Accounts"`
	Agreements []GenesisAgreement `toml:"Agreements"`

	balances   map[[20]byte]*uint256.Int
	agreements []*reputation.LeaseAgreement
}

type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type GenesisAgreement struct {
	Tenant    string `toml:"Tenant"`
	Reference string `toml:"Reference"`
	Attester  string `toml:"Attester"`
	IssuedAt  int64  `toml:"IssuedAt"`
	ExpiresAt int64  `toml:"ExpiresAt"`
}

// LoadGenesis reads and validates a TOML genesis file. Unknown keys are
// rejected so typos do not silently drop allocations.
func LoadGenesis(path string) (*Genesis, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %q: %w", path, err)
	}
	g, err := ParseGenesis(string(raw))
	if err != nil {
		return nil, fmt.Errorf("genesis %q: %w", path, err)
	}
	return g, nil
}

// ParseGenesis decodes and validates TOML genesis content.
func ParseGenesis(data string) (*Genesis, error) {
	var g Genesis
	meta, err := toml.Decode(data, &g)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown field %q", undecoded[0].String())
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) validate() error {
	g.balances = make(map[[20]byte]*uint256.Int, len(g.Accounts))
	for i, account := range g.Accounts {
		addr, err := crypto.ParseIdentity(account.Address)
		if err != nil {
			return fmt.Errorf("accounts[%d].address: %w", i, err)
		}
		if _, dup := g.balances[addr]; dup {
			return fmt.Errorf("accounts[%d]: duplicate address %s", i, account.Address)
		}
		balance, err := uint256.FromDecimal(strings.TrimSpace(account.Balance))
		if err != nil {
			return fmt.Errorf("accounts[%d].balance: %w", i, err)
		}
		g.balances[addr] = balance
	}
	g.agreements = make([]*reputation.LeaseAgreement, 0, len(g.Agreements))
	for i, entry := range g.Agreements {
		tenant, err := crypto.ParseIdentity(entry.Tenant)
		if err != nil {
			return fmt.Errorf("agreements[%d].tenant: %w", i, err)
		}
		attester, err := crypto.ParseIdentity(entry.Attester)
		if err != nil {
			return fmt.Errorf("agreements[%d].attester: %w", i, err)
		}
		agreement := &reputation.LeaseAgreement{
			Tenant:    tenant,
			Reference: entry.Reference,
			Attester:  attester,
			IssuedAt:  entry.IssuedAt,
			ExpiresAt: entry.ExpiresAt,
		}
		if err := agreement.Validate(); err != nil {
			return fmt.Errorf("agreements[%d]: %w", i, err)
		}
		g.agreements = append(g.agreements, agreement)
	}
	return nil
}

// Balance returns the configured allocation for addr.
func (g *Genesis) Balance(addr [20]byte) (*uint256.Int, bool) {
	balance, ok := g.balances[addr]
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(balance), true
}

// Apply credits every allocation into the ledger, in address order, and
// records the attested agreements with the reputation service.
func (g *Genesis) Apply(ledger *bank.Ledger, svc *reputation.Service) error {
	if g == nil {
		return nil
	}
	if ledger != nil {
		addrs := make([][20]byte, 0, len(g.balances))
		for addr := range g.balances {
			addrs = append(addrs, addr)
		}
		sort.Slice(addrs, func(i, j int) bool {
			return string(addrs[i][:]) < string(addrs[j][:])
		})
		for _, addr := range addrs {
			if err := ledger.Credit(addr, g.balances[addr]); err != nil {
				return fmt.Errorf("credit %s: %w", crypto.FormatIdentity(addr), err)
			}
		}
	}
	if svc != nil {
		for _, agreement := range g.agreements {
			if _, err := svc.RecordAgreement(agreement); err != nil {
				return fmt.Errorf("record agreement %q: %w", agreement.Reference, err)
			}
		}
	}
	return nil
}
