// Package ledger provides the balance/allowance ledgers the presale engine
// moves funds through: an authoritative in-process ledger and an ERC-20
// backed one for tokens that live on-chain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Memory is an in-process fungible-token ledger with standard
// balance/allowance semantics. It is the authoritative ledger when the
// corresponding asset does not live on-chain.
type Memory struct {
	mu         sync.Mutex
	name       string
	decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // owner -> spender
}

func NewMemory(name string, decimals uint8) *Memory {
	return &Memory{
		name:       name,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (m *Memory) Name() string   { return m.name }
func (m *Memory) Decimals() uint8 { return m.decimals }

// Mint credits an account out of thin air. Bootstrap only.
func (m *Memory) Mint(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(account, amount)
}

// Approve grants spender the right to pull up to amount from owner. This is
// the external "approve" step of the stable purchase path.
func (m *Memory) Approve(owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOwner, ok := m.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		m.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
}

func (m *Memory) Allowance(owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

func (m *Memory) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *Memory) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

func (m *Memory) TransferFrom(_ context.Context, spender, owner, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spender != owner {
		allowed, ok := m.allowances[owner][spender]
		if !ok || allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%s: %w: owner %s spender %s", m.name, ErrInsufficientAllowance, owner.Hex(), spender.Hex())
		}
		allowed.Sub(allowed, amount)
	}
	return m.move(owner, to, amount)
}

func (m *Memory) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: negative amount", m.name)
	}
	bal, ok := m.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s: %w: %s", m.name, ErrInsufficientBalance, from.Hex())
	}
	bal.Sub(bal, amount)
	m.credit(to, amount)
	return nil
}

func (m *Memory) credit(account common.Address, amount *big.Int) {
	b, ok := m.balances[account]
	if !ok {
		b = big.NewInt(0)
		m.balances[account] = b
	}
	b.Add(b, amount)
}
