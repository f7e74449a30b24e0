package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DepositBook tracks native-coin deposits observed at the operator address,
// keyed by the account that sent them. Purchases spend these credits; the
// operator then forwards the matching value out of its own balance.
type DepositBook struct {
	mu      sync.Mutex
	credits map[common.Address]*big.Int
}

func NewDepositBook() *DepositBook {
	return &DepositBook{credits: make(map[common.Address]*big.Int)}
}

func (b *DepositBook) Credit(from common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.credits[from]
	if !ok {
		c = big.NewInt(0)
		b.credits[from] = c
	}
	c.Add(c, amount)
}

// Balance returns the unspent credit for from.
func (b *DepositBook) Balance(from common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.credits[from]; ok {
		return new(big.Int).Set(c)
	}
	return big.NewInt(0)
}

// Spend debits amount from from's credit. It fails when the observed
// deposits do not cover the amount.
func (b *DepositBook) Spend(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit spend: non-positive amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.credits[from]
	if !ok || c.Cmp(amount) < 0 {
		return fmt.Errorf("deposits: %w: %s", ErrInsufficientBalance, from.Hex())
	}
	c.Sub(c, amount)
	return nil
}
