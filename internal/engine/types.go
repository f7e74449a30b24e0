package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Oracle supplies the USD price of one native unit, fixed-point 6 decimals.
type Oracle interface {
	UsdPerNative6(ctx context.Context) (*big.Int, error)
}

// Ledger is the balance/allowance surface the engine needs from a token
// (or native-coin) ledger. Implementations may bind Transfer/TransferFrom
// to a specific operator account and reject other senders.
type Ledger interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error
}

// Phase is one pricing/cap tier of the sale.
type Phase struct {
	PriceUSD6   *big.Int // USD per token, 6 dp; > 0 once set
	CapTokens18 *big.Int // max sellable in this phase, 18 dp
	SoldTokens18 *big.Int
	DeadlineUnix int64 // 0 = no deadline
}

// PhaseInfo is the read-only per-phase snapshot.
type PhaseInfo struct {
	Index        int      `json:"index"`
	PriceUSD6    *big.Int `json:"priceUsd6"`
	CapTokens18  *big.Int `json:"capTokens18"`
	SoldTokens18 *big.Int `json:"soldTokens18"`
	DeadlineUnix int64    `json:"deadlineUnix"`
}

// VestingSchedule is installed once by EndPresaleAndStartVesting.
type VestingSchedule struct {
	ClaimStartUnix  int64
	CliffSeconds    int64
	DurationSeconds int64
}

// Account tracks one buyer across all phases. Created lazily on first
// purchase, never deleted.
type Account struct {
	TotalPurchased18 *big.Int
	Claimed18        *big.Int
}

// VestingInfo is the per-address vesting projection clients render.
type VestingInfo struct {
	Total          *big.Int `json:"total"`
	AlreadyClaimed *big.Int `json:"alreadyClaimed"`
	Unlocked       *big.Int `json:"unlocked"`
	Claimable      *big.Int `json:"claimable"`
	ClaimStart     int64    `json:"claimStart"`
	Cliff          int64    `json:"cliff"`
	Duration       int64    `json:"duration"`
}

// Snapshot is the JSON-friendly persisted form of engine state. Amounts are
// decimal strings so the store never loses precision.
type Snapshot struct {
	Version           uint64            `json:"version"`
	Seq               uint64            `json:"seq"`
	CurrentPhase      int               `json:"currentPhase"`
	Paused            bool              `json:"paused"`
	WhitelistRequired bool              `json:"whitelistRequired"`
	Ended             bool              `json:"ended"`
	EthReceiver       string            `json:"ethReceiver"`
	StableReceiver    string            `json:"stableReceiver"`
	Whitelist         []string          `json:"whitelist"`
	Phases            []PhaseSnapshot   `json:"phases"`
	Schedule          *VestingSchedule  `json:"schedule,omitempty"`
	Accounts          []AccountSnapshot `json:"accounts"`
	TotalPurchased18  string            `json:"totalPurchased18"`
	TotalClaimed18    string            `json:"totalClaimed18"`
}

type PhaseSnapshot struct {
	PriceUSD6    string `json:"priceUsd6"`
	CapTokens18  string `json:"capTokens18"`
	SoldTokens18 string `json:"soldTokens18"`
	DeadlineUnix int64  `json:"deadlineUnix"`
}

type AccountSnapshot struct {
	Address     string `json:"address"`
	Purchased18 string `json:"purchased18"`
	Claimed18   string `json:"claimed18"`
}

// AuditRecord captures one mutating call, successful or not. Seq is assigned
// by the engine and is strictly increasing.
type AuditRecord struct {
	Seq      uint64 `json:"seq"`
	TimeUnix int64  `json:"timeUnix"`
	Actor    string `json:"actor"`
	Op       string `json:"op"`
	Params   string `json:"params"` // compact JSON of call inputs
	Before   string `json:"before"` // state digest before the call
	After    string `json:"after"`  // state digest after the call
	Reason   string `json:"reason"` // failure reason, empty on success
}

// CommitSink receives the post-mutation snapshot together with the audit
// record for that mutation. Implementations persist both atomically.
type CommitSink interface {
	Commit(snap Snapshot, rec AuditRecord) error
}
