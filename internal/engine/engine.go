// Package engine implements the presale state machine: phased USD-pegged
// pricing, two purchase paths, linear post-cliff vesting with claims, and
// owner-gated administration. Every mutation is serialized, audited, and
// pushed to a commit sink; reads are concurrent and reflect the most
// recently committed state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	oneToken18 = new(big.Int).SetUint64(1_000_000_000_000_000_000)
	oneNative18 = oneToken18
)

// Params configures a fresh engine.
type Params struct {
	Owner          common.Address
	Custody        common.Address // account holding sale-token inventory and pulled funds
	EthReceiver    common.Address
	StableReceiver common.Address

	// One entry per sale tier, in order. PriceUSD6 must be > 0.
	Phases []PhaseParams

	WhitelistRequired bool

	Oracle Oracle
	Native Ledger // native coin, 18 dp
	Stable Ledger // stable payment token, 6 dp
	Tokens Ledger // sale token, 18 dp

	Sink CommitSink           // optional
	Now  func() time.Time     // optional, defaults to time.Now
	Logf func(string, ...any) // optional
}

type PhaseParams struct {
	PriceUSD6    *big.Int
	CapTokens18  *big.Int
	DeadlineUnix int64
}

type Engine struct {
	mu sync.RWMutex

	owner          common.Address
	custody        common.Address
	ethReceiver    common.Address
	stableReceiver common.Address

	current   int
	phases    []Phase
	paused    bool
	wlRequired bool
	whitelist map[common.Address]bool
	ended     bool
	schedule  *VestingSchedule

	accounts        map[common.Address]*Account
	totalPurchased18 *big.Int
	totalClaimed18   *big.Int

	version uint64
	seq     uint64

	oracle Oracle
	native Ledger
	stable Ledger
	tokens Ledger

	sink CommitSink
	now  func() time.Time
	logf func(string, ...any)
}

// New builds an engine with empty sale bookkeeping.
func New(p Params) (*Engine, error) {
	if len(p.Phases) == 0 {
		return nil, fmt.Errorf("new engine: %w: no phases", ErrInvalidPhase)
	}
	if p.Oracle == nil || p.Native == nil || p.Stable == nil || p.Tokens == nil {
		return nil, fmt.Errorf("new engine: oracle and all three ledgers are required")
	}
	if p.EthReceiver == (common.Address{}) || p.StableReceiver == (common.Address{}) {
		return nil, fmt.Errorf("new engine: %w: receiver", ErrZeroAddress)
	}
	e := &Engine{
		owner:            p.Owner,
		custody:          p.Custody,
		ethReceiver:      p.EthReceiver,
		stableReceiver:   p.StableReceiver,
		wlRequired:       p.WhitelistRequired,
		whitelist:        make(map[common.Address]bool),
		accounts:         make(map[common.Address]*Account),
		totalPurchased18: big.NewInt(0),
		totalClaimed18:   big.NewInt(0),
		oracle:           p.Oracle,
		native:           p.Native,
		stable:           p.Stable,
		tokens:           p.Tokens,
		sink:             p.Sink,
		now:              p.Now,
		logf:             p.Logf,
	}
	if e.now == nil {
		e.now = time.Now
	}
	for i, ph := range p.Phases {
		if ph.PriceUSD6 == nil || ph.PriceUSD6.Sign() <= 0 {
			return nil, fmt.Errorf("phase %d price: %w", i, ErrCannotBeZero)
		}
		if ph.CapTokens18 == nil || ph.CapTokens18.Sign() < 0 {
			return nil, fmt.Errorf("phase %d cap: %w", i, ErrCannotBeZero)
		}
		e.phases = append(e.phases, Phase{
			PriceUSD6:    new(big.Int).Set(ph.PriceUSD6),
			CapTokens18:  new(big.Int).Set(ph.CapTokens18),
			SoldTokens18: big.NewInt(0),
			DeadlineUnix: ph.DeadlineUnix,
		})
	}
	return e, nil
}

// Restore builds an engine from a persisted snapshot. Params supply the
// collaborators and the owner/custody identities; sale state comes from snap.
func Restore(p Params, snap Snapshot) (*Engine, error) {
	if len(snap.Phases) == 0 {
		return nil, fmt.Errorf("restore: %w: snapshot has no phases", ErrInvalidPhase)
	}
	ps := make([]PhaseParams, len(snap.Phases))
	for i := range snap.Phases {
		ps[i] = PhaseParams{PriceUSD6: big.NewInt(1), CapTokens18: big.NewInt(0)}
	}
	p.Phases = ps
	e, err := New(p)
	if err != nil {
		return nil, err
	}
	for i, s := range snap.Phases {
		price, ok := new(big.Int).SetString(s.PriceUSD6, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("restore phase %d price %q", i, s.PriceUSD6)
		}
		cap18, ok := new(big.Int).SetString(s.CapTokens18, 10)
		if !ok {
			return nil, fmt.Errorf("restore phase %d cap %q", i, s.CapTokens18)
		}
		sold, ok := new(big.Int).SetString(s.SoldTokens18, 10)
		if !ok {
			return nil, fmt.Errorf("restore phase %d sold %q", i, s.SoldTokens18)
		}
		e.phases[i] = Phase{PriceUSD6: price, CapTokens18: cap18, SoldTokens18: sold, DeadlineUnix: s.DeadlineUnix}
	}
	if snap.CurrentPhase < 0 || snap.CurrentPhase >= len(e.phases) {
		return nil, fmt.Errorf("restore: %w: current %d", ErrInvalidPhase, snap.CurrentPhase)
	}
	e.current = snap.CurrentPhase
	e.paused = snap.Paused
	e.wlRequired = snap.WhitelistRequired
	e.ended = snap.Ended
	if snap.Schedule != nil {
		sc := *snap.Schedule
		e.schedule = &sc
	}
	if snap.EthReceiver != "" {
		e.ethReceiver = common.HexToAddress(snap.EthReceiver)
	}
	if snap.StableReceiver != "" {
		e.stableReceiver = common.HexToAddress(snap.StableReceiver)
	}
	for _, a := range snap.Whitelist {
		e.whitelist[common.HexToAddress(a)] = true
	}
	for _, a := range snap.Accounts {
		purchased, ok := new(big.Int).SetString(a.Purchased18, 10)
		if !ok {
			return nil, fmt.Errorf("restore account %s purchased %q", a.Address, a.Purchased18)
		}
		claimed, ok := new(big.Int).SetString(a.Claimed18, 10)
		if !ok {
			return nil, fmt.Errorf("restore account %s claimed %q", a.Address, a.Claimed18)
		}
		e.accounts[common.HexToAddress(a.Address)] = &Account{TotalPurchased18: purchased, Claimed18: claimed}
	}
	if v, ok := new(big.Int).SetString(snap.TotalPurchased18, 10); ok {
		e.totalPurchased18 = v
	}
	if v, ok := new(big.Int).SetString(snap.TotalClaimed18, 10); ok {
		e.totalClaimed18 = v
	}
	e.version = snap.Version
	// Rejected calls advance the journal sequence without a version bump,
	// so the snapshot carries seq separately. Falling back to the version
	// here would replay sequence numbers the journal already holds.
	e.seq = snap.Seq
	if e.seq < e.version {
		e.seq = e.version
	}
	return e, nil
}

// ---------- Reads ----------

// CurrentPhase returns the active phase ordinal.
func (e *Engine) CurrentPhase() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// PricePerTokenUSD6 returns the fixed-point USD price for the given phase.
func (e *Engine) PricePerTokenUSD6(index int) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.phases) {
		return nil, fmt.Errorf("phase %d: %w", index, ErrInvalidPhase)
	}
	return new(big.Int).Set(e.phases[index].PriceUSD6), nil
}

// PhaseInfo returns the cap/sold/deadline tuple for one phase.
func (e *Engine) PhaseInfo(index int) (PhaseInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.phases) {
		return PhaseInfo{}, fmt.Errorf("phase %d: %w", index, ErrInvalidPhase)
	}
	ph := e.phases[index]
	return PhaseInfo{
		Index:        index,
		PriceUSD6:    new(big.Int).Set(ph.PriceUSD6),
		CapTokens18:  new(big.Int).Set(ph.CapTokens18),
		SoldTokens18: new(big.Int).Set(ph.SoldTokens18),
		DeadlineUnix: ph.DeadlineUnix,
	}, nil
}

func (e *Engine) PhaseCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.phases)
}

func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

func (e *Engine) PresaleEnded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ended
}

func (e *Engine) WhitelistRequired() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wlRequired
}

func (e *Engine) Owner() common.Address { return e.owner }

// Version increases by one on every committed mutation. Read models use it
// for cache invalidation.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// VestingInfo computes the vesting projection for one address as of now.
// Before the presale is ended all unlock amounts are zero.
func (e *Engine) VestingInfo(addr common.Address) VestingInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info := VestingInfo{
		Total:          big.NewInt(0),
		AlreadyClaimed: big.NewInt(0),
		Unlocked:       big.NewInt(0),
		Claimable:      big.NewInt(0),
	}
	if acct, ok := e.accounts[addr]; ok {
		info.Total = new(big.Int).Set(acct.TotalPurchased18)
		info.AlreadyClaimed = new(big.Int).Set(acct.Claimed18)
	}
	if e.schedule != nil {
		info.ClaimStart = e.schedule.ClaimStartUnix
		info.Cliff = e.schedule.CliffSeconds
		info.Duration = e.schedule.DurationSeconds
		info.Unlocked = unlockedAt(info.Total, e.schedule, e.now().Unix())
		claimable := new(big.Int).Sub(info.Unlocked, info.AlreadyClaimed)
		if claimable.Sign() > 0 {
			info.Claimable = claimable
		}
	}
	return info
}

// EthUsd6 proxies the oracle rate (USD per native unit, 6 dp).
func (e *Engine) EthUsd6(ctx context.Context) (*big.Int, error) {
	rate, err := e.oracle.UsdPerNative6(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero rate", ErrOracleUnavailable)
	}
	return rate, nil
}

// Snapshot copies the full persisted state. Callers outside the engine use
// it for bootstrap and inspection; commits pass it to the sink.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:           e.version,
		Seq:               e.seq,
		CurrentPhase:      e.current,
		Paused:            e.paused,
		WhitelistRequired: e.wlRequired,
		Ended:             e.ended,
		EthReceiver:       e.ethReceiver.Hex(),
		StableReceiver:    e.stableReceiver.Hex(),
		TotalPurchased18:  e.totalPurchased18.String(),
		TotalClaimed18:    e.totalClaimed18.String(),
	}
	if e.schedule != nil {
		sc := *e.schedule
		snap.Schedule = &sc
	}
	for _, ph := range e.phases {
		snap.Phases = append(snap.Phases, PhaseSnapshot{
			PriceUSD6:    ph.PriceUSD6.String(),
			CapTokens18:  ph.CapTokens18.String(),
			SoldTokens18: ph.SoldTokens18.String(),
			DeadlineUnix: ph.DeadlineUnix,
		})
	}
	for a := range e.whitelist {
		snap.Whitelist = append(snap.Whitelist, a.Hex())
	}
	sort.Strings(snap.Whitelist)
	for a, acct := range e.accounts {
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			Address:     a.Hex(),
			Purchased18: acct.TotalPurchased18.String(),
			Claimed18:   acct.Claimed18.String(),
		})
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].Address < snap.Accounts[j].Address })
	return snap
}

// ---------- Purchases ----------

// BuyWithETH converts an attached native amount to tokens at the active
// phase price via the oracle rate and credits the buyer. maxCostUSD6, when
// non-nil and positive, bounds the oracle-implied USD cost; the purchase
// fails closed with SlippageExceeded above it.
func (e *Engine) BuyWithETH(ctx context.Context, buyer common.Address, amountWei, maxCostUSD6 *big.Int) (*big.Int, error) {
	var tokensOut *big.Int
	err := e.mutate(buyer, "buyWithETH", map[string]any{
		"amountWei":   str(amountWei),
		"maxCostUsd6": str(maxCostUSD6),
	}, func() error {
		if amountWei == nil || amountWei.Sign() <= 0 {
			return ErrZeroPayment
		}
		if err := e.purchaseGates(buyer); err != nil {
			return err
		}
		rate, err := e.oracle.UsdPerNative6(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		if rate == nil || rate.Sign() <= 0 {
			return fmt.Errorf("%w: zero rate", ErrOracleUnavailable)
		}
		// usd6 = wei * rate6 / 1e18
		usd6 := new(big.Int).Mul(amountWei, rate)
		usd6.Quo(usd6, oneNative18)
		if usd6.Sign() == 0 {
			return ErrZeroPayment
		}
		if maxCostUSD6 != nil && maxCostUSD6.Sign() > 0 && usd6.Cmp(maxCostUSD6) > 0 {
			return fmt.Errorf("%w: cost %s above bound %s", ErrSlippageExceeded, usd6, maxCostUSD6)
		}
		out, err := e.reserveTokens(usd6)
		if err != nil {
			return err
		}
		if err := e.native.Transfer(ctx, buyer, e.ethReceiver, amountWei); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		e.creditPurchase(buyer, out)
		tokensOut = out
		return nil
	})
	return tokensOut, err
}

// BuyWithUSDT pulls an exact pre-approved USD amount (6 dp) of the stable
// token from the buyer, converts at the phase price, credits the buyer, and
// forwards the funds to the stable receiver.
func (e *Engine) BuyWithUSDT(ctx context.Context, buyer common.Address, usd6Amount *big.Int) (*big.Int, error) {
	var tokensOut *big.Int
	err := e.mutate(buyer, "buyWithUSDT", map[string]any{
		"usd6Amount": str(usd6Amount),
	}, func() error {
		if usd6Amount == nil || usd6Amount.Sign() <= 0 {
			return ErrZeroPayment
		}
		if err := e.purchaseGates(buyer); err != nil {
			return err
		}
		out, err := e.reserveTokens(usd6Amount)
		if err != nil {
			return err
		}
		if err := e.stable.TransferFrom(ctx, e.custody, buyer, e.custody, usd6Amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := e.stable.Transfer(ctx, e.custody, e.stableReceiver, usd6Amount); err != nil {
			// the pull already landed at custody; return it so the buyer
			// is never out funds without token credit
			if rerr := e.stable.Transfer(ctx, e.custody, buyer, usd6Amount); rerr != nil {
				e.logfSafe("refund to %s after failed forward: %v", buyer.Hex(), rerr)
			}
			return fmt.Errorf("%w: forward: %v", ErrTransferFailed, err)
		}
		e.creditPurchase(buyer, out)
		tokensOut = out
		return nil
	})
	return tokensOut, err
}

// Claim transfers the caller's claimable tokens. A second call within the
// same instant yields NothingClaimable rather than a state error.
func (e *Engine) Claim(ctx context.Context, caller common.Address) (*big.Int, error) {
	var claimed *big.Int
	err := e.mutate(caller, "claim", nil, func() error {
		if !e.ended || e.schedule == nil {
			return ErrPresaleNotEnded
		}
		acct, ok := e.accounts[caller]
		if !ok {
			return ErrNothingClaimable
		}
		unlocked := unlockedAt(acct.TotalPurchased18, e.schedule, e.now().Unix())
		claimable := new(big.Int).Sub(unlocked, acct.Claimed18)
		if claimable.Sign() <= 0 {
			return ErrNothingClaimable
		}
		if err := e.tokens.Transfer(ctx, e.custody, caller, claimable); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		acct.Claimed18.Add(acct.Claimed18, claimable)
		e.totalClaimed18.Add(e.totalClaimed18, claimable)
		claimed = claimable
		return nil
	})
	return claimed, err
}

// purchaseGates applies the pause/end/whitelist/deadline checks shared by
// both purchase paths. Caller holds the write lock.
func (e *Engine) purchaseGates(buyer common.Address) error {
	if e.paused {
		return ErrPresalePaused
	}
	if e.ended {
		return ErrPresaleAlreadyEnded
	}
	if e.wlRequired && !e.whitelist[buyer] {
		return ErrNotWhitelisted
	}
	ph := &e.phases[e.current]
	if ph.DeadlineUnix != 0 && e.now().Unix() > ph.DeadlineUnix {
		return fmt.Errorf("%w: phase %d deadline %d", ErrPhaseDeadlinePassed, e.current, ph.DeadlineUnix)
	}
	return nil
}

// reserveTokens converts a USD amount to a token quantity at the active
// phase price and checks the cap. No partial fills: a purchase that would
// overdraw the phase is rejected whole.
func (e *Engine) reserveTokens(usd6 *big.Int) (*big.Int, error) {
	ph := &e.phases[e.current]
	out := new(big.Int).Mul(usd6, oneToken18)
	out.Quo(out, ph.PriceUSD6)
	if out.Sign() == 0 {
		return nil, ErrZeroPayment
	}
	sold := new(big.Int).Add(ph.SoldTokens18, out)
	if sold.Cmp(ph.CapTokens18) > 0 {
		return nil, fmt.Errorf("%w: phase %d sold %s + %s > cap %s",
			ErrPhaseCapExceeded, e.current, ph.SoldTokens18, out, ph.CapTokens18)
	}
	return out, nil
}

func (e *Engine) creditPurchase(buyer common.Address, tokens18 *big.Int) {
	ph := &e.phases[e.current]
	ph.SoldTokens18.Add(ph.SoldTokens18, tokens18)
	acct, ok := e.accounts[buyer]
	if !ok {
		acct = &Account{TotalPurchased18: big.NewInt(0), Claimed18: big.NewInt(0)}
		e.accounts[buyer] = acct
	}
	acct.TotalPurchased18.Add(acct.TotalPurchased18, tokens18)
	e.totalPurchased18.Add(e.totalPurchased18, tokens18)
}

// ---------- Commit plumbing ----------

// mutate serializes a mutating call, records it in the audit journal, and
// pushes the post-state snapshot to the sink. Failed calls are journaled
// too, with the failure reason and an unchanged digest.
func (e *Engine) mutate(actor common.Address, op string, params map[string]any, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.digestLocked()
	opErr := fn()
	if opErr == nil {
		e.version++
	}
	e.seq++
	rec := AuditRecord{
		Seq:      e.seq,
		TimeUnix: e.now().Unix(),
		Actor:    actor.Hex(),
		Op:       op,
		Params:   compactJSON(params),
		Before:   before,
		After:    e.digestLocked(),
	}
	if opErr != nil {
		rec.Reason = opErr.Error()
	}
	if e.sink != nil {
		if err := e.sink.Commit(e.snapshotLocked(), rec); err != nil {
			// In-memory state is authoritative; a sink failure loses
			// durability, not correctness. Surface it loudly.
			e.logfSafe("commit sink: op=%s seq=%d: %v", op, rec.Seq, err)
		}
	}
	if opErr != nil {
		e.logfSafe("%s by %s rejected: %v", op, actor.Hex(), opErr)
	} else {
		e.logfSafe("%s by %s committed (v%d)", op, actor.Hex(), e.version)
	}
	return opErr
}

// digestLocked summarizes the mutable state for audit before/after fields.
func (e *Engine) digestLocked() string {
	ph := e.phases[e.current]
	return compactJSON(map[string]any{
		"version": e.version,
		"phase":   e.current,
		"sold":    ph.SoldTokens18.String(),
		"cap":     ph.CapTokens18.String(),
		"paused":  e.paused,
		"ended":   e.ended,
		"wl":      e.wlRequired,
	})
}

func (e *Engine) logfSafe(format string, a ...any) {
	if e.logf != nil {
		e.logf(format, a...)
	}
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func str(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
