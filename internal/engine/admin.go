package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Owner-gated mutators. Each one is a single atomic state change; any
// non-owner actor fails with NotOwner before the body runs.

func (e *Engine) requireOwner(actor common.Address) error {
	if actor != e.owner {
		return ErrNotOwner
	}
	return nil
}

// Pause blocks both purchase paths until Resume.
func (e *Engine) Pause(actor common.Address) error {
	return e.mutate(actor, "pause", nil, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		e.paused = true
		return nil
	})
}

func (e *Engine) Resume(actor common.Address) error {
	return e.mutate(actor, "resume", nil, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		e.paused = false
		return nil
	})
}

// AdvancePhase moves the sale to the next tier. With carryOver the unsold
// cap of the outgoing phase is added to the incoming phase's cap; the
// incoming deadline is left untouched.
func (e *Engine) AdvancePhase(actor common.Address, carryOver bool) error {
	return e.mutate(actor, "advancePhase", map[string]any{"carryOver": carryOver}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if e.ended {
			return ErrPresaleAlreadyEnded
		}
		if e.current+1 >= len(e.phases) {
			return ErrNoNextPhase
		}
		if carryOver {
			out := &e.phases[e.current]
			unsold := new(big.Int).Sub(out.CapTokens18, out.SoldTokens18)
			if unsold.Sign() > 0 {
				next := &e.phases[e.current+1]
				next.CapTokens18.Add(next.CapTokens18, unsold)
			}
		}
		e.current++
		return nil
	})
}

func (e *Engine) SetWhitelistRequired(actor common.Address, required bool) error {
	return e.mutate(actor, "setWhitelistRequired", map[string]any{"required": required}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		e.wlRequired = required
		return nil
	})
}

// SetWhitelisted admits or removes one address from the whitelist.
func (e *Engine) SetWhitelisted(actor, addr common.Address, allowed bool) error {
	return e.mutate(actor, "setWhitelisted", map[string]any{"address": addr.Hex(), "allowed": allowed}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if addr == (common.Address{}) {
			return ErrZeroAddress
		}
		if allowed {
			e.whitelist[addr] = true
		} else {
			delete(e.whitelist, addr)
		}
		return nil
	})
}

func (e *Engine) SetReceivers(actor, ethReceiver, stableReceiver common.Address) error {
	return e.mutate(actor, "setReceivers", map[string]any{
		"eth":    ethReceiver.Hex(),
		"stable": stableReceiver.Hex(),
	}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if ethReceiver == (common.Address{}) || stableReceiver == (common.Address{}) {
			return ErrZeroAddress
		}
		e.ethReceiver = ethReceiver
		e.stableReceiver = stableReceiver
		return nil
	})
}

func (e *Engine) SetPhaseDeadline(actor common.Address, index int, deadlineUnix int64) error {
	return e.mutate(actor, "setPhaseDeadline", map[string]any{"phase": index, "deadline": deadlineUnix}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if e.ended {
			return ErrPresaleAlreadyEnded
		}
		if index < 0 || index >= len(e.phases) {
			return fmt.Errorf("phase %d: %w", index, ErrInvalidPhase)
		}
		e.phases[index].DeadlineUnix = deadlineUnix
		return nil
	})
}

// SetPhaseCap replaces a phase cap. Already-sold amounts are never
// recomputed; the new cap cannot fall below them.
func (e *Engine) SetPhaseCap(actor common.Address, index int, cap18 *big.Int) error {
	return e.mutate(actor, "setPhaseCap", map[string]any{"phase": index, "cap18": str(cap18)}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if e.ended {
			return ErrPresaleAlreadyEnded
		}
		if index < 0 || index >= len(e.phases) {
			return fmt.Errorf("phase %d: %w", index, ErrInvalidPhase)
		}
		if cap18 == nil || cap18.Sign() < 0 {
			return ErrCannotBeZero
		}
		if cap18.Cmp(e.phases[index].SoldTokens18) < 0 {
			return fmt.Errorf("%w: cap %s < sold %s", ErrCapBelowSold, cap18, e.phases[index].SoldTokens18)
		}
		e.phases[index].CapTokens18 = new(big.Int).Set(cap18)
		return nil
	})
}

func (e *Engine) SetPhasePrice(actor common.Address, index int, priceUSD6 *big.Int) error {
	return e.mutate(actor, "setPhasePrice", map[string]any{"phase": index, "price6": str(priceUSD6)}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if e.ended {
			return ErrPresaleAlreadyEnded
		}
		if index < 0 || index >= len(e.phases) {
			return fmt.Errorf("phase %d: %w", index, ErrInvalidPhase)
		}
		if priceUSD6 == nil || priceUSD6.Sign() <= 0 {
			return ErrCannotBeZero
		}
		e.phases[index].PriceUSD6 = new(big.Int).Set(priceUSD6)
		return nil
	})
}

// WithdrawUnsold moves sale-token inventory out of custody. The amount is
// bounded by custody balance minus tokens still owed to buyers, so owed
// allocations can never be drained.
func (e *Engine) WithdrawUnsold(ctx context.Context, actor, to common.Address, amount18 *big.Int) error {
	return e.mutate(actor, "withdrawUnsold", map[string]any{"to": to.Hex(), "amount18": str(amount18)}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if amount18 == nil || amount18.Sign() <= 0 {
			return ErrCannotBeZero
		}
		balance, err := e.tokens.BalanceOf(ctx, e.custody)
		if err != nil {
			return fmt.Errorf("%w: balance: %v", ErrTransferFailed, err)
		}
		owed := new(big.Int).Sub(e.totalPurchased18, e.totalClaimed18)
		unsold := new(big.Int).Sub(balance, owed)
		if amount18.Cmp(unsold) > 0 {
			return fmt.Errorf("%w: amount %s > unsold %s", ErrExceedsUnsold, amount18, unsold)
		}
		if err := e.tokens.Transfer(ctx, e.custody, to, amount18); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
}

// EndPresaleAndStartVesting is the one-shot transition from selling to
// vesting. It freezes sale mutation and installs the global schedule.
func (e *Engine) EndPresaleAndStartVesting(actor common.Address, claimStartUnix, cliffSeconds, durationSeconds int64) error {
	return e.mutate(actor, "endPresaleAndStartVesting", map[string]any{
		"claimStart": claimStartUnix,
		"cliff":      cliffSeconds,
		"duration":   durationSeconds,
	}, func() error {
		if err := e.requireOwner(actor); err != nil {
			return err
		}
		if e.ended {
			return ErrAlreadyEnded
		}
		if claimStartUnix <= 0 || durationSeconds <= 0 {
			return ErrCannotBeZero
		}
		if cliffSeconds < 0 || durationSeconds < cliffSeconds {
			return fmt.Errorf("%w: duration %d < cliff %d", ErrInvalidSchedule, durationSeconds, cliffSeconds)
		}
		e.ended = true
		e.schedule = &VestingSchedule{
			ClaimStartUnix:  claimStartUnix,
			CliffSeconds:    cliffSeconds,
			DurationSeconds: durationSeconds,
		}
		return nil
	})
}
