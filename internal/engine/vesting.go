package engine

import "math/big"

// unlockedAt computes the vested amount for one account under the global
// schedule. Locked until claimStart+cliff, linear in (now-claimStart)/duration
// after that, full total from claimStart+duration on. Division floors; the
// remainder unlocks with later reads.
func unlockedAt(total *big.Int, s *VestingSchedule, now int64) *big.Int {
	if s == nil || total == nil || total.Sign() <= 0 {
		return big.NewInt(0)
	}
	if now < s.ClaimStartUnix+s.CliffSeconds {
		return big.NewInt(0)
	}
	if now >= s.ClaimStartUnix+s.DurationSeconds {
		return new(big.Int).Set(total)
	}
	elapsed := now - s.ClaimStartUnix
	unlocked := new(big.Int).Mul(total, big.NewInt(elapsed))
	unlocked.Quo(unlocked, big.NewInt(s.DurationSeconds))
	if unlocked.Cmp(total) > 0 {
		unlocked.Set(total)
	}
	return unlocked
}
