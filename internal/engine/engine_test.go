package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadverse/presale-engine/internal/ledger"
	"github.com/saadverse/presale-engine/internal/oracle"
)

var (
	owner         = addr(0x01)
	custody       = addr(0x02)
	ethReceiver   = addr(0x03)
	usdtReceiver  = addr(0x04)
	buyer         = addr(0x10)
	otherBuyer    = addr(0x11)
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func tok(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneToken18)
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type fixture struct {
	eng    *Engine
	native *ledger.Memory
	stable *ledger.Memory
	tokens *ledger.Memory
	now    *int64
}

// newFixture builds an engine over in-memory ledgers with a fixed
// $3000/ETH rate, 500M SQ8 in custody, and an injectable clock.
func newFixture(t *testing.T, phases []PhaseParams) *fixture {
	t.Helper()
	f := &fixture{
		native: ledger.NewMemory("ETH", 18),
		stable: ledger.NewMemory("USDT", 6),
		tokens: ledger.NewMemory("SQ8", 18),
		now:    new(int64),
	}
	*f.now = 1_700_000_000
	f.tokens.Mint(custody, tok(500_000_000))

	eng, err := New(Params{
		Owner:          owner,
		Custody:        custody,
		EthReceiver:    ethReceiver,
		StableReceiver: usdtReceiver,
		Phases:         phases,
		Oracle:         oracle.NewFixed(big.NewInt(3_000_000_000)),
		Native:         f.native,
		Stable:         f.stable,
		Tokens:         f.tokens,
		Now:            func() time.Time { return time.Unix(*f.now, 0) },
	})
	require.NoError(t, err)
	f.eng = eng
	return f
}

func defaultPhases() []PhaseParams {
	return []PhaseParams{
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(200_000_000)},
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(200_000_000)},
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(100_000_000)},
	}
}

func (f *fixture) fundETH(a common.Address, wei *big.Int) {
	f.native.Mint(a, wei)
}

func (f *fixture) fundUSDT(a common.Address, usd6 *big.Int) {
	f.stable.Mint(a, usd6)
	f.stable.Approve(a, custody, usd6)
}

func TestBuyWithETH(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	// 0.01 ETH at $3000 is $30; at $0.0016 per token that is 18750 SQ8.
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	f.fundETH(buyer, wei)

	out, err := f.eng.BuyWithETH(ctx, buyer, wei, nil)
	require.NoError(t, err)
	assert.Equal(t, tok(18_750), out)

	info := f.eng.VestingInfo(buyer)
	assert.Equal(t, tok(18_750), info.Total)

	rcvBal, _ := f.native.BalanceOf(ctx, ethReceiver)
	assert.Equal(t, wei, rcvBal)
	buyerBal, _ := f.native.BalanceOf(ctx, buyer)
	assert.Zero(t, buyerBal.Sign())

	ph, err := f.eng.PhaseInfo(0)
	require.NoError(t, err)
	assert.Equal(t, tok(18_750), ph.SoldTokens18)
	assert.Equal(t, uint64(1), f.eng.Version())
}

func TestBuyWithUSDT(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))

	out, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100))
	require.NoError(t, err)
	assert.Equal(t, tok(62_500), out)

	// funds end at the receiver, nothing sticks to custody
	rcvBal, _ := f.stable.BalanceOf(ctx, usdtReceiver)
	assert.Equal(t, usd(100), rcvBal)
	custBal, _ := f.stable.BalanceOf(ctx, custody)
	assert.Zero(t, custBal.Sign())
}

func TestBuyWithUSDTWithoutApproval(t *testing.T) {
	f := newFixture(t, defaultPhases())

	f.stable.Mint(buyer, usd(100)) // no approve

	_, err := f.eng.BuyWithUSDT(context.Background(), buyer, usd(100))
	require.ErrorIs(t, err, ErrTransferFailed)

	// the rejected purchase must not move the phase counter
	ph, _ := f.eng.PhaseInfo(0)
	assert.Zero(t, ph.SoldTokens18.Sign())
	assert.Zero(t, f.eng.Version())
}

func TestZeroPaymentRejected(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	_, err := f.eng.BuyWithETH(ctx, buyer, big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrZeroPayment)

	_, err = f.eng.BuyWithUSDT(ctx, buyer, nil)
	assert.ErrorIs(t, err, ErrZeroPayment)

	// dust below one usd6 unit converts to zero cost
	_, err = f.eng.BuyWithETH(ctx, buyer, big.NewInt(1), nil)
	assert.ErrorIs(t, err, ErrZeroPayment)
}

func TestPhaseCapRejectsWholePurchase(t *testing.T) {
	f := newFixture(t, []PhaseParams{
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(1000)},
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(1000)},
	})
	ctx := context.Background()

	// 990 tokens cost $1.584
	f.fundUSDT(buyer, big.NewInt(1_584_000))
	out, err := f.eng.BuyWithUSDT(ctx, buyer, big.NewInt(1_584_000))
	require.NoError(t, err)
	require.Equal(t, tok(990), out)

	// 20 more would cross the cap; no partial fill
	f.fundUSDT(otherBuyer, big.NewInt(32_000))
	_, err = f.eng.BuyWithUSDT(ctx, otherBuyer, big.NewInt(32_000))
	require.ErrorIs(t, err, ErrPhaseCapExceeded)

	ph, _ := f.eng.PhaseInfo(0)
	assert.Equal(t, tok(990), ph.SoldTokens18)
	bal, _ := f.stable.BalanceOf(ctx, otherBuyer)
	assert.Equal(t, big.NewInt(32_000), bal)
}

func TestPauseBlocksPurchases(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()
	f.fundUSDT(buyer, usd(10))

	require.NoError(t, f.eng.Pause(owner))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.ErrorIs(t, err, ErrPresalePaused)

	require.NoError(t, f.eng.Resume(owner))
	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.NoError(t, err)
}

func TestWhitelistGate(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()
	f.fundUSDT(buyer, usd(20))

	require.NoError(t, f.eng.SetWhitelistRequired(owner, true))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.ErrorIs(t, err, ErrNotWhitelisted)

	require.NoError(t, f.eng.SetWhitelisted(owner, buyer, true))
	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	require.NoError(t, err)

	require.NoError(t, f.eng.SetWhitelisted(owner, buyer, false))
	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.ErrorIs(t, err, ErrNotWhitelisted)
}

func TestPhaseDeadline(t *testing.T) {
	phases := defaultPhases()
	phases[0].DeadlineUnix = 1_700_000_100
	f := newFixture(t, phases)
	ctx := context.Background()
	f.fundUSDT(buyer, usd(20))

	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	require.NoError(t, err)

	*f.now = 1_700_000_101
	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.ErrorIs(t, err, ErrPhaseDeadlinePassed)

	// advancing clears the gate; phase 1 has no deadline
	require.NoError(t, f.eng.AdvancePhase(owner, false))
	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.NoError(t, err)
}

func TestSlippageBound(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	f.fundETH(buyer, wei)

	// implied cost is exactly $30
	_, err := f.eng.BuyWithETH(ctx, buyer, wei, big.NewInt(29_999_999))
	require.ErrorIs(t, err, ErrSlippageExceeded)

	out, err := f.eng.BuyWithETH(ctx, buyer, wei, usd(30))
	require.NoError(t, err)
	assert.Equal(t, tok(18_750), out)
}

func TestAdvancePhaseCarryOver(t *testing.T) {
	f := newFixture(t, []PhaseParams{
		{PriceUSD6: big.NewInt(1600), CapTokens18: tok(1000)},
		{PriceUSD6: big.NewInt(2000), CapTokens18: tok(500)},
	})
	ctx := context.Background()

	f.fundUSDT(buyer, big.NewInt(640_000)) // $0.64 buys 400 tokens
	_, err := f.eng.BuyWithUSDT(ctx, buyer, big.NewInt(640_000))
	require.NoError(t, err)

	require.NoError(t, f.eng.AdvancePhase(owner, true))
	assert.Equal(t, 1, f.eng.CurrentPhase())

	ph, _ := f.eng.PhaseInfo(1)
	assert.Equal(t, tok(1100), ph.CapTokens18, "500 own + 600 carried")

	// no further phase to advance into
	err = f.eng.AdvancePhase(owner, false)
	assert.ErrorIs(t, err, ErrNoNextPhase)
}

func TestAdminRequiresOwner(t *testing.T) {
	f := newFixture(t, defaultPhases())

	assert.ErrorIs(t, f.eng.Pause(buyer), ErrNotOwner)
	assert.ErrorIs(t, f.eng.AdvancePhase(buyer, false), ErrNotOwner)
	assert.ErrorIs(t, f.eng.SetPhasePrice(buyer, 0, big.NewInt(2000)), ErrNotOwner)
	assert.ErrorIs(t, f.eng.EndPresaleAndStartVesting(buyer, 1, 0, 1), ErrNotOwner)
	assert.Zero(t, f.eng.Version())
}

func TestSetPhaseCapBelowSold(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100)) // 62500 tokens
	require.NoError(t, err)

	err = f.eng.SetPhaseCap(owner, 0, tok(62_499))
	assert.ErrorIs(t, err, ErrCapBelowSold)
	assert.NoError(t, f.eng.SetPhaseCap(owner, 0, tok(62_500)))
}

func TestSetPhasePriceAppliesToLaterPurchases(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()
	f.fundUSDT(buyer, usd(20))

	require.NoError(t, f.eng.SetPhasePrice(owner, 0, big.NewInt(3200)))
	out, err := f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	require.NoError(t, err)
	assert.Equal(t, tok(3125), out)

	assert.ErrorIs(t, f.eng.SetPhasePrice(owner, 0, big.NewInt(0)), ErrCannotBeZero)
}

func TestWithdrawUnsoldBound(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100)) // 62500 owed to buyer
	require.NoError(t, err)

	unsold := new(big.Int).Sub(tok(500_000_000), tok(62_500))
	over := new(big.Int).Add(unsold, big.NewInt(1))

	err = f.eng.WithdrawUnsold(ctx, owner, addr(0x20), over)
	assert.ErrorIs(t, err, ErrExceedsUnsold)

	require.NoError(t, f.eng.WithdrawUnsold(ctx, owner, addr(0x20), unsold))
	bal, _ := f.tokens.BalanceOf(ctx, addr(0x20))
	assert.Equal(t, unsold, bal)

	// custody now holds exactly what buyers are owed
	custBal, _ := f.tokens.BalanceOf(ctx, custody)
	assert.Equal(t, tok(62_500), custBal)
}

func TestEndPresaleIsOneShot(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()
	f.fundUSDT(buyer, usd(10))

	err := f.eng.EndPresaleAndStartVesting(owner, *f.now, 100, 50)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	require.NoError(t, f.eng.EndPresaleAndStartVesting(owner, *f.now, 0, 360))
	assert.True(t, f.eng.PresaleEnded())

	err = f.eng.EndPresaleAndStartVesting(owner, *f.now, 0, 360)
	assert.ErrorIs(t, err, ErrAlreadyEnded)

	_, err = f.eng.BuyWithUSDT(ctx, buyer, usd(10))
	assert.ErrorIs(t, err, ErrPresaleAlreadyEnded)

	assert.ErrorIs(t, f.eng.AdvancePhase(owner, false), ErrPresaleAlreadyEnded)
	assert.ErrorIs(t, f.eng.SetPhasePrice(owner, 0, big.NewInt(1)), ErrPresaleAlreadyEnded)
	assert.ErrorIs(t, f.eng.SetPhaseCap(owner, 0, tok(1)), ErrPresaleAlreadyEnded)
	assert.ErrorIs(t, f.eng.SetPhaseDeadline(owner, 0, 1), ErrPresaleAlreadyEnded)
}

func TestConservation(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))
	f.fundUSDT(otherBuyer, usd(40))
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	f.fundETH(buyer, wei)

	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100))
	require.NoError(t, err)
	_, err = f.eng.BuyWithETH(ctx, buyer, wei, nil)
	require.NoError(t, err)
	_, err = f.eng.BuyWithUSDT(ctx, otherBuyer, usd(40))
	require.NoError(t, err)

	snap := f.eng.Snapshot()
	sumAccounts := big.NewInt(0)
	for _, a := range snap.Accounts {
		v, ok := new(big.Int).SetString(a.Purchased18, 10)
		require.True(t, ok)
		sumAccounts.Add(sumAccounts, v)
	}
	sumSold := big.NewInt(0)
	for _, p := range snap.Phases {
		v, ok := new(big.Int).SetString(p.SoldTokens18, 10)
		require.True(t, ok)
		sumSold.Add(sumSold, v)
	}
	total, _ := new(big.Int).SetString(snap.TotalPurchased18, 10)
	assert.Zero(t, sumAccounts.Cmp(total))
	assert.Zero(t, sumSold.Cmp(total))
}

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, defaultPhases())
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100))
	require.NoError(t, err)
	require.NoError(t, f.eng.SetWhitelisted(owner, otherBuyer, true))
	require.NoError(t, f.eng.AdvancePhase(owner, true))
	require.NoError(t, f.eng.EndPresaleAndStartVesting(owner, *f.now, 60, 360))

	snap := f.eng.Snapshot()

	restored, err := Restore(Params{
		Owner:          owner,
		Custody:        custody,
		EthReceiver:    ethReceiver,
		StableReceiver: usdtReceiver,
		Oracle:         oracle.NewFixed(big.NewInt(3_000_000_000)),
		Native:         f.native,
		Stable:         f.stable,
		Tokens:         f.tokens,
	}, snap)
	require.NoError(t, err)

	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, 1, restored.CurrentPhase())
	assert.True(t, restored.PresaleEnded())
}

// failingForward rejects direct transfers into one address, so the pull leg
// of a stable purchase can succeed while the forward leg fails.
type failingForward struct {
	*ledger.Memory
	blocked common.Address
}

func (f *failingForward) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if to == f.blocked {
		return errors.New("receiver rejected funds")
	}
	return f.Memory.Transfer(ctx, from, to, amount)
}

func TestBuyWithUSDTRefundsWhenForwardFails(t *testing.T) {
	f := newFixture(t, defaultPhases())
	f.eng.stable = &failingForward{Memory: f.stable, blocked: usdtReceiver}
	ctx := context.Background()

	f.fundUSDT(buyer, usd(100))
	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(100))
	require.ErrorIs(t, err, ErrTransferFailed)

	// pulled funds went back to the buyer, nothing stranded at custody
	buyerBal, _ := f.stable.BalanceOf(ctx, buyer)
	assert.Equal(t, usd(100), buyerBal)
	custodyBal, _ := f.stable.BalanceOf(ctx, custody)
	assert.Zero(t, custodyBal.Sign())

	assert.Zero(t, f.eng.VestingInfo(buyer).Total.Sign())
	assert.Equal(t, uint64(0), f.eng.Version())
}

type captureSink struct {
	recs []AuditRecord
}

func (c *captureSink) Commit(_ Snapshot, rec AuditRecord) error {
	c.recs = append(c.recs, rec)
	return nil
}

func TestAuditJournalsFailuresToo(t *testing.T) {
	sink := &captureSink{}
	f := newFixture(t, defaultPhases())
	f.eng.sink = sink
	ctx := context.Background()

	_, err := f.eng.BuyWithUSDT(ctx, buyer, usd(10)) // no funds, transfer fails
	require.ErrorIs(t, err, ErrTransferFailed)
	require.NoError(t, f.eng.Pause(owner))

	require.Len(t, sink.recs, 2)
	assert.Equal(t, "buyWithUSDT", sink.recs[0].Op)
	assert.NotEmpty(t, sink.recs[0].Reason)
	assert.Equal(t, uint64(1), sink.recs[0].Seq)
	assert.Equal(t, "pause", sink.recs[1].Op)
	assert.Empty(t, sink.recs[1].Reason)
	assert.Equal(t, uint64(2), sink.recs[1].Seq)

	// only the successful mutation moved the version
	assert.Equal(t, uint64(1), f.eng.Version())
}
