package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Native is a Ledger over the chain's native coin. The operator account is
// the only one the ledger can sign for; other senders are served through a
// DepositBook of value transfers observed at the operator address, which
// Transfer spends before the operator forwards the funds. TransferFrom has
// no native-coin analogue and always fails.
type Native struct {
	client   *ethclient.Client
	chainID  *big.Int
	operator common.Address
	key      *ecdsa.PrivateKey

	baseMul int64
	tipWei  *big.Int

	deposits  *DepositBook
	lastBlock uint64
}

func NewNative(client *ethclient.Client, chainID *big.Int, keyHex string) (*Native, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	return &Native{
		client:   client,
		chainID:  chainID,
		operator: crypto.PubkeyToAddress(pk.PublicKey),
		key:      pk,
		baseMul:  2,
		tipWei:   big.NewInt(2_000_000_000), // 2 gwei
	}, nil
}

func (l *Native) Operator() common.Address { return l.operator }

func (l *Native) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := l.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceAt: %w", err)
	}
	return bal, nil
}

// TrackDeposits attaches a fresh deposit book so non-operator senders can
// spend deposits the watcher has observed. Call it before WatchDeposits.
func (l *Native) TrackDeposits() *DepositBook {
	l.deposits = NewDepositBook()
	return l.deposits
}

func (l *Native) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if from == l.operator {
		return l.sendValue(ctx, to, amount)
	}
	if l.deposits == nil {
		return fmt.Errorf("native transfer: sender %s is not the operator %s and deposit tracking is off", from.Hex(), l.operator.Hex())
	}
	if err := l.deposits.Spend(from, amount); err != nil {
		return fmt.Errorf("native transfer: %w", err)
	}
	if err := l.sendValue(ctx, to, amount); err != nil {
		// the deposit never left the operator account
		l.deposits.Credit(from, amount)
		return err
	}
	return nil
}

func (l *Native) sendValue(ctx context.Context, to common.Address, amount *big.Int) error {
	nonce, err := l.client.PendingNonceAt(ctx, l.operator)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	head, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(l.baseMul))
	feeCap.Add(feeCap, l.tipWei)

	tx := &types.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: l.tipWei,
		GasFeeCap: feeCap,
		Gas:       21000,
		To:        &to,
		Value:     new(big.Int).Set(amount),
	}
	signed, err := types.SignNewTx(l.key, types.LatestSignerForChainID(l.chainID), tx)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return waitMinedOn(ctx, l.client, signed.Hash())
}

func (l *Native) TransferFrom(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
	return fmt.Errorf("native transferFrom: unsupported")
}

// WatchDeposits polls for new blocks and credits the sender of every plain
// value transfer into the operator account. Only deposits mined after the
// watcher starts are credited. Run it in its own goroutine; it returns when
// ctx is done.
func (l *Native) WatchDeposits(ctx context.Context, poll time.Duration) {
	if l.deposits == nil {
		return
	}
	signer := types.LatestSignerForChainID(l.chainID)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := l.client.BlockNumber(ctx)
		if err != nil {
			continue
		}
		if l.lastBlock == 0 {
			l.lastBlock = head
			continue
		}
		for n := l.lastBlock + 1; n <= head; n++ {
			block, err := l.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				break
			}
			l.creditBlock(signer, block)
			l.lastBlock = n
		}
	}
}

func (l *Native) creditBlock(signer types.Signer, block *types.Block) {
	for _, tx := range block.Transactions() {
		if tx.To() == nil || *tx.To() != l.operator || tx.Value().Sign() <= 0 {
			continue
		}
		sender, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		l.deposits.Credit(sender, tx.Value())
	}
}
