package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ERC-20 selectors, hand-packed; no ABI JSON needed for a fixed surface.
var (
	selBalanceOf    = common.FromHex("0x70a08231")
	selTransfer     = common.FromHex("0xa9059cbb")
	selTransferFrom = common.FromHex("0x23b872dd")
	selDecimals     = common.FromHex("0x313ce567")
)

// ERC20 is a Ledger backed by a deployed ERC-20 token. Reads go through
// eth_call; transfers are signed EIP-1559 transactions from the operator
// key, so Transfer/TransferFrom only accept the operator as sender/spender.
type ERC20 struct {
	client   *ethclient.Client
	token    common.Address
	chainID  *big.Int
	operator common.Address
	key      *ecdsa.PrivateKey

	// fee strategy
	baseMul int64
	tipWei  *big.Int
}

// NewERC20 binds a token ledger to an operator key. keyHex may carry a 0x
// prefix.
func NewERC20(client *ethclient.Client, token common.Address, chainID *big.Int, keyHex string) (*ERC20, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	return &ERC20{
		client:   client,
		token:    token,
		chainID:  chainID,
		operator: crypto.PubkeyToAddress(pk.PublicKey),
		key:      pk,
		baseMul:  2,
		tipWei:   big.NewInt(2_000_000_000), // 2 gwei
	}, nil
}

func (l *ERC20) Operator() common.Address { return l.operator }

func (l *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(account.Bytes(), 32)...)
	ret, err := callWithRetry(ctx, l.client, ethereum.CallMsg{To: &l.token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(ret), nil
}

func (l *ERC20) Decimals(ctx context.Context) (uint8, error) {
	ret, err := callWithRetry(ctx, l.client, ethereum.CallMsg{To: &l.token, Data: selDecimals})
	if err != nil || len(ret) == 0 {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return ret[len(ret)-1], nil
}

func (l *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if from != l.operator {
		return fmt.Errorf("erc20 transfer: sender %s is not the operator %s", from.Hex(), l.operator.Hex())
	}
	data := EncodeTransfer(to, amount)
	return l.send(ctx, data)
}

func (l *ERC20) TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error {
	if spender != l.operator {
		return fmt.Errorf("erc20 transferFrom: spender %s is not the operator %s", spender.Hex(), l.operator.Hex())
	}
	data := EncodeTransferFrom(owner, to, amount)
	return l.send(ctx, data)
}

// EncodeTransfer packs transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	out := append([]byte{}, selTransfer...)
	out = append(out, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(out, common.LeftPadBytes(amount.Bytes(), 32)...)
}

// EncodeTransferFrom packs transferFrom(owner, to, amount) calldata.
func EncodeTransferFrom(owner, to common.Address, amount *big.Int) []byte {
	out := append([]byte{}, selTransferFrom...)
	out = append(out, common.LeftPadBytes(owner.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(out, common.LeftPadBytes(amount.Bytes(), 32)...)
}

// send signs and submits one token call, then waits for the receipt. A
// reverted receipt is an error; the engine maps it to TransferFailed.
func (l *ERC20) send(ctx context.Context, data []byte) error {
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

	gas, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: l.operator,
		To:   &l.token,
		Data: data,
	})
	if err != nil {
		// fallback constant, same as a plain token transfer upper bound
		gas = 90000
	}
	gas = gas + gas/5

	tx := &types.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: l.tipWei,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &l.token,
		Value:     big.NewInt(0),
		Data:      data,
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

func waitMinedOn(ctx context.Context, ec *ethclient.Client, hash common.Hash) error {
	tick := time.NewTicker(2 * time.Second)
	defer tick.Stop()
	for {
		rcpt, err := ec.TransactionReceipt(ctx, hash)
		if err == nil {
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("tx %s reverted", hash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// callWithRetry performs eth_call with small exponential backoff on
// rate-limit style failures.
func callWithRetry(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := ec.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}
