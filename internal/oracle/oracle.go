// Package oracle supplies USD-per-native exchange rates at 6 decimal places.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Chainlink aggregator selectors.
var (
	selLatestRoundData = common.FromHex("0xfeaf968c")
	selDecimals        = common.FromHex("0x313ce567")
)

// Fixed returns a constant rate. Used for tests and offline deployments.
type Fixed struct {
	Rate6 *big.Int
}

func NewFixed(rate6 *big.Int) *Fixed { return &Fixed{Rate6: rate6} }

func (f *Fixed) UsdPerNative6(context.Context) (*big.Int, error) {
	if f.Rate6 == nil || f.Rate6.Sign() <= 0 {
		return nil, fmt.Errorf("fixed oracle: no rate configured")
	}
	return new(big.Int).Set(f.Rate6), nil
}

// Feed reads a Chainlink-style aggregator over eth_call and rescales the
// answer to 6 decimals. The aggregator's own decimals are fetched once and
// cached.
type Feed struct {
	client *ethclient.Client
	feed   common.Address

	mu       sync.Mutex
	decimals *uint8
}

func NewFeed(client *ethclient.Client, feed common.Address) *Feed {
	return &Feed{client: client, feed: feed}
}

func (f *Feed) UsdPerNative6(ctx context.Context) (*big.Int, error) {
	dec, err := f.feedDecimals(ctx)
	if err != nil {
		return nil, err
	}
	ret, err := f.call(ctx, selLatestRoundData)
	if err != nil {
		return nil, fmt.Errorf("latestRoundData: %w", err)
	}
	// (roundId, answer, startedAt, updatedAt, answeredInRound); answer is
	// the second 32-byte word.
	if len(ret) < 64 {
		return nil, fmt.Errorf("latestRoundData: short return (%d bytes)", len(ret))
	}
	answer := new(big.Int).SetBytes(ret[32:64])
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("latestRoundData: non-positive answer")
	}
	return Rescale(answer, dec, 6), nil
}

func (f *Feed) feedDecimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	ret, err := f.call(ctx, selDecimals)
	if err != nil || len(ret) == 0 {
		return 0, fmt.Errorf("feed decimals: %w", err)
	}
	d := ret[len(ret)-1]
	f.decimals = &d
	return d, nil
}

func (f *Feed) call(ctx context.Context, data []byte) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &f.feed, Data: data}, nil)
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

// Rescale converts a fixed-point value between decimal scales, flooring on
// downscale.
func Rescale(v *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case from > to:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil)
		out.Quo(out, div)
	case to > from:
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil)
		out.Mul(out, mul)
	}
	return out
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}
