// Package oracle provides price-oracle adapters for pool resolution.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// latestRoundDataSelector is the 4-byte selector of the Chainlink aggregator
// latestRoundData() view.
var latestRoundDataSelector = ethcrypto.Keccak256([]byte("latestRoundData()"))[:4]

// Chainlink implements domain.PriceOracle by reading latestRoundData from
// Chainlink aggregator contracts. The feed reference is the aggregator's
// contract address; the observation value is the raw answer in the feed's
// native decimals.
type Chainlink struct {
	client *ethclient.Client
	logger *slog.Logger
}

// NewChainlink dials the RPC endpoint and returns the adapter.
func NewChainlink(ctx context.Context, rpcURL string, logger *slog.Logger) (*Chainlink, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("oracle: dialing %s: %w", rpcURL, err)
	}
	return &Chainlink{
		client: client,
		logger: logger.With("component", "chainlink"),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Chainlink) Close() { c.client.Close() }

// Observation calls latestRoundData on the aggregator at feed and decodes
// the answer and its update timestamp.
func (c *Chainlink) Observation(ctx context.Context, feed domain.FeedRef) (domain.Observation, error) {
	addr := common.Address(feed)
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: latestRoundDataSelector,
	}, nil)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("oracle: calling %s: %w", addr.Hex(), err)
	}

	obs, err := decodeRoundData(out)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("oracle: feed %s: %w", addr.Hex(), err)
	}

	c.logger.Debug("feed observed",
		"feed", addr.Hex(),
		"value", obs.Value.String(),
		"observed_at", obs.ObservedAt)
	return obs, nil
}

// decodeRoundData unpacks the latestRoundData return tuple:
// (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt,
// uint80 answeredInRound). Only answer and updatedAt are used.
func decodeRoundData(out []byte) (domain.Observation, error) {
	if len(out) < 5*32 {
		return domain.Observation{}, fmt.Errorf("short return data (%d bytes)", len(out))
	}

	answer := decodeInt256(out[32:64])
	updatedAt := new(big.Int).SetBytes(out[96:128])
	if !updatedAt.IsInt64() {
		return domain.Observation{}, fmt.Errorf("implausible updatedAt %s", updatedAt)
	}

	return domain.Observation{
		Value:      answer,
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

// decodeInt256 interprets a 32-byte word as a two's-complement signed integer.
func decodeInt256(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v
}
