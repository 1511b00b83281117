// Package token provides value-transfer adapters that move the stake token
// between bettor accounts and the escrow treasury.
package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// Pre-computed 4-byte function selectors (keccak256 of the canonical
// signatures).
var (
	transferSelector     = ethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	transferFromSelector = ethcrypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
)

const (
	// transferGasLimit is the fallback gas limit when estimation fails;
	// ERC-20 transfers rarely exceed ~65k.
	transferGasLimit = 100_000
	// receiptPollInterval is how often to poll for a mined receipt.
	receiptPollInterval = 2 * time.Second
)

// ERC20Config carries the parameters needed to build an ERC20 transferrer.
type ERC20Config struct {
	RPCURL string
	// TokenAddress is the ERC-20 contract holding bettor stakes.
	TokenAddress common.Address
	// TreasuryKeyHex is the hex-encoded private key of the escrow treasury,
	// with or without 0x prefix.
	TreasuryKeyHex string
	ChainID        int64
}

// ERC20 implements domain.ValueTransferrer against an on-chain ERC-20 token.
// Pulls are transferFrom calls spending the bettor's prior approval into the
// treasury; pushes are plain transfers out of the treasury.
type ERC20 struct {
	client   *ethclient.Client
	token    common.Address
	key      *ecdsa.PrivateKey
	treasury common.Address
	chainID  *big.Int
	signer   types.Signer
	logger   *slog.Logger

	// nonceMu serializes nonce assignment across concurrent sends.
	nonceMu   sync.Mutex
	nextNonce uint64
	nonceInit bool
}

// NewERC20 dials the RPC endpoint and builds the transferrer. The treasury
// address is derived from the private key.
func NewERC20(ctx context.Context, cfg ERC20Config, logger *slog.Logger) (*ERC20, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.TreasuryKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("token: invalid treasury key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("token: dialing %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	return &ERC20{
		client:   client,
		token:    cfg.TokenAddress,
		key:      key,
		treasury: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		logger:   logger.With("component", "erc20"),
	}, nil
}

// Treasury returns the escrow account derived from the treasury key.
func (t *ERC20) Treasury() common.Address { return t.treasury }

// Close releases the underlying RPC connection.
func (t *ERC20) Close() { t.client.Close() }

// PullFrom moves amount of the token from payer into the treasury via
// transferFrom. The payer must have approved the treasury beforehand.
func (t *ERC20) PullFrom(ctx context.Context, payer domain.Account, amount *big.Int) error {
	data := transferFromCalldata(payer, t.treasury, amount)
	if err := t.send(ctx, data); err != nil {
		return fmt.Errorf("token: pull %s from %s: %w", amount, payer.Hex(), err)
	}
	t.logger.Info("stake pulled", "payer", payer.Hex(), "amount", amount.String())
	return nil
}

// PushTo moves amount of the token from the treasury to recipient.
func (t *ERC20) PushTo(ctx context.Context, recipient domain.Account, amount *big.Int) error {
	data := transferCalldata(recipient, amount)
	if err := t.send(ctx, data); err != nil {
		return fmt.Errorf("token: push %s to %s: %w", amount, recipient.Hex(), err)
	}
	t.logger.Info("payout pushed", "recipient", recipient.Hex(), "amount", amount.String())
	return nil
}

// send signs and submits a transaction carrying data to the token contract,
// then blocks until it is mined. A reverted receipt is an error.
func (t *ERC20) send(ctx context.Context, data []byte) error {
	nonce, err := t.reserveNonce(ctx)
	if err != nil {
		return err
	}

	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		t.releaseNonce()
		return fmt.Errorf("suggesting gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &t.token,
		Value:    new(big.Int),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, t.signer, t.key)
	if err != nil {
		t.releaseNonce()
		return fmt.Errorf("signing transaction: %w", err)
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		t.releaseNonce()
		return fmt.Errorf("sending transaction: %w", err)
	}

	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}

// reserveNonce hands out the next treasury nonce, seeding from the node on
// first use.
func (t *ERC20) reserveNonce(ctx context.Context) (uint64, error) {
	t.nonceMu.Lock()
	defer t.nonceMu.Unlock()

	if !t.nonceInit {
		n, err := t.client.PendingNonceAt(ctx, t.treasury)
		if err != nil {
			return 0, fmt.Errorf("fetching treasury nonce: %w", err)
		}
		t.nextNonce = n
		t.nonceInit = true
	}

	n := t.nextNonce
	t.nextNonce++
	return n, nil
}

// releaseNonce forces a refetch after a failed submission so a gap does not
// strand later transactions.
func (t *ERC20) releaseNonce() {
	t.nonceMu.Lock()
	t.nonceInit = false
	t.nonceMu.Unlock()
}

func (t *ERC20) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// transferCalldata encodes transfer(to, amount).
func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// transferFromCalldata encodes transferFrom(from, to, amount).
func transferFromCalldata(from, to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+96)
	data = append(data, transferFromSelector...)
	data = append(data, common.LeftPadBytes(from.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
