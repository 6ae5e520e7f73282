package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotMined is returned by Receipt while a transaction is still pending.
var ErrNotMined = errors.New("transaction not yet mined")

// Submitter signs and sends transactions from the single operator account.
// It keeps a local nonce; the mutex is held only while a nonce is assigned
// and the transaction is signed and sent, never while waiting for receipts.
type Submitter struct {
	client   Client
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	signer   types.Signer
	logger   *slog.Logger

	// PollInterval is how often WaitMined asks for a receipt.
	PollInterval time.Duration

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

// NewSubmitter creates a Submitter for the operator key (hex, without 0x).
func NewSubmitter(ctx context.Context, client Client, hexKey string, contract common.Address, logger *slog.Logger) (*Submitter, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &Submitter{
		client:       client,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		contract:     contract,
		signer:       types.LatestSignerForChainID(chainID),
		logger:       logger,
		PollInterval: 2 * time.Second,
	}, nil
}

// From returns the operator address.
func (s *Submitter) From() common.Address {
	return s.from
}

// SubmitReconcile sends reconcile(employee, amount) and returns the tx hash
// without waiting for inclusion.
func (s *Submitter) SubmitReconcile(ctx context.Context, employee string, amount *big.Int) (string, error) {
	data, err := PackReconcile(employee, amount)
	if err != nil {
		return "", err
	}
	hash, err := s.send(ctx, data)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (s *Submitter) send(ctx context.Context, data []byte) (common.Hash, error) {
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &s.contract, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceKnown {
		n, err := s.client.PendingNonceAt(ctx, s.from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
		}
		s.nonce = n
		s.nonceKnown = true
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &s.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		// The node may or may not have accepted it; resync on next send.
		s.nonceKnown = false
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	s.nonce++
	s.logger.Debug("transaction sent", "tx", signed.Hash().Hex(), "nonce", signed.Nonce())
	return signed.Hash(), nil
}

// Receipt returns the receipt for txHash, or ErrNotMined if it is pending
// or unknown to the node.
func (s *Submitter) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	r, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrNotMined
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// WaitMined polls until txHash has a receipt or ctx is done. Transient RPC
// errors are logged and polling continues.
func (s *Submitter) WaitMined(ctx context.Context, txHash string) (*types.Receipt, error) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		r, err := s.Receipt(ctx, txHash)
		switch {
		case err == nil:
			return r, nil
		case errors.Is(err, ErrNotMined):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			s.logger.Warn("receipt poll failed", "tx", txHash, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
