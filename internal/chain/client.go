package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of *ethclient.Client the service needs.
type Client interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Compile-time check that ethclient satisfies Client.
var _ Client = (*ethclient.Client)(nil)

// DialFunc opens a fresh ledger connection.
type DialFunc func(ctx context.Context) (Client, error)

// Dialer returns a DialFunc for rpcURL. Use a ws:// or ipc endpoint so log
// subscriptions are available.
func Dialer(rpcURL string) DialFunc {
	return func(ctx context.Context) (Client, error) {
		c, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
