package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// testOperatorKey is a well-known development key; never funded on a real network.
const testOperatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient is an in-memory Client. Feed behaviour is driven through
// backfill/live/fail; submitter behaviour through nonce, sendErrs and receipts.
type fakeClient struct {
	mu sync.Mutex

	head     uint64
	backfill []types.Log
	live     chan types.Log
	fail     chan error
	from     []uint64
	closed   bool

	pendingNonce uint64
	nonceCalls   int
	sendErrs     []error
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	receiptErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		live:     make(chan types.Log),
		fail:     make(chan error, 1),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *fakeClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.FromBlock != nil {
		c.from = append(c.from, q.FromBlock.Uint64())
	}
	return append([]types.Log(nil), c.backfill...), nil
}

func (c *fakeClient) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case <-quit:
				return nil
			case err := <-c.fail:
				return err
			case lg := <-c.live:
				select {
				case ch <- lg:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonceCalls++
	return c.pendingNonce, nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.sent = append(c.sent, tx)
	c.pendingNonce = tx.Nonce() + 1
	return nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	if r, ok := c.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeClient) setReceipt(h common.Hash, r *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[h] = r
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) fromBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.from...)
}

var errBoom = errors.New("boom")

// claimLog builds a SalaryClaimed log as a node would return it.
func claimLog(t *testing.T, employee common.Address, amount, ts int64, tx string, block uint64) types.Log {
	t.Helper()
	data, err := PayrollABI.Events["SalaryClaimed"].Inputs.NonIndexed().Pack(big.NewInt(amount), big.NewInt(ts))
	if err != nil {
		t.Fatalf("pack log data: %v", err)
	}
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{SalaryClaimedTopic, common.BytesToHash(employee.Bytes())},
		Data:        data,
		TxHash:      common.HexToHash(tx),
		BlockNumber: block,
	}
}
