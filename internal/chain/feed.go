package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alfredjeanlab/paybridge/internal/model"
)

// Feed streams SalaryClaimed events from the payroll contract. Delivery is
// at-least-once: after a reconnect the feed backfills from the last block it
// delivered, so consumers must tolerate duplicates.
type Feed struct {
	dial     DialFunc
	contract common.Address
	logger   *slog.Logger

	// next is the first block the following backfill reads from.
	next uint64

	// Reconnect policy; zero values use defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewFeed creates a feed. startBlock 0 means "from the current head".
func NewFeed(dial DialFunc, contract common.Address, startBlock uint64, logger *slog.Logger) *Feed {
	return &Feed{
		dial:           dial,
		contract:       contract,
		logger:         logger,
		next:           startBlock,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Run delivers events to out until ctx is cancelled. Send on out blocks when
// the consumer is full.
func (f *Feed) Run(ctx context.Context, out chan<- model.ClaimEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.InitialBackoff
	b.MaxInterval = f.MaxBackoff
	b.MaxElapsedTime = 0

	for {
		err := f.runOnce(ctx, b, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		f.logger.Warn("ledger subscription lost, reconnecting", "err", err, "backoff", wait, "from_block", f.next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (f *Feed) runOnce(ctx context.Context, b backoff.BackOff, out chan<- model.ClaimEvent) error {
	client, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	if f.next == 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w", err)
		}
		f.next = head
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{f.contract},
		Topics:    [][]common.Hash{{SalaryClaimedTopic}},
	}

	// Subscribe before backfilling so no block falls between the two.
	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	backfill := query
	backfill.FromBlock = new(big.Int).SetUint64(f.next)
	past, err := client.FilterLogs(ctx, backfill)
	if err != nil {
		return fmt.Errorf("backfill from %d: %w", f.next, err)
	}
	b.Reset()
	f.logger.Info("ledger feed attached", "contract", f.contract.Hex(), "from_block", f.next, "backfilled", len(past))

	for _, lg := range past {
		if err := f.deliver(ctx, lg, out); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case lg := <-logs:
			if err := f.deliver(ctx, lg, out); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) deliver(ctx context.Context, lg types.Log, out chan<- model.ClaimEvent) error {
	ev, err := DecodeClaim(lg)
	if errors.Is(err, ErrRemovedLog) {
		f.logger.Warn("ignoring removed log", "tx", lg.TxHash.Hex(), "block", lg.BlockNumber)
		return nil
	}
	if err != nil {
		f.logger.Warn("skipping undecodable log", "tx", lg.TxHash.Hex(), "err", err)
		return nil
	}

	select {
	case out <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Re-read the same block on reconnect; later logs in it may not have been seen.
	if lg.BlockNumber > f.next {
		f.next = lg.BlockNumber
	}
	return nil
}
