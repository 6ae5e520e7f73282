package pipeline

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/paybridge/internal/store"
)

// BlockCursor reports how far the recorded claims reach into the ledger.
type BlockCursor interface {
	LatestClaimBlock(ctx context.Context) (uint64, error)
}

// ResumeBlock picks the block the ledger feed starts from. An explicit
// configured block wins. Otherwise the feed re-reads from the block of the
// newest recorded claim, so logs delivered but never recorded before a
// restart are seen again; re-delivered claims are ignored on insert. With no
// claims recorded it returns 0, meaning the chain head.
func ResumeBlock(ctx context.Context, cur BlockCursor, configured uint64) (uint64, error) {
	if configured > 0 {
		return configured, nil
	}
	var block uint64
	err := store.WithRetry(ctx, store.RetryPolicy{}, func() error {
		var err error
		block, err = cur.LatestClaimBlock(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading resume block: %w", err)
	}
	return block, nil
}
