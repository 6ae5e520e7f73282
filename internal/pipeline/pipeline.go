// Package pipeline drives each claim from detection through payout to
// on-ledger reconciliation. It is the only writer of claim status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/paybridge/internal/metrics"
	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/payout"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// ErrBusy is returned by the retry methods when the retry queue is full.
var ErrBusy = errors.New("pipeline busy, try again later")

// Payer dispatches the fiat transfer for a pending claim.
type Payer interface {
	Pay(ctx context.Context, c *model.Claim) (*payout.TransferResult, error)
}

// Reconciler writes and confirms the on-ledger record for a paid claim.
type Reconciler interface {
	Reconcile(ctx context.Context, c *model.Claim) (txHash string, err error)
}

// Broadcaster fans out state-transition messages. It must not block.
type Broadcaster interface {
	Broadcast(msg *model.Message)
}

// Config sizes the pipeline.
type Config struct {
	Workers   int
	QueueSize int
	USDRate   decimal.Decimal
	Retry     store.RetryPolicy
}

type step int

const (
	stepPayout step = iota
	stepReconcile
)

type retryJob struct {
	claimID string
	step    step
}

// Pipeline owns the bounded claim queue and the worker pool that drains it.
type Pipeline struct {
	store       store.Store
	payer       Payer
	reconciler  Reconciler
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger

	workers int
	rate    decimal.Decimal
	retry   store.RetryPolicy
	now     func() time.Time

	events  chan model.ClaimEvent
	retries chan retryJob
	flight  singleflight.Group
}

// New creates a pipeline. m and b may be nil.
func New(cfg Config, st store.Store, payer Payer, reconciler Reconciler, b Broadcaster, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.USDRate.IsZero() {
		cfg.USDRate = decimal.NewFromInt(1)
	}
	if b == nil {
		b = noopBroadcaster{}
	}
	return &Pipeline{
		store:       st,
		payer:       payer,
		reconciler:  reconciler,
		broadcaster: b,
		metrics:     m,
		logger:      logger,
		workers:     cfg.Workers,
		rate:        cfg.USDRate,
		retry:       cfg.Retry,
		now:         time.Now,
		events:      make(chan model.ClaimEvent, cfg.QueueSize),
		retries:     make(chan retryJob, cfg.Workers*4),
	}
}

// Events is the send side of the claim queue. Sends block while it is full.
func (p *Pipeline) Events() chan<- model.ClaimEvent {
	return p.events
}

// QueueDepth returns the number of claim events waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.events)
}

// Run starts the worker pool and blocks until ctx is cancelled, every worker
// has finished its current claim, and the claims still queued are recorded.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "workers", p.workers, "queue_size", cap(p.events))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("pipeline stopped")
	return err
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.drain(ctx)
			return
		}
		select {
		case <-ctx.Done():
			p.drain(ctx)
			return
		case ev := <-p.events:
			p.metrics.SetQueueDepth(len(p.events))
			p.guard(model.ClaimID(ev.TxHash), func() { _ = p.HandleEvent(ctx, ev) })
		case job := <-p.retries:
			p.guard(job.claimID, func() { p.redrive(ctx, job) })
		}
	}
}

// drain records the claims still queued at shutdown without paying them.
// The feed has already consumed their logs, so dropping them would lose
// them. They stay pending until an operator retries the payout.
func (p *Pipeline) drain(ctx context.Context) {
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-p.events:
			id := model.ClaimID(ev.TxHash)
			p.guard(id, func() {
				if _, inserted, err := p.record(wctx, ev); err == nil && inserted {
					p.logger.Warn("claim recorded during shutdown, payout deferred", "claim_id", id)
				}
			})
		default:
			p.metrics.SetQueueDepth(0)
			return
		}
	}
}

// guard isolates a panic to the claim that caused it.
func (p *Pipeline) guard(claimID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing claim", "claim_id", claimID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// HandleEvent records a detected claim and, on first sight only, drives it
// through payout and reconciliation. Re-delivered events are no-ops.
func (p *Pipeline) HandleEvent(ctx context.Context, ev model.ClaimEvent) error {
	id, inserted, err := p.record(ctx, ev)
	if err != nil || !inserted {
		return err
	}
	p.drive(ctx, id)
	return nil
}

// record stores a detected claim as pending and announces it. inserted is
// false for a re-delivered event.
func (p *Pipeline) record(ctx context.Context, ev model.ClaimEvent) (id string, inserted bool, err error) {
	id = model.ClaimID(ev.TxHash)
	logger := p.logger.With("claim_id", id, "employee", ev.Employee)

	usd, err := model.ToUSD(ev.Amount, p.rate)
	if err != nil {
		logger.Error("rejecting claim event", "err", err)
		return id, false, err
	}
	claim := &model.Claim{
		ID:          id,
		Employee:    ev.Employee,
		Amount:      ev.Amount,
		AmountUSD:   usd,
		Status:      model.StatusPending,
		BlockNumber: ev.BlockNumber,
		ClaimedAt:   ev.ClaimedAt(),
	}

	inserted, err = p.insert(ctx, claim)
	if err != nil {
		p.metrics.IncStoreWriteError()
		logger.Error("failed to record claim", "err", err)
		return id, false, err
	}
	if !inserted {
		logger.Debug("duplicate claim event ignored")
		return id, false, nil
	}

	p.metrics.IncDetected()
	logger.Info("claim detected", "amount_usd", usd.StringFixed(2))
	p.broadcast(claim, model.MessageClaimDetected, model.MessagePending, nil)
	return id, true, nil
}

// drive runs payout and, when this call performed a successful payout,
// reconciliation.
func (p *Pipeline) drive(ctx context.Context, id string) {
	paid, err := p.runPayout(ctx, id)
	if err != nil || !paid {
		return
	}
	_ = p.runReconcile(ctx, id)
}

func (p *Pipeline) redrive(ctx context.Context, job retryJob) {
	switch job.step {
	case stepPayout:
		p.drive(ctx, job.claimID)
	case stepReconcile:
		_ = p.runReconcile(ctx, job.claimID)
	}
}

// runPayout pays a pending claim at most once at a time. paid is true only
// for the caller whose execution moved the claim to paid.
func (p *Pipeline) runPayout(ctx context.Context, id string) (paid bool, err error) {
	executed := false
	_, err, _ = p.flight.Do("payout:"+id, func() (any, error) {
		executed = true
		var err error
		paid, err = p.payout(ctx, id)
		return nil, err
	})
	return executed && paid, err
}

func (p *Pipeline) runReconcile(ctx context.Context, id string) error {
	_, err, _ := p.flight.Do("reconcile:"+id, func() (any, error) {
		return nil, p.reconcile(ctx, id)
	})
	return err
}

func (p *Pipeline) payout(ctx context.Context, id string) (bool, error) {
	c, err := p.store.GetClaim(ctx, id)
	if err != nil {
		p.logger.Error("payout: load claim", "claim_id", id, "err", err)
		return false, err
	}
	if c.Status != model.StatusPending {
		p.logger.Debug("payout skipped, claim not pending", "claim_id", id, "status", c.Status)
		return false, nil
	}
	logger := p.logger.With("claim_id", id, "employee", c.Employee, "amount_usd", c.AmountUSD.StringFixed(2))

	start := time.Now()
	res, err := p.payer.Pay(ctx, c)
	p.metrics.ObserveStep("payout", time.Since(start).Seconds())

	var lookupErr *payout.RegistryLookupError
	switch {
	case errors.As(err, &lookupErr):
		p.metrics.IncPayoutFailure("registry")
		p.raiseStuck(ctx, c, "payout", err, "")
		p.broadcast(c, model.MessagePayout, model.MessageFail, func(m *model.Message) { m.Error = err.Error() })
		return false, err

	case err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// Shutdown interrupted the call; the outcome is unknown so the claim stays pending.
		logger.Warn("payout interrupted by shutdown, claim left pending", "err", err)
		return false, err

	case err != nil:
		p.metrics.IncPayoutFailure("rail")
		logger.Error("payout failed", "err", err)
		ev, evErr := newAudit(topicFailed, id, failedPayload(err))
		if evErr != nil {
			return false, evErr
		}
		failed, werr := p.transition(ctx, model.Transition{
			ClaimID: id, From: model.StatusPending, To: model.StatusFailed, LastError: truncate(err.Error()),
		}, ev)
		if werr != nil {
			p.reportWriteFailure(logger, "record payout failure", werr)
			return false, err
		}
		p.broadcast(failed, model.MessagePayout, model.MessageFail, func(m *model.Message) { m.Error = err.Error() })
		return false, err
	}

	logger.Info("payout succeeded", "payout_reference", res.Reference, "mode", res.Mode)
	ev, err := newAudit(topicPaid, id, paidPayload(res))
	if err != nil {
		return false, err
	}
	// Money has moved; record it even if shutdown has begun.
	paidClaim, err := p.transition(context.WithoutCancel(ctx), model.Transition{
		ClaimID: id, From: model.StatusPending, To: model.StatusPaid,
		PayoutReference: res.Reference, PayoutMode: res.Mode,
	}, ev)
	if err != nil {
		p.reportWriteFailure(logger, "record payout "+res.Reference, err)
		return false, err
	}
	p.broadcast(paidClaim, model.MessagePayout, model.MessageSuccess, func(m *model.Message) {
		m.PayoutReference = res.Reference
		m.Mode = res.Mode
	})
	return true, nil
}

func (p *Pipeline) reconcile(ctx context.Context, id string) error {
	c, err := p.store.GetClaim(ctx, id)
	if err != nil {
		p.logger.Error("reconcile: load claim", "claim_id", id, "err", err)
		return err
	}
	if c.Status != model.StatusPaid {
		p.logger.Debug("reconcile skipped, claim not paid", "claim_id", id, "status", c.Status)
		return nil
	}
	logger := p.logger.With("claim_id", id, "employee", c.Employee)

	start := time.Now()
	hash, err := p.reconciler.Reconcile(ctx, c)
	p.metrics.ObserveStep("reconcile", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Warn("reconcile interrupted by shutdown, claim left paid", "err", err)
			return err
		}
		p.raiseStuck(ctx, c, "reconcile", err, submittedTx(err))
		p.broadcast(c, model.MessageReconcile, model.MessageFail, func(m *model.Message) { m.Error = err.Error() })
		return err
	}

	logger.Info("claim reconciled", "tx", hash)
	ev, err := newAudit(topicReconciled, id, reconciledPayload(hash))
	if err != nil {
		return err
	}
	done, err := p.transition(context.WithoutCancel(ctx), model.Transition{
		ClaimID: id, From: model.StatusPaid, To: model.StatusReconciled, ReconcileTxID: hash,
	}, ev)
	if err != nil {
		p.reportWriteFailure(logger, "record reconcile "+hash, err)
		return err
	}
	p.broadcast(done, model.MessageReconcile, model.MessageSuccess, func(m *model.Message) { m.TxID = hash })
	return nil
}

// RetryPayout re-drives a pending claim, e.g. after the registry file was
// fixed or a claim was recorded during shutdown.
func (p *Pipeline) RetryPayout(ctx context.Context, id string) error {
	return p.enqueueRetry(ctx, id, model.StatusPending, retryJob{claimID: id, step: stepPayout})
}

// RetryReconcile re-drives a paid claim whose reconciliation is stuck.
func (p *Pipeline) RetryReconcile(ctx context.Context, id string) error {
	return p.enqueueRetry(ctx, id, model.StatusPaid, retryJob{claimID: id, step: stepReconcile})
}

func (p *Pipeline) enqueueRetry(ctx context.Context, id string, want model.Status, job retryJob) error {
	c, err := p.store.GetClaim(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != want {
		return &store.ConflictError{ClaimID: id, Expected: want, Actual: c.Status}
	}
	stepName := "payout"
	if job.step == stepReconcile {
		stepName = "reconcile"
	}
	ev, err := newAudit(topicRetry, id, retryPayload(stepName))
	if err != nil {
		return err
	}
	if err := p.store.RecordEvent(ctx, ev); err != nil {
		return err
	}
	select {
	case p.retries <- job:
		p.logger.Info("operator retry queued", "claim_id", id, "step", stepName)
		return nil
	default:
		return ErrBusy
	}
}

func (p *Pipeline) insert(ctx context.Context, claim *model.Claim) (bool, error) {
	ev, err := newAudit(topicDetected, claim.ID, detectedPayload(claim))
	if err != nil {
		return false, err
	}
	var inserted bool
	err = store.WithRetry(ctx, p.retry, func() error {
		return p.store.RunInTransaction(ctx, func(tx store.Store) error {
			ok, err := tx.InsertClaim(ctx, claim)
			if err != nil {
				return err
			}
			inserted = ok
			if !ok {
				return nil
			}
			return tx.RecordEvent(ctx, ev)
		})
	})
	return inserted, err
}

// transition applies t and records ev in one transaction, retrying transient
// failures. A conflict showing the claim already in t.To means an earlier
// attempt committed, and is treated as success.
func (p *Pipeline) transition(ctx context.Context, t model.Transition, ev *model.Event) (*model.Claim, error) {
	var out *model.Claim
	err := store.WithRetry(ctx, p.retry, func() error {
		return p.store.RunInTransaction(ctx, func(tx store.Store) error {
			c, err := tx.Transition(ctx, t)
			if err != nil {
				return err
			}
			if err := tx.RecordEvent(ctx, ev); err != nil {
				return err
			}
			out = c
			return nil
		})
	})
	var ce *store.ConflictError
	if errors.As(err, &ce) && ce.Actual == t.To {
		return p.store.GetClaim(ctx, t.ClaimID)
	}
	if err != nil {
		return nil, err
	}
	p.metrics.IncTransition(string(t.To))
	return out, nil
}

// raiseStuck records that a claim needs operator action. The claim keeps
// its status.
func (p *Pipeline) raiseStuck(ctx context.Context, c *model.Claim, stepName string, cause error, txHash string) {
	p.metrics.IncStuck()
	p.logger.Error("claim needs operator action",
		"alert", true,
		"claim_id", c.ID,
		"employee", c.Employee,
		"status", c.Status,
		"step", stepName,
		"tx", txHash,
		"err", cause,
	)

	ev, err := newAudit(topicStuck, c.ID, stuckPayload(c.Status, stepName, cause, txHash))
	if err != nil {
		return
	}
	writeCtx := context.WithoutCancel(ctx)
	err = store.WithRetry(writeCtx, p.retry, func() error {
		return p.store.RunInTransaction(writeCtx, func(tx store.Store) error {
			if err := tx.SetLastError(writeCtx, c.ID, truncate(cause.Error())); err != nil {
				return err
			}
			return tx.RecordEvent(writeCtx, ev)
		})
	})
	if err != nil {
		p.reportWriteFailure(p.logger.With("claim_id", c.ID), "record stuck claim", err)
	}
}

func (p *Pipeline) reportWriteFailure(logger *slog.Logger, what string, err error) {
	p.metrics.IncStoreWriteError()
	logger.Error(fmt.Sprintf("store write failed: %s", what), "alert", true, "err", err)
}

func (p *Pipeline) broadcast(c *model.Claim, typ model.MessageType, status model.MessageStatus, fill func(*model.Message)) {
	msg := model.NewMessage(c, typ, status, p.now())
	if fill != nil {
		fill(msg)
	}
	p.broadcaster.Broadcast(msg)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(*model.Message) {}

const maxErrorLen = 500

// truncate caps s at maxErrorLen bytes without splitting a rune, and drops
// invalid UTF-8 that the database would reject.
func truncate(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
