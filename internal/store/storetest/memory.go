// Package storetest provides an in-memory store.Store for tests of packages
// that sit above persistence.
package storetest

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// ErrInjected is the cause wrapped by injected write failures.
var ErrInjected = errors.New("injected write failure")

// Memory is a goroutine-safe in-memory store. Transactions are serialised
// with each other and roll back only their own writes, so a concurrent
// write outside the transaction survives a rollback unless it touched the
// same claim. Event ids are not reused after a rollback.
type Memory struct {
	txMu sync.Mutex

	mu     sync.Mutex
	claims map[string]*model.Claim
	events []*model.Event
	proofs map[string]time.Time
	seq    int64

	failWrites int
	now        func() time.Time
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		claims: make(map[string]*model.Claim),
		proofs: make(map[string]time.Time),
		now:    time.Now,
	}
}

// FailNextWrites makes the next n write calls return a *store.WriteError.
func (m *Memory) FailNextWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// Events returns every recorded event in insertion order.
func (m *Memory) Events() []*model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Topics returns the topics of the events recorded for claimID.
func (m *Memory) Topics(claimID string) []string {
	var out []string
	for _, e := range m.Events() {
		if e.ClaimID == claimID {
			out = append(out, e.Topic)
		}
	}
	return out
}

// must be called with mu held
func (m *Memory) injected(op string) error {
	if m.failWrites > 0 {
		m.failWrites--
		return &store.WriteError{Op: op, Err: ErrInjected}
	}
	return nil
}

func (m *Memory) InsertClaim(_ context.Context, c *model.Claim) (bool, error) {
	return m.insertClaim(c, nil)
}

func (m *Memory) insertClaim(c *model.Claim, u *undoLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("insert claim"); err != nil {
		return false, err
	}
	if _, ok := m.claims[c.ID]; ok {
		return false, nil
	}
	u.touch(m, c.ID)
	cp := cloneClaim(c)
	now := m.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.claims[c.ID] = cp
	return true, nil
}

func (m *Memory) GetClaim(_ context.Context, id string) (*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneClaim(c), nil
}

func (m *Memory) ListClaims(_ context.Context) ([]*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*model.Claim) bool { return true }), nil
}

func (m *Memory) Transition(_ context.Context, t model.Transition) (*model.Claim, error) {
	return m.transition(t, nil)
}

func (m *Memory) transition(t model.Transition, u *undoLog) (*model.Claim, error) {
	if !model.CanTransition(t.From, t.To) {
		return nil, &store.ConflictError{ClaimID: t.ClaimID, Expected: t.From, Actual: t.To}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("transition claim"); err != nil {
		return nil, err
	}
	c, ok := m.claims[t.ClaimID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Status != t.From {
		return nil, &store.ConflictError{ClaimID: t.ClaimID, Expected: t.From, Actual: c.Status}
	}
	u.touch(m, t.ClaimID)
	c.Status = t.To
	if t.PayoutReference != "" {
		c.PayoutReference = t.PayoutReference
	}
	if t.PayoutMode != "" {
		c.PayoutMode = t.PayoutMode
	}
	if t.ReconcileTxID != "" {
		c.ReconcileTxID = t.ReconcileTxID
	}
	c.LastError = t.LastError
	c.UpdatedAt = m.now()
	return cloneClaim(c), nil
}

func (m *Memory) SetReconcileSubmission(_ context.Context, id, txHash string) error {
	return m.setReconcileSubmission(id, txHash, nil)
}

func (m *Memory) setReconcileSubmission(id, txHash string, u *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("set reconcile submission"); err != nil {
		return err
	}
	c, ok := m.claims[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != model.StatusPaid {
		return &store.ConflictError{ClaimID: id, Expected: model.StatusPaid, Actual: c.Status}
	}
	u.touch(m, id)
	c.ReconcileSubmittedTx = txHash
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SetLastError(_ context.Context, id, message string) error {
	return m.setLastError(id, message, nil)
}

func (m *Memory) setLastError(id, message string, u *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("set last error"); err != nil {
		return err
	}
	c, ok := m.claims[id]
	if !ok {
		return store.ErrNotFound
	}
	u.touch(m, id)
	c.LastError = message
	c.UpdatedAt = m.now()
	return nil
}

func (m *Memory) LatestClaimBlock(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest uint64
	for _, c := range m.claims {
		if c.BlockNumber > latest {
			latest = c.BlockNumber
		}
	}
	return latest, nil
}

func (m *Memory) ListEmployeeStatus(_ context.Context) ([]*model.EmployeeStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]*model.Claim)
	for _, c := range m.claims {
		prev, ok := latest[c.Employee]
		if !ok || c.CreatedAt.After(prev.CreatedAt) || (c.CreatedAt.Equal(prev.CreatedAt) && c.ID > prev.ID) {
			latest[c.Employee] = c
		}
	}
	out := make([]*model.EmployeeStatus, 0, len(latest))
	for emp, c := range latest {
		out = append(out, &model.EmployeeStatus{
			Employee:   emp,
			LastPayout: c.AmountUSD,
			Status:     c.Status,
			Mode:       c.PayoutMode,
			ClaimID:    c.ID,
			UpdatedAt:  c.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Employee < out[j].Employee })
	return out, nil
}

func (m *Memory) ListUnresolved(_ context.Context) ([]*model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(c *model.Claim) bool { return c.Status != model.StatusReconciled }), nil
}

func (m *Memory) RecordEvent(_ context.Context, e *model.Event) error {
	return m.recordEvent(e, nil)
}

func (m *Memory) recordEvent(e *model.Event, u *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("record event"); err != nil {
		return err
	}
	m.seq++
	cp := *e
	cp.ID = m.seq
	cp.CreatedAt = m.now()
	m.events = append(m.events, &cp)
	if u != nil {
		u.events[cp.ID] = true
	}
	e.ID, e.CreatedAt = cp.ID, cp.CreatedAt
	return nil
}

func (m *Memory) GetEvents(_ context.Context, claimID string) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, e := range m.events {
		if e.ClaimID == claimID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) InsertProof(_ context.Context, name string) (bool, error) {
	return m.insertProof(name, nil)
}

func (m *Memory) insertProof(name string, u *undoLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("insert proof"); err != nil {
		return false, err
	}
	if _, ok := m.proofs[name]; ok {
		return false, nil
	}
	m.proofs[name] = m.now()
	if u != nil {
		u.proofs = append(u.proofs, name)
	}
	return true, nil
}

func (m *Memory) ListProofs(_ context.Context) ([]*model.Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Proof, 0, len(m.proofs))
	for name, at := range m.proofs {
		out = append(out, &model.Proof{Name: name, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RunInTransaction runs fn against the store and undoes the writes fn made
// if it fails.
func (m *Memory) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{Memory: m, undo: &undoLog{claims: make(map[string]*model.Claim), events: make(map[int64]bool)}}
	if err := fn(tx); err != nil {
		m.mu.Lock()
		tx.undo.apply(m)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// must be called with mu held
func (m *Memory) sorted(keep func(*model.Claim) bool) []*model.Claim {
	var out []*model.Claim
	for _, c := range m.claims {
		if keep(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func cloneClaim(c *model.Claim) *model.Claim {
	cp := *c
	if c.Amount != nil {
		cp.Amount = new(big.Int).Set(c.Amount)
	}
	return &cp
}

// undoLog records what a transaction changed so a rollback can reverse
// exactly that.
type undoLog struct {
	claims map[string]*model.Claim // state before the first write; nil if absent
	events map[int64]bool
	proofs []string
}

// must be called with m.mu held
func (u *undoLog) touch(m *Memory, id string) {
	if u == nil {
		return
	}
	if _, seen := u.claims[id]; seen {
		return
	}
	if c, ok := m.claims[id]; ok {
		u.claims[id] = cloneClaim(c)
	} else {
		u.claims[id] = nil
	}
}

// must be called with m.mu held
func (u *undoLog) apply(m *Memory) {
	for id, prior := range u.claims {
		if prior == nil {
			delete(m.claims, id)
		} else {
			m.claims[id] = prior
		}
	}
	if len(u.events) > 0 {
		kept := m.events[:0:0]
		for _, e := range m.events {
			if !u.events[e.ID] {
				kept = append(kept, e)
			}
		}
		m.events = kept
	}
	for _, name := range u.proofs {
		delete(m.proofs, name)
	}
}

// memTx is the store handed to a transaction body. Reads go straight to the
// Memory; writes are journaled.
type memTx struct {
	*Memory
	undo *undoLog
}

func (t *memTx) InsertClaim(_ context.Context, c *model.Claim) (bool, error) {
	return t.insertClaim(c, t.undo)
}

func (t *memTx) Transition(_ context.Context, tr model.Transition) (*model.Claim, error) {
	return t.transition(tr, t.undo)
}

func (t *memTx) SetReconcileSubmission(_ context.Context, id, txHash string) error {
	return t.setReconcileSubmission(id, txHash, t.undo)
}

func (t *memTx) SetLastError(_ context.Context, id, message string) error {
	return t.setLastError(id, message, t.undo)
}

func (t *memTx) RecordEvent(_ context.Context, e *model.Event) error {
	return t.recordEvent(e, t.undo)
}

func (t *memTx) InsertProof(_ context.Context, name string) (bool, error) {
	return t.insertProof(name, t.undo)
}

// RunInTransaction joins the enclosing transaction.
func (t *memTx) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

var (
	_ store.Store = (*Memory)(nil)
	_ store.Store = (*memTx)(nil)
)
