package postgres

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// newIntegrationStore boots a Postgres container and opens a migrated store.
// Set PAYBRIDGE_INTEGRATION=1 to run these tests; they need a container runtime.
func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if os.Getenv("PAYBRIDGE_INTEGRATION") == "" {
		t.Skip("PAYBRIDGE_INTEGRATION not set")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("paybridge"),
		tcpostgres.WithUsername("paybridge"),
		tcpostgres.WithPassword("paybridge"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v := s.SchemaVersion(); v != 1 {
		t.Fatalf("SchemaVersion = %d, want 1", v)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClaim(t *testing.T, s store.Store, id, employee string, units int64) {
	t.Helper()
	amount := new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	usd, err := model.ToUSD(amount, decimal.NewFromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	inserted, err := s.InsertClaim(context.Background(), &model.Claim{
		ID: id, Employee: employee, Amount: amount, AmountUSD: usd,
		BlockNumber: 1, ClaimedAt: time.Now().UTC(),
	})
	if err != nil || !inserted {
		t.Fatalf("seed %s: inserted=%v err=%v", id, inserted, err)
	}
}

func TestIntegration_ClaimLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	seedClaim(t, s, "0xabc", "0xe1", 100)

	again, err := s.InsertClaim(ctx, &model.Claim{ID: "0xabc", Employee: "0xe1", Amount: big.NewInt(1)})
	if err != nil || again {
		t.Fatalf("duplicate insert: inserted=%v err=%v", again, err)
	}

	err = s.RunInTransaction(ctx, func(tx store.Store) error {
		if _, err := tx.Transition(ctx, model.Transition{
			ClaimID: "0xabc", From: model.StatusPending, To: model.StatusPaid,
			PayoutReference: "tr_1", PayoutMode: "test",
		}); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, &model.Event{
			Topic: "payroll.claim.paid", ClaimID: "0xabc",
			Payload: json.RawMessage(`{"payoutReference":"tr_1"}`),
		})
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}

	if err := s.SetReconcileSubmission(ctx, "0xabc", "0xdef"); err != nil {
		t.Fatalf("SetReconcileSubmission: %v", err)
	}
	c, err := s.Transition(ctx, model.Transition{
		ClaimID: "0xabc", From: model.StatusPaid, To: model.StatusReconciled, ReconcileTxID: "0xdef",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if c.PayoutReference != "tr_1" || c.ReconcileTxID != "0xdef" || c.ReconcileSubmittedTx != "0xdef" {
		t.Errorf("claim = %+v", c)
	}
	if c.AmountUSD.StringFixed(2) != "100.00" {
		t.Errorf("amount_usd = %s", c.AmountUSD)
	}

	if _, err := s.Transition(ctx, model.Transition{
		ClaimID: "0xabc", From: model.StatusPaid, To: model.StatusReconciled,
	}); !store.IsConflict(err) {
		t.Fatalf("second reconcile should conflict, got %v", err)
	}

	unresolved, err := s.ListUnresolved(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 0 {
		t.Errorf("unresolved = %d, want 0", len(unresolved))
	}

	events, err := s.GetEvents(ctx, "0xabc")
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
}

func TestIntegration_ConcurrentTransitionSingleWinner(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	seedClaim(t, s, "0x1", "0xe1", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, model.Transition{
				ClaimID: "0x1", From: model.StatusPending, To: model.StatusPaid, PayoutReference: "tr_x",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case store.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != 7 {
		t.Errorf("wins=%d conflicts=%d, want 1/7", wins, conflicts)
	}
}

func TestIntegration_EmployeeStatusLatestWins(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	seedClaim(t, s, "0xa", "0xe1", 10)
	time.Sleep(10 * time.Millisecond)
	seedClaim(t, s, "0xb", "0xe1", 20)
	seedClaim(t, s, "0xc", "0xe2", 30)

	list, err := s.ListEmployeeStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Employee != "0xe1" || list[0].ClaimID != "0xb" || list[0].LastPayout.StringFixed(2) != "20.00" {
		t.Errorf("latest for 0xe1 = %+v", list[0])
	}
}
