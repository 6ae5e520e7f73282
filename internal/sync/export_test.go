package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store/storetest"
)

func seed(t *testing.T, ms *storetest.Memory, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := ms.InsertClaim(ctx, &model.Claim{
		ID:        id,
		Employee:  "0xe1",
		Amount:    big.NewInt(1),
		AmountUSD: decimal.RequireFromString("12.50"),
		Status:    model.StatusPending,
	}); err != nil {
		t.Fatal(err)
	}
	if err := ms.RecordEvent(ctx, &model.Event{Topic: "payroll.claim.detected", ClaimID: id, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), storetest.New(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.ClaimCount != 0 || h.ProofCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_WithClaimsAndProofs(t *testing.T) {
	ms := storetest.New()
	seed(t, ms, "0xzz")
	seed(t, ms, "0xaa")
	if _, err := ms.InsertProof(context.Background(), "batch-1.encrypted"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), ms, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 2 claims + 1 proof
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.ClaimCount != 2 || h.EventCount != 2 || h.ProofCount != 1 {
		t.Fatalf("header counts: %+v", h)
	}

	var ids []string
	for _, line := range lines[1:3] {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				ID        string         `json:"id"`
				AmountUSD string         `json:"amount_usd"`
				Events    []*model.Event `json:"events"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal claim: %v", err)
		}
		if rec.Type != "claim" {
			t.Fatalf("expected claim type, got %q", rec.Type)
		}
		if len(rec.Data.Events) != 1 {
			t.Fatalf("claim %s: expected 1 embedded event, got %d", rec.Data.ID, len(rec.Data.Events))
		}
		ids = append(ids, rec.Data.ID)
	}
	if ids[0] != "0xaa" || ids[1] != "0xzz" {
		t.Fatalf("claims not sorted: %v", ids)
	}

	var rec record
	if err := json.Unmarshal([]byte(lines[3]), &rec); err != nil {
		t.Fatalf("unmarshal line 3: %v", err)
	}
	if rec.Type != "proof" {
		t.Fatalf("expected proof type, got %q", rec.Type)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
