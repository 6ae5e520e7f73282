package pipeline

import (
	"context"
	"testing"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store/storetest"
)

func TestResumeBlock(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()

	if b, err := ResumeBlock(ctx, st, 0); err != nil || b != 0 {
		t.Fatalf("empty store = %d, %v; want chain head", b, err)
	}

	for id, block := range map[string]uint64{"0xa": 90, "0xb": 120} {
		if _, err := st.InsertClaim(ctx, &model.Claim{ID: id, Status: model.StatusPending, BlockNumber: block}); err != nil {
			t.Fatal(err)
		}
	}
	if b, err := ResumeBlock(ctx, st, 0); err != nil || b != 120 {
		t.Errorf("resume = %d, %v; want 120", b, err)
	}
	if b, _ := ResumeBlock(ctx, st, 5); b != 5 {
		t.Errorf("configured block ignored: %d", b)
	}
}
