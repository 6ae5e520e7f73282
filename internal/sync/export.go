package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/paybridge/internal/model"
	"github.com/alfredjeanlab/paybridge/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ClaimCount int       `json:"claim_count"`
	EventCount int       `json:"event_count"`
	ProofCount int       `json:"proof_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// claimExport is a claim with its audit trail embedded.
type claimExport struct {
	*model.Claim
	Events []*model.Event `json:"events"`
}

// ExportJSONL writes every claim, with its audit events, and every proof
// from the store as JSONL to w. Claims are sorted by ID.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	claims, err := s.ListClaims(ctx)
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].ID < claims[j].ID
	})

	exports := make([]claimExport, 0, len(claims))
	eventCount := 0
	for _, c := range claims {
		evts, err := s.GetEvents(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("get events for %s: %w", c.ID, err)
		}
		if evts == nil {
			evts = []*model.Event{}
		}
		eventCount += len(evts)
		exports = append(exports, claimExport{Claim: c, Events: evts})
	}

	proofs, err := s.ListProofs(ctx)
	if err != nil {
		return fmt.Errorf("list proofs: %w", err)
	}
	sort.Slice(proofs, func(i, j int) bool {
		return proofs[i].Name < proofs[j].Name
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		ClaimCount: len(exports),
		EventCount: eventCount,
		ProofCount: len(proofs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, c := range exports {
		if err := enc.Encode(record{Type: "claim", Data: c}); err != nil {
			return fmt.Errorf("encode claim %s: %w", c.ID, err)
		}
	}

	for _, p := range proofs {
		if err := enc.Encode(record{Type: "proof", Data: p}); err != nil {
			return fmt.Errorf("encode proof %s: %w", p.Name, err)
		}
	}

	return nil
}
