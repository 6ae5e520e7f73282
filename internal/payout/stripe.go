package payout

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"golang.org/x/time/rate"
)

// StripeRail sends transfers to connected accounts through Stripe. Each
// instance owns its client, so no package-level Stripe state is touched.
type StripeRail struct {
	api     *client.API
	limiter *rate.Limiter
}

// NewStripeRail creates a rail for the given secret key. backends may be nil
// to use Stripe's default endpoints. rps <= 0 disables rate limiting.
func NewStripeRail(key string, backends *stripe.Backends, rps float64) *StripeRail {
	api := &client.API{}
	api.Init(key, backends)

	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &StripeRail{api: api, limiter: rate.NewLimiter(limit, burst)}
}

func (s *StripeRail) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &RailError{Code: "rate_limited", Err: err}
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Cents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	t, err := s.api.Transfers.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) {
			return nil, &RailError{Code: string(se.Code), Err: err}
		}
		return nil, &RailError{Err: err}
	}

	mode := "test"
	if t.Livemode {
		mode = "live"
	}
	return &TransferResult{Reference: t.ID, Mode: mode}, nil
}
