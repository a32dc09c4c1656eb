package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"triarb/internal/config"
	"triarb/internal/ratelimit"
	"triarb/pkg/types"
)

// RESTSender posts a dispatched opportunity to the exchange's order endpoint
// as a single authenticated batch request. Grounded on
// internal/exchange/client.go's NewClient/PostOrders shape: resty client
// with base URL, timeout, bounded retry on 5xx, and a dry-run branch. A
// token bucket (adapted from internal/exchange/ratelimit.go) keeps
// submission under the exchange's order rate limit.
type RESTSender struct {
	http    *resty.Client
	limiter *ratelimit.Bucket
	logger  *slog.Logger
}

// NewRESTSender builds a sender that posts live orders.
func NewRESTSender(cfg config.ExchangeConfig, dispatchCfg config.DispatchConfig, logger *slog.Logger) *RESTSender {
	client := resty.New().
		SetBaseURL(cfg.OrdersURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", cfg.APIKey)

	return &RESTSender{
		http:    client,
		limiter: ratelimit.NewBucket(dispatchCfg.OrderRateBurst, dispatchCfg.OrderRatePerSec),
		logger:  logger.With("component", "dispatch-sender"),
	}
}

// Send posts the opportunity's legs as a single order batch, after waiting
// for a rate-limit token.
func (s *RESTSender) Send(ctx context.Context, opp types.SenderOpportunity) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(opp).
		Post("/orders/batch")
	if err != nil {
		return fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// DryRunSender logs what would have been sent without making any network
// call — used when config.send_orders is false (spec.md §6).
type DryRunSender struct {
	logger *slog.Logger
}

// NewDryRunSender builds a sender that only logs.
func NewDryRunSender(logger *slog.Logger) *DryRunSender {
	return &DryRunSender{logger: logger.With("component", "dispatch-sender")}
}

// Send logs the would-be order batch and always succeeds.
func (s *DryRunSender) Send(_ context.Context, opp types.SenderOpportunity) error {
	s.logger.Info("DRY-RUN: would dispatch opportunity", "chain_id", opp.ChainID, "legs", len(opp.Legs))
	return nil
}
