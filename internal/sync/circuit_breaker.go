// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/metrics"
	"github.com/merchdash/merchdash/internal/models/upstream"
)

// CircuitBreakerClient wraps Client with the circuit breaker pattern to
// prevent cascading failures when the upstream API is unavailable or slow.
//
// DETERMINISM NOTE: The circuit breaker uses real time (via sony/gobreaker)
// for its interval and timeout calculations. Tests should mock the underlying
// client rather than the breaker.
//
// Recipient-level delivery refusals from SendMessage return a nil error and
// therefore never trip the breaker; only transport-level failures count.
type CircuitBreakerClient struct {
	client UpstreamClient
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates an upstream client with circuit breaker protection.
// Circuit breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(cfg *config.UpstreamConfig) *CircuitBreakerClient {
	return wrapWithBreaker(NewClient(cfg), 2*time.Minute)
}

func wrapWithBreaker(client UpstreamClient, recoveryTimeout time.Duration) *CircuitBreakerClient {
	cbName := "upstream-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     recoveryTimeout,

		// Opens when failure rate >= 60% with minimum 10 requests
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps an upstream API call with circuit breaker protection.
// Returns the result or an error if the circuit is open or the request fails.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()

	return result, nil
}

// castResult safely type-casts the circuit breaker result with error checking.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Ping checks upstream connectivity through the circuit breaker.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// FetchCatalogPage retrieves one catalog page through the circuit breaker.
func (cbc *CircuitBreakerClient) FetchCatalogPage(ctx context.Context, page int) (*upstream.CatalogPage, error) {
	return castResult[upstream.CatalogPage](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchCatalogPage(ctx, page)
	}))
}

// FetchMembershipPage retrieves one membership page through the circuit breaker.
func (cbc *CircuitBreakerClient) FetchMembershipPage(ctx context.Context, page int) (*upstream.MembershipPage, error) {
	return castResult[upstream.MembershipPage](cbc.execute(func() (interface{}, error) {
		return cbc.client.FetchMembershipPage(ctx, page)
	}))
}

// SendMessage delivers a message through the circuit breaker. A delivery
// refusal with a well-formed response is a success from the breaker's point
// of view; only transport failures count against the circuit.
func (cbc *CircuitBreakerClient) SendMessage(ctx context.Context, userID, body string) (*upstream.SendResult, error) {
	return castResult[upstream.SendResult](cbc.execute(func() (interface{}, error) {
		return cbc.client.SendMessage(ctx, userID, body)
	}))
}
