package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreybb/datapusher/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName             = "github.com/coreybb/datapusher/delivery"
	DefaultConcurrency     = 8
	DefaultDispatchTimeout = 30 * time.Second
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// AccountLookup resolves the account owning an app secret token. Unknown
// tokens are reported with an error wrapping sql.ErrNoRows.
type AccountLookup interface {
	GetAccountByToken(ctx context.Context, token string) (*models.Account, error)
}

// DestinationLookup lists the destinations an account fans out to.
type DestinationLookup interface {
	GetDestinationsByAccountID(ctx context.Context, accountID int64) ([]models.Destination, error)
}

// Summary reports how a fan-out went. Callers are not expected to act on
// individual failures.
type Summary struct {
	AccountID int64
	Attempted int
	Succeeded int
	Failed    int
}

// DeliveryService authenticates inbound data and relays it to every
// destination of the owning account.
type DeliveryService struct {
	accounts     AccountLookup
	destinations DestinationLookup
	forwarder    Forwarder
	metrics      *Metrics
	tracer       trace.Tracer
	concurrency  int
	timeout      time.Duration
}

type Option func(*DeliveryService)

func WithForwarder(f Forwarder) Option {
	return func(s *DeliveryService) { s.forwarder = f }
}

func WithMetrics(m *Metrics) Option {
	return func(s *DeliveryService) { s.metrics = m }
}

// WithConcurrency bounds how many destinations are contacted at once.
func WithConcurrency(n int) Option {
	return func(s *DeliveryService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *DeliveryService) { s.tracer = tp.Tracer(tracerName) }
}

// WithDispatchTimeout bounds a whole fan-out, independent of the inbound
// request's lifetime.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *DeliveryService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewDeliveryService(accounts AccountLookup, destinations DestinationLookup, opts ...Option) *DeliveryService {
	s := &DeliveryService{
		accounts:     accounts,
		destinations: destinations,
		tracer:       otel.Tracer(tracerName),
		concurrency:  DefaultConcurrency,
		timeout:      DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.forwarder == nil {
		s.forwarder = NewHTTPForwarder(DefaultForwardTimeout)
	}
	return s
}

// Authenticate returns the account owning token, or ErrUnauthenticated when
// the token is empty or unknown.
func (s *DeliveryService) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}
	account, err := s.accounts.GetAccountByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to look up account by token: %w", err)
	}
	return account, nil
}

// Dispatch authenticates token, parses body and forwards it to all of the
// account's destinations. Only authentication, parsing and destination
// lookup failures are returned; delivery failures are logged and counted.
func (s *DeliveryService) Dispatch(ctx context.Context, token string, body []byte) (Summary, error) {
	account, err := s.Authenticate(ctx, token)
	if err != nil {
		s.metrics.recordInbound(inboundResult(err))
		return Summary{}, err
	}

	payload, err := ParsePayload(body)
	if err != nil {
		s.metrics.recordInbound(inboundResult(err))
		return Summary{AccountID: account.ID}, err
	}

	destinations, err := s.destinations.GetDestinationsByAccountID(ctx, account.ID)
	if err != nil {
		s.metrics.recordInbound("error")
		return Summary{AccountID: account.ID}, fmt.Errorf("failed to load destinations for account %d: %w", account.ID, err)
	}

	// Deliveries outlive a disconnecting caller; only the dispatch timeout stops them.
	fanoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	summary := s.Forward(fanoutCtx, account.ID, destinations, payload)
	s.metrics.recordInbound("forwarded")
	return summary, nil
}

func inboundResult(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "error"
	}
}

// Forward delivers payload to every destination, at most s.concurrency at a
// time, and waits for all attempts to finish.
func (s *DeliveryService) Forward(ctx context.Context, accountID int64, destinations []models.Destination, payload *Payload) Summary {
	ctx, span := s.tracer.Start(ctx, "datapusher.dispatch", trace.WithAttributes(
		attribute.Int64("datapusher.account_id", accountID),
		attribute.Int("datapusher.destinations", len(destinations)),
	))
	defer span.End()

	results := make([]Result, len(destinations))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range destinations {
		g.Go(func() error {
			results[i] = s.forwardOne(ctx, accountID, destinations[i], payload)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{AccountID: accountID, Attempted: len(destinations)}
	for _, res := range results {
		if res.Failed() {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	span.SetAttributes(
		attribute.Int("datapusher.succeeded", summary.Succeeded),
		attribute.Int("datapusher.failed", summary.Failed),
	)

	slog.Info("Forwarded inbound data",
		"account_id", accountID,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return summary
}

func (s *DeliveryService) forwardOne(ctx context.Context, accountID int64, dest models.Destination, payload *Payload) Result {
	method := strings.ToUpper(dest.HTTPMethod)
	ctx, span := s.tracer.Start(ctx, "datapusher.forward", trace.WithAttributes(
		attribute.Int64("datapusher.destination_id", dest.ID),
		attribute.String("http.method", method),
	))
	defer span.End()

	if dest.IsGet() && !payload.IsObject() {
		slog.Warn("Payload is not a JSON object; sending GET without query parameters",
			"account_id", accountID,
			"destination_id", dest.ID,
		)
	}

	res := s.forwarder.Forward(ctx, dest, payload)
	s.metrics.recordDelivery(method, res)
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	switch {
	case res.Err != nil:
		span.SetStatus(codes.Error, res.Err.Error())
		slog.Warn("Delivery to destination failed",
			"account_id", accountID,
			"destination_id", dest.ID,
			"url", dest.URL,
			"error", res.Err,
		)
	case res.Failed():
		span.SetStatus(codes.Error, fmt.Sprintf("destination returned status %d", res.StatusCode))
		slog.Warn("Destination rejected delivery",
			"account_id", accountID,
			"destination_id", dest.ID,
			"url", dest.URL,
			"status", res.StatusCode,
			"response", res.Response,
		)
	}
	return res
}
