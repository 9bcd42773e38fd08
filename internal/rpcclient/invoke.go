package rpcclient

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/stellar/go/support/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/breaker"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/metrics"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/retry"
)

var clientTracer = otel.Tracer("stellar_insights_rpcclient")

// invoker runs one upstream call and reports how many attempts it made.
type invoker interface {
	invoke(ctx context.Context, op string, call func(context.Context) error) (int, error)
}

// directInvoker calls through without any guard.
type directInvoker struct{}

func (directInvoker) invoke(ctx context.Context, op string, call func(context.Context) error) (int, error) {
	return 1, call(ctx)
}

// guardedInvoker applies breaker, limiter and retry, in that order.
type guardedInvoker struct {
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	retrier *retry.Executor
	metrics *metrics.Client
}

func (g *guardedInvoker) invoke(ctx context.Context, op string, call func(context.Context) error) (int, error) {
	done, err := g.breaker.Allow()
	if err != nil {
		var open *breaker.OpenError
		if stderrors.As(err, &open) {
			return 0, &internal.CircuitOpenError{Op: op, OpenedAt: open.OpenedAt, RetryAfter: open.RetryAfter}
		}
		return 0, err
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		done(breaker.Ignored)
		var limited *ratelimit.LimitedError
		if stderrors.As(err, &limited) && limited.Err == nil {
			return 0, &internal.RateLimitedError{Op: op, RetryAfter: limited.RetryAfter}
		}
		return 0, callerGaveUp(op, 0, err)
	}

	attempts, err := g.retrier.Do(ctx, call)
	if attempts > 1 {
		g.metrics.Retries.WithLabelValues(op).Add(float64(attempts - 1))
	}
	done(breakerOutcome(err))
	return attempts, translate(op, attempts, err)
}

// breakerOutcome decides what the final result of a call tells the breaker.
// Retryable failures count against the upstream; answers that were merely
// unwelcome (4xx, bad payloads) prove it is reachable; calls the caller gave
// up on prove nothing.
func breakerOutcome(err error) breaker.Outcome {
	var (
		aborted *retry.AbortedError
		invalid *internal.InvalidRequestError
	)
	switch {
	case err == nil:
		return breaker.Success
	case stderrors.As(err, &aborted), stderrors.As(err, &invalid):
		return breaker.Ignored
	case internal.IsRetryable(err):
		return breaker.Failure
	default:
		return breaker.Success
	}
}

// translate maps the final error of a call onto the taxonomy returned to callers.
func translate(op string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	var aborted *retry.AbortedError
	if stderrors.As(err, &aborted) {
		return callerGaveUp(op, aborted.Attempts, aborted)
	}
	err = internal.ClassifyError(op, err)
	var netErr *internal.NetworkError
	if stderrors.As(err, &netErr) {
		exhausted := *netErr
		exhausted.Op = op
		exhausted.Attempts = attempts
		return &exhausted
	}
	return err
}

// callerGaveUp reports a call cut short by the caller's context. Only an
// expired deadline is a timeout.
func callerGaveUp(op string, attempts int, err error) error {
	return &internal.NetworkError{
		Op:       op,
		Err:      err,
		Timeout:  stderrors.Is(err, context.DeadlineExceeded),
		Attempts: attempts,
	}
}

func outcomeLabel(err error) string {
	var (
		netErr  *internal.NetworkError
		status  *internal.UpstreamStatusError
		decode  *internal.DeserializationError
		open    *internal.CircuitOpenError
		limited *internal.RateLimitedError
		invalid *internal.InvalidRequestError
	)
	switch {
	case err == nil:
		return "ok"
	case stderrors.As(err, &invalid):
		return "invalid_request"
	case stderrors.As(err, &open):
		return "circuit_open"
	case stderrors.As(err, &limited):
		return "rate_limited"
	case stderrors.As(err, &status):
		return "upstream_status"
	case stderrors.As(err, &decode):
		return "deserialization"
	case stderrors.As(err, &netErr) && netErr.IsTimeout():
		return "timeout"
	case stderrors.Is(err, context.Canceled):
		return "canceled"
	case stderrors.As(err, &netErr):
		return "network_error"
	default:
		return "error"
	}
}

// execute runs call through the client's invoker with a span and metrics.
func execute[T any](ctx context.Context, c *Client, op string, call func(context.Context) (T, error)) (T, error) {
	ctx, span := clientTracer.Start(ctx, "rpcclient."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("operation", op),
		attribute.String("mode", string(c.mode)),
	)

	start := time.Now()
	var result T
	attempts, err := c.invoker.invoke(ctx, op, func(ctx context.Context) error {
		r, err := call(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil && c.mode == ModeMock {
		err = internal.ClassifyError(op, err)
	}

	outcome := outcomeLabel(err)
	c.metrics.Requests.WithLabelValues(op, outcome).Inc()
	c.metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("attempts", attempts), attribute.String("outcome", outcome))

	if err != nil {
		c.logger.WithFields(log.F{"operation": op, "attempts": attempts, "outcome": outcome}).
			WithError(err).Debug("client operation failed")
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return result, nil
}
