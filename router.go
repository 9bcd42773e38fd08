package main

import (
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"github.com/stellar/go/support/log"
	"github.com/stellar/go/support/render/httpjson"
	"github.com/stellar/go/support/render/problem"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/monitor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/rpcclient"
)

const defaultPageLimit = 10

var (
	gatewayTimeout = problem.P{
		Type:   "gateway_timeout",
		Title:  "Gateway Timeout",
		Status: http.StatusGatewayTimeout,
		Detail: "The upstream did not answer before the request deadline.",
	}
	requestCanceled = problem.P{
		Type:   "request_canceled",
		Title:  "Request Canceled",
		Status: 499,
		Detail: "The client closed the request before it completed.",
	}
)

func registerProblems() {
	problem.RegisterError(context.DeadlineExceeded, gatewayTimeout)
	problem.RegisterError(context.Canceled, requestCanceled)
}

// problemFor maps the client error taxonomy onto HTTP problems.
func problemFor(err error) (problem.P, bool) {
	var (
		invalid *internal.InvalidRequestError
		open    *internal.CircuitOpenError
		limited *internal.RateLimitedError
		status  *internal.UpstreamStatusError
		decode  *internal.DeserializationError
		netErr  *internal.NetworkError
	)
	switch {
	case stderrors.As(err, &invalid):
		return *problem.MakeInvalidFieldProblem(invalid.Field, stderrors.New(invalid.Reason)), true
	case stderrors.As(err, &open):
		return problem.P{
			Type:   "circuit_open",
			Title:  "Upstream Unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: "Recent upstream calls failed; requests are paused until the upstream recovers.",
			Extras: map[string]interface{}{"retry_after": open.RetryAfter.String()},
		}, true
	case stderrors.As(err, &limited):
		return problem.P{
			Type:   "rate_limit_exceeded",
			Title:  "Rate Limit Exceeded",
			Status: http.StatusTooManyRequests,
			Detail: "The upstream request budget is exhausted.",
			Extras: map[string]interface{}{"retry_after": limited.RetryAfter.String()},
		}, true
	case stderrors.As(err, &status):
		return problem.P{
			Type:   "upstream_error",
			Title:  "Bad Gateway",
			Status: http.StatusBadGateway,
			Detail: status.Error(),
			Extras: map[string]interface{}{"upstream_status": status.StatusCode},
		}, true
	case stderrors.As(err, &decode):
		return problem.P{
			Type:   "upstream_payload",
			Title:  "Bad Gateway",
			Status: http.StatusBadGateway,
			Detail: "The upstream answered with an unexpected payload.",
		}, true
	case stderrors.Is(err, context.Canceled):
		return requestCanceled, true
	case stderrors.As(err, &netErr) && netErr.IsTimeout():
		p := gatewayTimeout
		p.Extras = map[string]interface{}{"attempts": netErr.Attempts}
		return p, true
	case stderrors.As(err, &netErr):
		return problem.P{
			Type:   "upstream_unreachable",
			Title:  "Bad Gateway",
			Status: http.StatusBadGateway,
			Detail: "The upstream could not be reached.",
			Extras: map[string]interface{}{"attempts": netErr.Attempts},
		}, true
	}
	return problem.P{}, false
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	if wait, ok := internal.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	if p, ok := problemFor(err); ok {
		problem.Render(r.Context(), w, p)
		return
	}
	problem.Render(r.Context(), w, err)
}

type apiHandler struct {
	client  *rpcclient.Client
	monitor *monitor.Monitor
}

func initRouter(client *rpcclient.Client, gatherer prometheus.Gatherer, corridors *monitor.Monitor) *chi.Mux {
	h := &apiHandler{client: client, monitor: corridors}

	mux := chi.NewRouter()
	mux.Use(requestID)
	mux.Use(middleware.Recoverer)
	mux.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(mux)))
	mux.Use(requestLogger)

	mux.Get("/health", h.health)
	mux.Get("/status", h.status)
	mux.Post("/circuit_breaker/reset", h.resetBreaker)
	mux.Get("/ledgers", h.ledgers)
	mux.Get("/ledgers/latest", h.latestLedger)
	mux.Get("/payments", h.payments)
	mux.Get("/accounts/{account}/payments", h.accountPayments)
	mux.Get("/trades", h.trades)
	mux.Get("/order_book", h.orderBook)
	mux.Get("/corridors", h.corridors)
	mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.Render(r.Context(), w, problem.NotFound)
	})
	return mux
}

// requestID keeps the caller's X-Request-Id or assigns a random UUID, and
// echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.WithFields(log.F{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
			"req":      middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultPageLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, &internal.InvalidRequestError{Field: "limit", Reason: "not an integer"}
	}
	return limit, nil
}

func queryAsset(r *http.Request, field string) (internal.Asset, error) {
	asset, err := internal.ParseAsset(r.URL.Query().Get(field))
	if err != nil {
		return internal.Asset{}, &internal.InvalidRequestError{Field: field, Reason: err.Error()}
	}
	return asset, nil
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.client.CheckHealth(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, health, httpjson.JSON)
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	httpjson.Render(w, h.client.Status(), httpjson.JSON)
}

func (h *apiHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if !h.client.ResetCircuitBreaker() {
		problem.Render(r.Context(), w, problem.P{
			Type:   "no_circuit_breaker",
			Title:  "Not Available",
			Status: http.StatusConflict,
			Detail: "The client runs in mock mode and has no circuit breaker.",
		})
		return
	}
	httpjson.Render(w, h.client.Status(), httpjson.JSON)
}

func (h *apiHandler) latestLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.client.FetchLatestLedger(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, ledger, httpjson.JSON)
}

func (h *apiHandler) ledgers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	request := internal.LedgersRequest{Limit: limit, Cursor: r.URL.Query().Get("cursor")}
	if s := r.URL.Query().Get("start"); s != "" {
		start, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			renderError(w, r, &internal.InvalidRequestError{Field: "start", Reason: "not a ledger sequence"})
			return
		}
		seq := uint32(start)
		request.StartSequence = &seq
	}

	page, err := h.client.FetchLedgers(r.Context(), request)
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, page, httpjson.JSON)
}

func (h *apiHandler) payments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	payments, err := h.client.FetchPayments(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, map[string]interface{}{"records": payments}, httpjson.JSON)
}

func (h *apiHandler) accountPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	payments, err := h.client.FetchAccountPayments(r.Context(), chi.URLParam(r, "account"), limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, map[string]interface{}{"records": payments}, httpjson.JSON)
}

func (h *apiHandler) trades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	trades, err := h.client.FetchTrades(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, map[string]interface{}{"records": trades}, httpjson.JSON)
}

func (h *apiHandler) orderBook(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	selling, err := queryAsset(r, "selling")
	if err != nil {
		renderError(w, r, err)
		return
	}
	buying, err := queryAsset(r, "buying")
	if err != nil {
		renderError(w, r, err)
		return
	}
	book, err := h.client.FetchOrderBook(r.Context(), selling, buying, limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	httpjson.Render(w, book, httpjson.JSON)
}

func (h *apiHandler) corridors(w http.ResponseWriter, r *http.Request) {
	snapshots := []monitor.Snapshot{}
	if h.monitor != nil {
		snapshots = h.monitor.Snapshots()
	}
	httpjson.Render(w, map[string]interface{}{"corridors": snapshots}, httpjson.JSON)
}
