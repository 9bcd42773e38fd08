package rpcnetworkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	protocol "github.com/stellar/go/protocols/rpc"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/xdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
)

const (
	methodGetHealth       = "getHealth"
	methodGetLatestLedger = "getLatestLedger"
	methodGetLedgers      = "getLedgers"
	jsonRPCVersion        = "2.0"
)

// JSON-RPC 2.0 reserved error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

var rpcTracer = otel.Tracer("stellar_insights_rpc")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// statusCode maps a JSON-RPC error onto the HTTP status it stands for, so
// that request errors are fatal and server errors are retried.
func (e *rpcError) statusCode() int {
	switch e.Code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	case codeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NetworkClient reads node health and ledgers from a Stellar RPC endpoint and
// implements internal.LedgerSource.
type NetworkClient struct {
	url    string
	client *http.Client
	nextID atomic.Uint64
}

// NewNetworkClient creates a new NetworkClient for the given RPC URL. A nil
// httpClient uses internal.NewHTTPClient with no timeout.
func NewNetworkClient(url string, httpClient *http.Client) *NetworkClient {
	if httpClient == nil {
		httpClient = internal.NewHTTPClient(0, nil)
	}
	return &NetworkClient{url: url, client: httpClient}
}

// call posts one JSON-RPC request and decodes its result into result.
// Every returned error belongs to the internal error taxonomy.
func (r *NetworkClient) call(ctx context.Context, method string, params, result any) error {
	ctx, span := rpcTracer.Start(ctx, "rpc."+method)
	defer span.End()
	span.SetAttributes(attribute.String("rpc.method", method))

	err := r.roundTrip(ctx, method, params, result)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

func (r *NetworkClient) roundTrip(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      r.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return &internal.InvalidRequestError{Field: "params", Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return &internal.InvalidRequestError{Field: "rpc_url", Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return internal.ClassifyError(method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &internal.UpstreamStatusError{Op: method, StatusCode: resp.StatusCode}
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return internal.ClassifyError(method, errors.Wrap(err, "decoding json-rpc envelope"))
	}
	if envelope.Error != nil {
		return &internal.UpstreamStatusError{
			Op:         method,
			StatusCode: envelope.Error.statusCode(),
			Detail:     "json-rpc error " + strconv.Itoa(envelope.Error.Code) + ": " + envelope.Error.Message,
		}
	}
	if len(envelope.Result) == 0 || bytes.Equal(envelope.Result, []byte("null")) {
		return &internal.DeserializationError{Op: method, Err: errors.New("response has neither result nor error")}
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return &internal.DeserializationError{Op: method, Err: err}
	}
	return nil
}

// GetHealth returns the node status and its retained ledger range.
func (r *NetworkClient) GetHealth(ctx context.Context) (internal.HealthResponse, error) {
	var result protocol.GetHealthResponse
	if err := r.call(ctx, methodGetHealth, nil, &result); err != nil {
		return internal.HealthResponse{}, err
	}
	return internal.HealthResponse{
		Status:                result.Status,
		LatestLedger:          result.LatestLedger,
		OldestLedger:          result.OldestLedger,
		LedgerRetentionWindow: result.LedgerRetentionWindow,
	}, nil
}

// GetLatestLedger returns the latest ledger, fetching it through getLedgers
// so that the close time and counts are filled in.
func (r *NetworkClient) GetLatestLedger(ctx context.Context) (internal.LedgerInfo, error) {
	var latest protocol.GetLatestLedgerResponse
	if err := r.call(ctx, methodGetLatestLedger, nil, &latest); err != nil {
		return internal.LedgerInfo{}, err
	}

	page, err := r.getLedgers(ctx, protocol.GetLedgersRequest{
		StartLedger: latest.Sequence,
		Pagination:  &protocol.LedgerPaginationOptions{Limit: 1},
	}, &latest.Sequence, 1)
	if err != nil {
		return internal.LedgerInfo{}, err
	}
	if len(page.Ledgers) == 0 {
		return internal.LedgerInfo{}, &internal.DeserializationError{
			Op:  methodGetLedgers,
			Err: errors.Errorf("latest ledger %d missing from getLedgers", latest.Sequence),
		}
	}
	ledger := page.Ledgers[0]
	if ledger.Hash != latest.Hash {
		return internal.LedgerInfo{}, &internal.DeserializationError{
			Op:  methodGetLedgers,
			Err: errors.Errorf("hash mismatch for ledger %d: %s != %s", latest.Sequence, ledger.Hash, latest.Hash),
		}
	}
	return ledger, nil
}

// GetLedgers returns one forward page of ledgers. Without a start sequence or
// cursor the page ends at the node's latest ledger.
func (r *NetworkClient) GetLedgers(ctx context.Context, request internal.LedgersRequest) (internal.LedgerPage, error) {
	if err := internal.ValidateLedgersRequest(request); err != nil {
		return internal.LedgerPage{}, err
	}

	pagination := &protocol.LedgerPaginationOptions{Limit: uint(request.Limit)}
	rpcRequest := protocol.GetLedgersRequest{Pagination: pagination}
	switch {
	case request.Cursor != "":
		pagination.Cursor = request.Cursor
	case request.StartSequence != nil:
		rpcRequest.StartLedger = *request.StartSequence
	default:
		health, err := r.GetHealth(ctx)
		if err != nil {
			return internal.LedgerPage{}, err
		}
		rpcRequest.StartLedger = tailStart(health.OldestLedger, health.LatestLedger, request.Limit)
	}
	return r.getLedgers(ctx, rpcRequest, request.StartSequence, request.Limit)
}

// tailStart returns the first sequence of the last limit ledgers in [oldest, latest].
func tailStart(oldest, latest uint32, limit int) uint32 {
	if uint64(latest) < uint64(limit) {
		return max(oldest, 1)
	}
	return max(oldest, latest-uint32(limit)+1)
}

func (r *NetworkClient) getLedgers(ctx context.Context, request protocol.GetLedgersRequest, start *uint32, limit int) (internal.LedgerPage, error) {
	var result protocol.GetLedgersResponse
	if err := r.call(ctx, methodGetLedgers, request, &result); err != nil {
		return internal.LedgerPage{}, err
	}

	ledgers := result.Ledgers
	if len(ledgers) > limit {
		ledgers = ledgers[:limit]
	}
	page := internal.LedgerPage{
		Ledgers:      make([]internal.LedgerInfo, 0, len(ledgers)),
		LatestLedger: result.LatestLedger,
		OldestLedger: result.OldestLedger,
		Cursor:       result.Cursor,
	}
	for i, ledger := range ledgers {
		switch {
		case i == 0 && start != nil && ledger.Sequence != *start:
			return internal.LedgerPage{}, &internal.DeserializationError{
				Op:  methodGetLedgers,
				Err: errors.Errorf("page starts at ledger %d, requested %d", ledger.Sequence, *start),
			}
		case i > 0 && ledger.Sequence != ledgers[i-1].Sequence+1:
			return internal.LedgerPage{}, &internal.DeserializationError{
				Op:  methodGetLedgers,
				Err: errors.Errorf("ledger %d does not follow %d", ledger.Sequence, ledgers[i-1].Sequence),
			}
		}
		info, err := ledgerInfo(ledger)
		if err != nil {
			return internal.LedgerPage{}, &internal.DeserializationError{Op: methodGetLedgers, Err: err}
		}
		page.Ledgers = append(page.Ledgers, info)
	}
	if n := len(page.Ledgers); n > 0 && len(ledgers) < len(result.Ledgers) {
		// the page was truncated, so the upstream cursor would skip ledgers
		page.Cursor = strconv.FormatUint(uint64(page.Ledgers[n-1].Sequence), 10)
	}
	return page, nil
}

func ledgerInfo(ledger protocol.LedgerInfo) (internal.LedgerInfo, error) {
	info := internal.LedgerInfo{
		Sequence:  ledger.Sequence,
		Hash:      ledger.Hash,
		CloseTime: time.Unix(ledger.LedgerCloseTime, 0).UTC(),
	}
	if ledger.LedgerMetadata == "" {
		return info, nil
	}
	var meta xdr.LedgerCloseMeta
	if err := xdr.SafeUnmarshalBase64(ledger.LedgerMetadata, &meta); err != nil {
		return internal.LedgerInfo{}, errors.Wrapf(err, "decoding metadata of ledger %d", ledger.Sequence)
	}
	info.TransactionCount, info.OperationCount = countTransactions(meta)
	return info, nil
}

// countTransactions returns the number of transactions and operations applied in a ledger.
func countTransactions(meta xdr.LedgerCloseMeta) (int, int) {
	operations := 0
	for _, envelope := range meta.TransactionEnvelopes() {
		operations += len(envelope.Operations())
	}
	return meta.CountTransactions(), operations
}
