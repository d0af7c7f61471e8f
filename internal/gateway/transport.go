package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// Response carries the raw payload and block reference returned by the
// ledger network for a submitted transaction.
type Response struct {
	Payload  []byte
	BlockRef string
}

// Transport is the low-level session to a ledger peer. Submit sends a
// state-changing transaction; Query performs a read-only evaluation.
type Transport interface {
	Connect(ctx context.Context, identity string) error
	Close() error
	Submit(ctx context.Context, contract, function string, args []string) (Response, error)
	Query(ctx context.Context, contract, function string, args []string) ([]byte, error)
}

type wireRequest struct {
	Identity string   `json:"identity"`
	Contract string   `json:"contract"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

type wireResponse struct {
	Payload  json.RawMessage `json:"payload"`
	BlockRef string          `json:"block_ref"`
	Error    string          `json:"error"`
}

// HTTPTransport speaks JSON over HTTP to a ledger peer endpoint.
type HTTPTransport struct {
	baseURL  string
	identity string
	client   *fasthttp.Client
}

// NewHTTPTransport builds a transport for the given peer base URL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client: &fasthttp.Client{
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// Connect verifies the peer is reachable and records the signing identity
// used on subsequent calls.
func (t *HTTPTransport) Connect(ctx context.Context, identity string) error {
	t.identity = identity
	_, err := t.post(ctx, "/session", wireRequest{Identity: identity})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

// Close releases idle connections held by the transport.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// Submit posts a state-changing transaction to the peer.
func (t *HTTPTransport) Submit(ctx context.Context, contract, function string, args []string) (Response, error) {
	body, err := t.post(ctx, "/invoke", wireRequest{
		Identity: t.identity,
		Contract: contract,
		Function: function,
		Args:     args,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Payload: body.Payload, BlockRef: body.BlockRef}, nil
}

// Query posts a read-only evaluation to the peer.
func (t *HTTPTransport) Query(ctx context.Context, contract, function string, args []string) ([]byte, error) {
	body, err := t.post(ctx, "/query", wireRequest{
		Identity: t.identity,
		Contract: contract,
		Function: function,
		Args:     args,
	})
	if err != nil {
		return nil, err
	}
	return body.Payload, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, payload wireRequest) (wireResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return wireResponse{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		return wireResponse{}, err
	}

	var decoded wireResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return wireResponse{}, fmt.Errorf("decode peer response: %w", err)
	}
	if resp.StatusCode() >= fasthttp.StatusBadRequest || decoded.Error != "" {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("peer returned status %d", resp.StatusCode())
		}
		return wireResponse{}, fmt.Errorf("%s", msg)
	}
	return decoded, nil
}
