package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenmart/tokenmart/internal/audit"
)

// Options tune the gateway's per-call-class timeout budgets and identity.
type Options struct {
	Identity        string
	EvaluateTimeout time.Duration
	InvokeTimeout   time.Duration
}

func (o *Options) withDefaults() {
	if o.EvaluateTimeout <= 0 {
		o.EvaluateTimeout = 5 * time.Second
	}
	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = 30 * time.Second
	}
	if o.Identity == "" {
		o.Identity = "settlement-service"
	}
}

// Health reports the session state without raising an error.
type Health struct {
	Connected bool
	Message   string
}

// Result is a parsed ledger response. Value holds the JSON-decoded payload
// when the response is valid JSON, otherwise the raw string.
type Result struct {
	Value any
	Raw   string
}

// Gateway manages the session to the ledger network and performs invoke
// (state-changing) and evaluate (read-only) calls against named contracts.
// The session is process-wide and safe for concurrent use.
type Gateway struct {
	transport Transport
	auditLog  audit.InvocationStore
	logger    *slog.Logger
	opts      Options

	mu        sync.Mutex
	connected bool
	contracts map[string]Contract
}

// New constructs a gateway over the given transport. The session is
// established lazily on first use or explicitly via Connect.
func New(transport Transport, auditLog audit.InvocationStore, logger *slog.Logger, opts Options) *Gateway {
	opts.withDefaults()
	return &Gateway{
		transport: transport,
		auditLog:  auditLog,
		logger:    logger,
		opts:      opts,
	}
}

// Connect establishes the ledger session and resolves the contract handle
// registry. Calling it on an established session is a no-op.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return nil
	}
	if err := g.transport.Connect(ctx, g.opts.Identity); err != nil {
		return err
	}
	g.contracts = resolveContracts()
	g.connected = true
	g.logger.Info("ledger session established", "identity", g.opts.Identity, "contracts", len(g.contracts))
	return nil
}

// Disconnect closes the ledger session. Safe to call when not connected.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil
	}
	g.connected = false
	g.contracts = nil
	if err := g.transport.Close(); err != nil {
		return err
	}
	g.logger.Info("ledger session closed")
	return nil
}

// HealthCheck reports session health without returning an error. A
// disconnected gateway attempts to connect once before reporting.
func (g *Gateway) HealthCheck(ctx context.Context) Health {
	g.mu.Lock()
	connected := g.connected
	g.mu.Unlock()

	if !connected {
		if err := g.Connect(ctx); err != nil {
			return Health{Connected: false, Message: err.Error()}
		}
	}
	return Health{Connected: true, Message: "ledger session established"}
}

// EnsureConnected turns an unhealthy session into a hard failure. Every
// payment-critical path calls this before touching the ledger.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	health := g.HealthCheck(ctx)
	if !health.Connected {
		return fmt.Errorf("%w: %s", ErrLedgerUnavailable, health.Message)
	}
	return nil
}

// Contract returns the resolved handle for a named contract. Unknown names
// are fatal and must not be retried.
func (g *Gateway) Contract(name string) (Contract, error) {
	if _, known := classifications[name]; !known {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.contracts == nil {
		return Contract{Name: name, Classification: classifications[name]}, nil
	}
	return g.contracts[name], nil
}

// Invoke submits a state-changing call to the named contract. Every attempt
// is appended to the invocation log; failures are logged before the error is
// returned to the caller.
func (g *Gateway) Invoke(ctx context.Context, contract, function string, args ...string) (Result, error) {
	handle, err := g.Contract(contract)
	if err != nil {
		return Result{}, err
	}
	if err := g.EnsureConnected(ctx); err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.InvokeTimeout)
	defer cancel()

	rec := audit.InvocationLog{
		ID:             uuid.NewString(),
		Contract:       handle.Name,
		Function:       function,
		Classification: handle.Classification,
		Status:         audit.StatusPending,
		RequestPayload: encodeArgs(args),
	}

	start := time.Now()
	resp, err := g.transport.Submit(callCtx, contract, function, args)
	rec.ExecutionMs = time.Since(start).Milliseconds()
	rec.CreatedAt = time.Now().UTC()

	if err != nil {
		rec.Status = audit.StatusFailed
		rec.ErrorMessage = err.Error()
		g.appendAudit(ctx, rec)
		return Result{}, &InvocationError{Contract: contract, Function: function, Err: err}
	}

	rec.Status = audit.StatusSuccess
	rec.ResponsePayload = string(resp.Payload)
	rec.BlockRef = resp.BlockRef
	g.appendAudit(ctx, rec)

	return parseResult(resp.Payload), nil
}

// Evaluate performs a read-only query against the named contract. Reads are
// not audited.
func (g *Gateway) Evaluate(ctx context.Context, contract, function string, args ...string) (Result, error) {
	handle, err := g.Contract(contract)
	if err != nil {
		return Result{}, err
	}
	if err := g.EnsureConnected(ctx); err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.opts.EvaluateTimeout)
	defer cancel()

	payload, err := g.transport.Query(callCtx, handle.Name, function, args)
	if err != nil {
		return Result{}, &InvocationError{Contract: contract, Function: function, Err: err}
	}
	return parseResult(payload), nil
}

// appendAudit writes the invocation record; a failed write is warned about
// but never propagated.
func (g *Gateway) appendAudit(ctx context.Context, rec audit.InvocationLog) {
	if g.auditLog == nil {
		return
	}
	if err := g.auditLog.Append(ctx, rec); err != nil {
		g.logger.Warn("invocation log write failed",
			"contract", rec.Contract, "function", rec.Function, "error", err)
	}
}

// parseResult decodes the payload as JSON, falling back to the raw string
// when the response is not valid JSON.
func parseResult(payload []byte) Result {
	raw := string(payload)
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return Result{Value: raw, Raw: raw}
	}
	return Result{Value: value, Raw: raw}
}

func encodeArgs(args []string) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(encoded)
}
