package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/tokenmart/tokenmart/internal/audit"
	"github.com/tokenmart/tokenmart/internal/logging"
)

type fakeTransport struct {
	connectErr error
	submitErr  error
	queryErr   error
	payload    []byte
	blockRef   string

	connects int
	submits  int
	queries  int
}

func (t *fakeTransport) Connect(_ context.Context, _ string) error {
	t.connects++
	return t.connectErr
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) Submit(_ context.Context, _, _ string, _ []string) (Response, error) {
	t.submits++
	if t.submitErr != nil {
		return Response{}, t.submitErr
	}
	return Response{Payload: t.payload, BlockRef: t.blockRef}, nil
}

func (t *fakeTransport) Query(_ context.Context, _, _ string, _ []string) ([]byte, error) {
	t.queries++
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	return t.payload, nil
}

func newTestGateway(transport Transport, store audit.InvocationStore) *Gateway {
	return New(transport, store, logging.Discard(), Options{Identity: "test"})
}

func TestInvokeSuccessIsAudited(t *testing.T) {
	transport := &fakeTransport{payload: []byte(`{"balance":100}`), blockRef: "block-7"}
	store := audit.NewMemoryInvocationStore()
	gw := newTestGateway(transport, store)

	ctx := context.Background()
	res, err := gw.Invoke(ctx, ContractToken, "Mint", "alice", "100")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	decoded, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded JSON object, got %T", res.Value)
	}
	if decoded["balance"] != float64(100) {
		t.Fatalf("unexpected payload: %v", decoded)
	}

	recs, err := store.List(ctx, audit.InvocationFilter{Contract: ContractToken})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != audit.StatusSuccess || rec.Function != "Mint" || rec.BlockRef != "block-7" {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
	if rec.Classification != "settlement" {
		t.Fatalf("expected settlement classification, got %s", rec.Classification)
	}
}

func TestInvokeFailureAuditedThenReturned(t *testing.T) {
	transport := &fakeTransport{submitErr: errors.New("endorsement rejected")}
	store := audit.NewMemoryInvocationStore()
	gw := newTestGateway(transport, store)

	ctx := context.Background()
	_, err := gw.Invoke(ctx, ContractToken, "Burn", "alice", "50")
	if err == nil {
		t.Fatal("expected invoke error")
	}

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %T", err)
	}
	if invErr.Contract != ContractToken || invErr.Function != "Burn" {
		t.Fatalf("unexpected error detail: %+v", invErr)
	}

	recs, _ := store.List(ctx, audit.InvocationFilter{Status: audit.StatusFailed})
	if len(recs) != 1 {
		t.Fatalf("expected 1 failed audit record, got %d", len(recs))
	}
	if recs[0].ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
}

func TestEvaluateIsNotAudited(t *testing.T) {
	transport := &fakeTransport{payload: []byte(`42`)}
	store := audit.NewMemoryInvocationStore()
	gw := newTestGateway(transport, store)

	ctx := context.Background()
	res, err := gw.Evaluate(ctx, ContractToken, "BalanceOf", "alice")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Value != float64(42) {
		t.Fatalf("unexpected value: %v", res.Value)
	}

	recs, _ := store.List(ctx, audit.InvocationFilter{})
	if len(recs) != 0 {
		t.Fatalf("reads must not be audited, got %d records", len(recs))
	}
}

func TestNonJSONResponseFallsBackToRawString(t *testing.T) {
	transport := &fakeTransport{payload: []byte("already exists")}
	gw := newTestGateway(transport, audit.NewMemoryInvocationStore())

	res, err := gw.Invoke(context.Background(), ContractToken, "CreateAccount", "alice")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Value != "already exists" || res.Raw != "already exists" {
		t.Fatalf("unexpected fallback result: %+v", res)
	}
}

func TestUnknownContractIsFatal(t *testing.T) {
	transport := &fakeTransport{}
	gw := newTestGateway(transport, audit.NewMemoryInvocationStore())

	_, err := gw.Invoke(context.Background(), "escrow", "Hold", "x")
	if !errors.Is(err, ErrUnknownContract) {
		t.Fatalf("expected ErrUnknownContract, got %v", err)
	}
	if transport.submits != 0 {
		t.Fatal("unknown contract must not reach the transport")
	}
}

func TestHealthCheckReconnects(t *testing.T) {
	transport := &fakeTransport{}
	gw := newTestGateway(transport, audit.NewMemoryInvocationStore())

	health := gw.HealthCheck(context.Background())
	if !health.Connected {
		t.Fatalf("expected healthy gateway: %+v", health)
	}
	if transport.connects != 1 {
		t.Fatalf("expected one connect attempt, got %d", transport.connects)
	}

	// A second check reuses the established session.
	gw.HealthCheck(context.Background())
	if transport.connects != 1 {
		t.Fatalf("expected connect to be idempotent, got %d attempts", transport.connects)
	}
}

func TestEnsureConnectedHardFailure(t *testing.T) {
	transport := &fakeTransport{connectErr: errors.New("peer unreachable")}
	gw := newTestGateway(transport, audit.NewMemoryInvocationStore())

	err := gw.EnsureConnected(context.Background())
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestDisconnectThenReconnect(t *testing.T) {
	transport := &fakeTransport{}
	gw := newTestGateway(transport, audit.NewMemoryInvocationStore())

	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := gw.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if transport.connects != 2 {
		t.Fatalf("expected 2 connects, got %d", transport.connects)
	}
}
