package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tokenmart/tokenmart/internal/gateway"
)

// Client implements Ledger against the "token" contract through the gateway.
type Client struct {
	gw         *gateway.Gateway
	retryMax   int
	retryDelay time.Duration
}

// NewClient builds a token contract client. Retry settings apply to calls
// that are idempotent or protected by a reference id.
func NewClient(gw *gateway.Gateway, retryMax int, retryDelay time.Duration) *Client {
	return &Client{gw: gw, retryMax: retryMax, retryDelay: retryDelay}
}

// CreateAccount provisions a ledger account for the owner. A concurrent or
// repeated creation reporting "already exists" is success.
func (c *Client) CreateAccount(ctx context.Context, ownerID, address string, initialBalance int64) error {
	_, err := gateway.Retry(ctx, c.retryMax, c.retryDelay, func(ctx context.Context) (gateway.Result, error) {
		res, err := c.gw.Invoke(ctx, gateway.ContractToken, "CreateAccount",
			ownerID, address, strconv.FormatInt(initialBalance, 10))
		if err != nil && isAlreadyExists(err) {
			return gateway.Result{}, nil
		}
		return res, err
	})
	return err
}

// BalanceOf returns the authoritative ledger balance for the owner.
func (c *Client) BalanceOf(ctx context.Context, ownerID string) (int64, error) {
	res, err := gateway.Retry(ctx, c.retryMax, c.retryDelay, func(ctx context.Context) (gateway.Result, error) {
		return c.gw.Evaluate(ctx, gateway.ContractToken, "BalanceOf", ownerID)
	})
	if err != nil {
		return 0, mapLedgerError(err)
	}
	return parseAmount(res)
}

// GetAccount returns the full ledger record for the owner.
func (c *Client) GetAccount(ctx context.Context, ownerID string) (Account, error) {
	res, err := c.gw.Evaluate(ctx, gateway.ContractToken, "GetAccount", ownerID)
	if err != nil {
		return Account{}, mapLedgerError(err)
	}
	var account Account
	if err := json.Unmarshal([]byte(res.Raw), &account); err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	return account, nil
}

// Mint increases the owner's ledger balance. The reference id lets the
// ledger deduplicate a retried submit.
func (c *Client) Mint(ctx context.Context, ownerID string, amount int64, reason, ref string) error {
	return c.submitDeduped(ctx, "Mint", ownerID, strconv.FormatInt(amount, 10), reason, ref)
}

// Burn decreases the owner's ledger balance. Used only for true value
// removal, never for payment debits.
func (c *Client) Burn(ctx context.Context, ownerID string, amount int64, reason, ref string) error {
	return c.submitDeduped(ctx, "Burn", ownerID, strconv.FormatInt(amount, 10), reason, ref)
}

// Transfer moves value between two owners in one ledger transaction.
func (c *Client) Transfer(ctx context.Context, fromID, toID string, amount int64, description, ref string) error {
	return c.submitDeduped(ctx, "Transfer", fromID, toID, strconv.FormatInt(amount, 10), description, ref)
}

// History returns the ledger-side immutable history for the owner.
func (c *Client) History(ctx context.Context, ownerID string) ([]Entry, error) {
	res, err := c.gw.Evaluate(ctx, gateway.ContractToken, "GetAccountHistory", ownerID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(res.Raw), &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

// submitDeduped invokes a state-changing function whose last argument is a
// reference id. An ErrDuplicateRef outcome from the ledger means an earlier
// attempt already settled, so it is reported as success.
func (c *Client) submitDeduped(ctx context.Context, function string, args ...string) error {
	_, err := gateway.Retry(ctx, c.retryMax, c.retryDelay, func(ctx context.Context) (gateway.Result, error) {
		res, err := c.gw.Invoke(ctx, gateway.ContractToken, function, args...)
		if err != nil && errors.Is(mapLedgerError(err), ErrDuplicateRef) {
			return gateway.Result{}, nil
		}
		return res, err
	})
	if err != nil {
		return mapLedgerError(err)
	}
	return nil
}

// parseAmount accepts either a bare JSON number or a {"balance": n} object.
func parseAmount(res gateway.Result) (int64, error) {
	switch v := res.Value.(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case map[string]any:
		if b, ok := v["balance"].(float64); ok {
			return int64(b), nil
		}
	}
	return 0, fmt.Errorf("unexpected balance payload: %s", res.Raw)
}

// mapLedgerError lifts well-known chaincode error strings into sentinels so
// callers can branch on errors.Is.
func mapLedgerError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "already applied"):
		return fmt.Errorf("%w: %v", ErrDuplicateRef, err)
	default:
		return err
	}
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
