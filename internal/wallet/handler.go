package wallet

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tokenmart/tokenmart/internal/gateway"
)

var validate = validator.New()

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	Amount   int64             `json:"amount" validate:"required,gt=0"`
	Method   string            `json:"method" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

type withdrawRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Method         string `json:"method" validate:"required"`
	AccountDetails string `json:"account_details"`
}

type transferRequest struct {
	ToOwnerID   string `json:"to_owner_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

type paymentRequest struct {
	PayeeID     string `json:"payee_id" validate:"required"`
	OrderID     string `json:"order_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

type refundRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

type freezeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type transactionResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	BalanceBefore  int64  `json:"balance_before"`
	BalanceAfter   int64  `json:"balance_after"`
	RelatedOrderID string `json:"related_order_id,omitempty"`
	RelatedUserID  string `json:"related_user_id,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	LedgerRef      string `json:"ledger_ref,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toTransactionResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		Type:           string(t.Type),
		Amount:         t.Amount,
		BalanceBefore:  t.BalanceBefore,
		BalanceAfter:   t.BalanceAfter,
		RelatedOrderID: t.RelatedOrderID,
		RelatedUserID:  t.RelatedUserID,
		Description:    t.Description,
		Status:         t.Status,
		LedgerRef:      t.LedgerRef,
		CreatedAt:      t.CreatedAt.UTC().Format("2006-01-02T15:04:05.999Z07:00"),
	}
}

// Summary returns the authenticated owner's wallet record, provisioning it
// on first use.
func (h *Handler) Summary(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	w, err := h.service.GetOrCreateWallet(c.UserContext(), ownerID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner_id":               w.OwnerID,
		"address":                w.Address,
		"balance":                w.Balance,
		"currency":               w.Currency,
		"active":                 w.Active,
		"frozen":                 w.Frozen,
		"daily_withdrawal_limit": w.DailyWithdrawalLimit,
		"daily_withdrawn":        w.DailyWithdrawn,
		"total_deposited":        w.TotalDeposited,
		"total_withdrawn":        w.TotalWithdrawn,
		"total_spent":            w.TotalSpent,
		"total_received":         w.TotalReceived,
		"last_synced_at":         w.LastSyncedAt,
		"created_at":             w.CreatedAt,
	})
}

// Balance returns the live ledger balance, falling back to the cached value
// when the ledger is unreachable.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	balance, err := h.service.GetBalance(c.UserContext(), ownerID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner_id":  balance.OwnerID,
		"balance":   balance.Amount,
		"currency":  balance.Currency,
		"degraded":  balance.Degraded,
		"synced_at": balance.SyncedAt,
	})
}

// Deposit credits the authenticated owner's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req depositRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tx, err := h.service.AddFunds(c.UserContext(), AddFundsInput{
		OwnerID:  ownerID,
		Amount:   req.Amount,
		Method:   req.Method,
		Metadata: req.Metadata,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

// Withdraw debits the authenticated owner's wallet to an external rail.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req withdrawRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tx, err := h.service.WithdrawFunds(c.UserContext(), WithdrawInput{
		OwnerID:        ownerID,
		Amount:         req.Amount,
		Method:         req.Method,
		AccountDetails: req.AccountDetails,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

// Transfer moves credits from the authenticated owner to another owner.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.service.TransferCredits(c.UserContext(), TransferInput{
		FromOwnerID: ownerID,
		ToOwnerID:   req.ToOwnerID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"out": toTransactionResponse(result.Out),
		"in":  toTransactionResponse(result.In),
	})
}

// Pay settles an order from the authenticated owner to the payee.
func (h *Handler) Pay(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.service.ProcessPaymentWithCredit(c.UserContext(), PaymentInput{
		PayerID:     ownerID,
		PayeeID:     req.PayeeID,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"payment": toTransactionResponse(result.Out),
		"sale":    toTransactionResponse(result.In),
	})
}

// CanAfford reports whether the authenticated owner can cover an amount.
func (h *Handler) CanAfford(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	amount := int64(c.QueryInt("amount"))
	ok, err := h.service.CanAfford(c.UserContext(), ownerID, amount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"amount": amount, "affordable": ok})
}

// History lists the authenticated owner's transaction history.
func (h *Handler) History(c *fiber.Ctx) error {
	ownerID, err := callerID(c)
	if err != nil {
		return err
	}
	filter := TransactionFilter{
		Type:   TransactionType(c.Query("type")),
		Status: c.Query("status"),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", 20),
	}
	history, err := h.service.GetTransactionHistory(c.UserContext(), ownerID, filter)
	if err != nil {
		return mapError(err)
	}
	out := make([]transactionResponse, 0, len(history))
	for _, t := range history {
		out = append(out, toTransactionResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transactions": out,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

// Refund mints a refund to the named owner. Admin only.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tx, err := h.service.ProcessRefund(c.UserContext(), RefundInput{
		RecipientID: c.Params("ownerId"),
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

// Freeze blocks all balance-changing operations on the named wallet. Admin
// only.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	var req freezeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	actorID, _ := c.Locals("user_id").(string)
	if err := h.service.FreezeWallet(c.UserContext(), c.Params("ownerId"), req.Reason, actorID); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Unfreeze lifts the freeze on the named wallet. Admin only.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	var req freezeRequest
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	actorID, _ := c.Locals("user_id").(string)
	if err := h.service.UnfreezeWallet(c.UserContext(), c.Params("ownerId"), req.Reason, actorID); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// LedgerHistory returns the ledger-side history for the named wallet, for
// comparison against the local transaction list. Admin only.
func (h *Handler) LedgerHistory(c *fiber.Ctx) error {
	entries, err := h.service.GetLedgerHistory(c.UserContext(), c.Params("ownerId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"entries": entries})
}

// Sync forces a reconciliation of the named wallet's cached balance. Admin
// only.
func (h *Handler) Sync(c *fiber.Ctx) error {
	balance, err := h.service.SyncWalletBalance(c.UserContext(), c.Params("ownerId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner_id":  balance.OwnerID,
		"balance":   balance.Amount,
		"currency":  balance.Currency,
		"synced_at": balance.SyncedAt,
	})
}

func callerID(c *fiber.Ctx) (string, error) {
	ownerID, _ := c.Locals("user_id").(string)
	if ownerID == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing authentication")
	}
	return ownerID, nil
}

func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// mapError translates service errors into HTTP responses.
func mapError(err error) error {
	var authErr *AuthorizationError
	var perr *PersistenceError
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrOwnerNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.As(err, &authErr):
		return fiber.NewError(http.StatusForbidden, authErr.Reason)
	case errors.As(err, &perr):
		return fiber.NewError(http.StatusInternalServerError, "settlement recorded on ledger, local commit pending reconciliation")
	case errors.Is(err, gateway.ErrLedgerUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger unavailable")
	default:
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
}
