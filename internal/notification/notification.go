package notification

import (
	"context"
	"log/slog"
)

// Notification categories emitted by the settlement service.
const (
	CategoryDeposit    = "funds_credited"
	CategoryWithdrawal = "funds_debited"
	CategoryTransfer   = "transfer_received"
	CategorySale       = "payment_received"
	CategoryRefund     = "refund_issued"
	CategoryFrozen     = "wallet_frozen"
	CategoryUnfrozen   = "wallet_unfrozen"
)

// Message describes a notification payload. Context carries small key/value
// details (amounts, order ids) for the delivery channel to render.
type Message struct {
	OwnerID  string
	Category string
	Body     string
	Context  map[string]string
}

// Notifier delivers notifications to downstream systems. Delivery is
// best-effort and never rolls back a wallet operation.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the
// logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"owner_id", message.OwnerID,
		"category", message.Category,
		"body", message.Body)
	return nil
}
