package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tokenmart/tokenmart/internal/wallet"
)

// RegisterWalletRoutes wires the authenticated owner's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	group := r.Group("/wallet")
	group.Get("", h.Summary)
	group.Get("/balance", h.Balance)
	group.Get("/can-afford", h.CanAfford)
	group.Get("/transactions", h.History)
	group.Post("/deposit", h.Deposit)
	group.Post("/withdraw", h.Withdraw)
	group.Post("/transfer", h.Transfer)
	group.Post("/pay", h.Pay)
}
