package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tokenmart/tokenmart/internal/audit"
	"github.com/tokenmart/tokenmart/internal/wallet"
)

// RegisterAdminRoutes wires wallet administration and audit-trail endpoints.
func RegisterAdminRoutes(r fiber.Router, wallets *wallet.Handler, invocations audit.InvocationStore, security audit.SecurityStore) {
	r.Post("/wallets/:ownerId/refund", wallets.Refund)
	r.Post("/wallets/:ownerId/freeze", wallets.Freeze)
	r.Post("/wallets/:ownerId/unfreeze", wallets.Unfreeze)
	r.Post("/wallets/:ownerId/sync", wallets.Sync)
	r.Get("/wallets/:ownerId/ledger-history", wallets.LedgerHistory)

	r.Get("/invocations", func(c *fiber.Ctx) error {
		filter := audit.InvocationFilter{
			Contract: c.Query("contract"),
			Status:   c.Query("status"),
			Page:     c.QueryInt("page", 1),
			Limit:    c.QueryInt("limit", 50),
		}
		if v := c.Query("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid from timestamp")
			}
			filter.From = t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid to timestamp")
			}
			filter.To = t
		}
		logs, err := invocations.List(c.UserContext(), filter)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"invocations": logs,
			"page":        filter.Page,
			"limit":       filter.Limit,
		})
	})

	r.Get("/wallets/:ownerId/security-events", func(c *fiber.Ctx) error {
		events, err := security.ListByOwner(c.UserContext(), c.Params("ownerId"))
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"events": events})
	})
}
