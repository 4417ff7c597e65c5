package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/settlement"
)

type settlementNotification struct {
	Scale  uint8  `json:"scale"`
	Amount string `json:"amount"`
}

// RegisterWebhookRoutes adds the inbound settlement engine surface:
// completed settlement notifications and opaque engine-to-engine messages.
func RegisterWebhookRoutes(router fiber.Router, store accounts.Store, coordinator *settlement.Coordinator, logger *slog.Logger) {
	router.Post("/:accountId/settlements", func(c *fiber.Ctx) error {
		idempotencyKey := c.Get("Idempotency-Key")
		if idempotencyKey == "" {
			return fiber.NewError(http.StatusBadRequest, "missing Idempotency-Key header")
		}

		var req settlementNotification
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil || amount.IsNegative() {
			return fiber.NewError(http.StatusBadRequest, "amount must be a non-negative decimal string")
		}

		account, err := store.FindByID(c.UserContext(), c.Params("accountId"))
		if err != nil {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}

		entry, err := coordinator.ReceiveIncoming(c.UserContext(), account, idempotencyKey,
			settlement.Quantity{Amount: amount, Scale: req.Scale})
		if err != nil {
			logger.Error("incoming settlement failed", "account_id", account.ID, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "settlement application failed")
		}

		return c.Status(http.StatusOK).JSON(fiber.Map{
			"clearing_balance": entry.ClearingBalance.String(),
			"prepaid_amount":   entry.PrepaidAmount.String(),
		})
	})

	router.Post("/:accountId/messages", func(c *fiber.Ctx) error {
		account, err := store.FindByID(c.UserContext(), c.Params("accountId"))
		if err != nil {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}

		reply, err := coordinator.RelayMessage(c.UserContext(), account, c.Body())
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		return c.Status(http.StatusOK).Send(reply)
	})
}
