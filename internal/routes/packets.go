package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ubangi-pay/ubangi_switch/internal/packet"
	"github.com/ubangi-pay/ubangi_switch/internal/switching"
)

// RegisterPacketRoutes adds the packet ingress endpoint. Every inbound
// prepare becomes exactly one dispatcher invocation; fulfills and rejects
// both travel back as HTTP 200 with the response body deciding the outcome.
func RegisterPacketRoutes(app *fiber.App, dispatcher *switching.Switch) {
	app.Post("/ilp/:accountId", func(c *fiber.Ctx) error {
		accountID := c.Params("accountId")

		var prepare packet.Prepare
		if err := c.BodyParser(&prepare); err != nil {
			return c.Status(http.StatusBadRequest).JSON(packet.RejectResponse(packet.Reject{
				Code:    packet.CodeBadRequest,
				Message: err.Error(),
			}))
		}

		resp := dispatcher.SwitchPacket(c.UserContext(), accountID, prepare)
		return c.Status(http.StatusOK).JSON(resp)
	})
}
