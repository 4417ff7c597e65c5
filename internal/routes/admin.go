package routes

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ubangi-pay/ubangi_switch/internal/accounts"
	"github.com/ubangi-pay/ubangi_switch/internal/config"
	"github.com/ubangi-pay/ubangi_switch/internal/link"
	"github.com/ubangi-pay/ubangi_switch/internal/routing"
	"github.com/ubangi-pay/ubangi_switch/internal/settlement"
)

type adminDeps struct {
	repo        accounts.Repository
	store       *accounts.CachedStore
	cache       *redis.Client
	table       *routing.PrefixTable
	registry    *link.Registry
	coordinator *settlement.Coordinator
	cfg         config.Config
	logger      *slog.Logger
}

type accountRequest struct {
	ID                  string  `json:"id"`
	AssetCode           string  `json:"asset_code"`
	AssetScale          uint8   `json:"asset_scale"`
	Relation            string  `json:"relation"`
	SettleThreshold     *string `json:"settle_threshold"`
	SettleTo            *string `json:"settle_to"`
	MinBalance          *string `json:"min_balance"`
	MaxBalance          *string `json:"max_balance"`
	MaxPacketAmount     *string `json:"max_packet_amount"`
	SettlementEngineURL string  `json:"settlement_engine_url"`
	LinkURL             string  `json:"link_url"`
}

type settlementRequest struct {
	SettleThreshold *string `json:"settle_threshold"`
	SettleTo        *string `json:"settle_to"`
	MinBalance      *string `json:"min_balance"`
	MaxBalance      *string `json:"max_balance"`
	MaxPacketAmount *string `json:"max_packet_amount"`
}

type routeRequest struct {
	Prefix    string `json:"prefix"`
	AccountID string `json:"account_id"`
}

// RegisterAdminRoutes adds the operator surface: account provisioning,
// settlement parameter updates, and static route management.
func RegisterAdminRoutes(router fiber.Router, d adminDeps) {
	router.Post("/accounts", func(c *fiber.Ctx) error {
		var req accountRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.ID == "" || req.AssetCode == "" {
			return fiber.NewError(http.StatusBadRequest, "id and asset_code are required")
		}

		account := accounts.Account{
			ID:                  req.ID,
			AssetCode:           req.AssetCode,
			AssetScale:          req.AssetScale,
			Relation:            accounts.Relation(req.Relation),
			SettlementEngineURL: req.SettlementEngineURL,
			LinkURL:             req.LinkURL,
			CreatedAt:           time.Now().UTC(),
		}
		var err error
		if account.SettleThreshold, err = parseOptionalAmount(req.SettleThreshold); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if account.SettleTo, err = parseOptionalAmount(req.SettleTo); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if account.MinBalance, err = parseOptionalAmount(req.MinBalance); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if account.MaxBalance, err = parseOptionalAmount(req.MaxBalance); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if account.MaxPacketAmount, err = parseOptionalAmount(req.MaxPacketAmount); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		if err := d.repo.Create(c.UserContext(), account); err != nil {
			return fiber.NewError(http.StatusConflict, err.Error())
		}

		if account.LinkURL != "" {
			outbound := link.NewHTTPLink(account.LinkURL, d.cfg.EngineTimeout)
			d.registry.Register(account.ID, link.NewBreakerLink(account.ID, d.cfg.LocalAddress, outbound, link.DefaultBreakerConfig()))
		}
		if err := d.coordinator.SetupAccount(c.UserContext(), account); err != nil {
			// The account exists locally either way; engine setup can be
			// retried by re-posting the same account id.
			d.logger.Warn("settlement account setup failed", "account_id", account.ID, "error", err)
		}

		return c.SendStatus(http.StatusCreated)
	})

	router.Put("/accounts/:id/settlement", func(c *fiber.Ctx) error {
		var req settlementRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		var update accounts.SettlementUpdate
		var err error
		if update.SettleThreshold, err = parseOptionalAmount(req.SettleThreshold); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if update.SettleTo, err = parseOptionalAmount(req.SettleTo); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if update.MinBalance, err = parseOptionalAmount(req.MinBalance); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if update.MaxBalance, err = parseOptionalAmount(req.MaxBalance); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if update.MaxPacketAmount, err = parseOptionalAmount(req.MaxPacketAmount); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		id := c.Params("id")
		if _, err := d.repo.UpdateSettlement(c.UserContext(), id, update); err != nil {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}

		d.store.Invalidate(id)
		if d.cache != nil {
			if err := accounts.PublishInvalidation(c.UserContext(), d.cache, id); err != nil {
				d.logger.Warn("cache invalidation publish failed", "account_id", id, "error", err)
			}
		}
		return c.SendStatus(http.StatusNoContent)
	})

	router.Post("/routes", func(c *fiber.Ctx) error {
		var req routeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.Prefix == "" || req.AccountID == "" {
			return fiber.NewError(http.StatusBadRequest, "prefix and account_id are required")
		}
		d.table.AddRoute(req.Prefix, req.AccountID)
		return c.SendStatus(http.StatusNoContent)
	})
}

func parseOptionalAmount(v *string) (*big.Int, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(*v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", *v)
	}
	return n, nil
}
