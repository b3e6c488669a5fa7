package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/pkg/apperr"
)

// BlacklistHandler wraps the blocklist gate: group lookup, lazily
// provisioning a non-blacklisted entry on first sight.
type BlacklistHandler struct {
	gate in.BlocklistGate
}

func NewBlacklistHandler(gate in.BlocklistGate) *BlacklistHandler {
	return &BlacklistHandler{gate: gate}
}

func (h *BlacklistHandler) Register(app *fiber.App) {
	app.Get("/blacklist", h.Lookup)
}

func (h *BlacklistHandler) Lookup(c *fiber.Ctx) error {
	ip := c.Query("ip_address")
	if ip == "" {
		return AppErrorResponse(c, apperr.MissingField("ip_address"))
	}
	entry, err := h.gate.Lookup(c.Context(), ip)
	if err != nil {
		return InternalErrorResponse(c, err, "blacklist lookup")
	}
	return SuccessResponse(c, entry)
}
