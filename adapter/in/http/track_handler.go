package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/logger"
)

// transparentPixelGIF is a 1x1 transparent GIF, served regardless of
// whether the tracking_id matches anything — the pixel must never 404,
// since a broken image is itself a signal to mail clients and scanners.
var transparentPixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackHandler serves the open-tracking pixel.
type TrackHandler struct {
	mails out.OutgoingMailRepository
	now   func() time.Time
}

func NewTrackHandler(mails out.OutgoingMailRepository) *TrackHandler {
	return &TrackHandler{mails: mails, now: time.Now}
}

func (h *TrackHandler) Register(app *fiber.App) {
	app.Get("/track/open", h.Open)
}

// Open increments the open counter for the tracking_id's mail in one
// statement (IncrementOpenCount) and always serves the pixel, even if
// the id is unknown or missing, so the response never leaks which
// tracking ids are valid.
func (h *TrackHandler) Open(c *fiber.Ctx) error {
	trackingID := c.Query("id")
	if trackingID != "" {
		if err := h.mails.IncrementOpenCount(c.Context(), trackingID, h.now()); err != nil {
			logger.WithError(err).WithField("tracking_id", trackingID).Warn("open-count increment failed")
		}
	}
	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Send(transparentPixelGIF)
}
