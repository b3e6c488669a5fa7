package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/ratelimit"
)

// SpamdHandler exposes the spam gate over HTTP as thin wrappers,
// mirroring spamd.py's three endpoints. Each call shells out to spamc,
// so on top of the app-wide IP rate limiter every request additionally
// passes through an APIProtector: a per-IP semaphore + debounce +
// sliding-window gate guarding the subprocess from being hammered by
// retried or duplicate scan requests.
type SpamdHandler struct {
	gate      in.SpamGate
	protector *ratelimit.APIProtector
}

func NewSpamdHandler(gate in.SpamGate, protector *ratelimit.APIProtector) *SpamdHandler {
	return &SpamdHandler{gate: gate, protector: protector}
}

// acquire applies the APIProtector for this request's client IP. When
// the request is rejected it returns the response error the caller
// should return immediately; the release func is a no-op in that case
// and whenever protection is disabled.
func (h *SpamdHandler) acquire(c *fiber.Ctx) (release func(), rejected error) {
	if h.protector == nil {
		return func() {}, nil
	}
	result, release := h.protector.Acquire(c.Context(), "spamd:"+c.IP())
	if !result.Allowed {
		return func() {}, AppErrorResponse(c, apperr.ErrRateLimited)
	}
	return release, nil
}

func (h *SpamdHandler) Register(app *fiber.App) {
	group := app.Group("/spamd")
	group.Post("/scan", h.Scan)
	group.Post("/is_spam", h.IsSpam)
	group.Post("/score", h.Score)
}

type scanRequest struct {
	Message                 string             `json:"message"`
	ScanningMode            domain.ScanningMode `json:"scanning_mode"`
	HybridScanningThreshold float64             `json:"hybrid_scanning_threshold"`
}

func (h *SpamdHandler) Scan(c *fiber.Ctx) error {
	release, err := h.acquire(c)
	if err != nil {
		return err
	}
	defer release()

	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.New(apperr.CodeBadRequest, "invalid request body", fiber.StatusBadRequest))
	}
	if req.Message == "" {
		return AppErrorResponse(c, apperr.MissingField("message"))
	}
	if !req.ScanningMode.Valid() {
		return AppErrorResponse(c, apperr.New("INVALID_SCANNING_MODE", "unrecognised scanning mode", fiber.StatusBadRequest))
	}
	log, err := h.gate.Scan(c.Context(), []byte(req.Message), req.ScanningMode, req.HybridScanningThreshold)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, log)
}

type isSpamRequest struct {
	Message   string          `json:"message"`
	EmailType domain.EmailType `json:"email_type"`
}

func (h *SpamdHandler) IsSpam(c *fiber.Ctx) error {
	release, err := h.acquire(c)
	if err != nil {
		return err
	}
	defer release()

	var req isSpamRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.New(apperr.CodeBadRequest, "invalid request body", fiber.StatusBadRequest))
	}
	if req.Message == "" {
		return AppErrorResponse(c, apperr.MissingField("message"))
	}
	if req.EmailType == "" {
		req.EmailType = domain.EmailTypeInbound
	}
	isSpam, score, err := h.gate.IsSpam(c.Context(), []byte(req.Message), req.EmailType)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"is_spam": isSpam, "score": score})
}

type scoreRequest struct {
	Message string `json:"message"`
}

func (h *SpamdHandler) Score(c *fiber.Ctx) error {
	release, err := h.acquire(c)
	if err != nil {
		return err
	}
	defer release()

	var req scoreRequest
	if err := c.BodyParser(&req); err != nil {
		return AppErrorResponse(c, apperr.New(apperr.CodeBadRequest, "invalid request body", fiber.StatusBadRequest))
	}
	if req.Message == "" {
		return AppErrorResponse(c, apperr.MissingField("message"))
	}
	score, err := h.gate.Score(c.Context(), []byte(req.Message))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"score": score})
}
