package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	httpadapter "github.com/frappe/mail/adapter/in/http"
	"github.com/frappe/mail/config"
	"github.com/frappe/mail/infra/middleware"
	"github.com/frappe/mail/pkg/logger"
	"github.com/frappe/mail/pkg/ratelimit"
)

// NewAPI builds the thin HTTP surface: health/ready, the open-tracking
// pixel, the blocklist lookup, and the spamd wrapper endpoints,
// grounded on worker_api.go's Fiber config and middleware stack.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: logLevel, Service: "mail-api"})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   10 * 1024 * 1024,
		Concurrency: 256 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,

		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.InputSanitizer())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	rateLimiter := middleware.NewAdvancedRateLimiter(middleware.DefaultRateLimitConfig())
	app.Use(rateLimiter.Handler())

	// Beyond the blanket IP/user limiter above, the spamd endpoints shell
	// out to a subprocess per call, so they get their own
	// semaphore+debounce+sliding-window protector keyed per client IP.
	var spamdProtector *ratelimit.APIProtector
	if deps.Redis != nil {
		spamdProtector = ratelimit.NewAPIProtector(deps.Redis, ratelimit.DefaultConfig())
	}

	httpadapter.NewHealthHandler(deps.SQLDB, deps.Redis).Register(app)
	httpadapter.NewTrackHandler(deps.Outgoing).Register(app)
	httpadapter.NewBlacklistHandler(deps.BlocklistGate).Register(app)
	httpadapter.NewSpamdHandler(deps.SpamGate, spamdProtector).Register(app)

	logger.Info("API server initialized")

	return app, cleanup, nil
}
