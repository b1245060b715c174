package api

import (
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/insightdelivered/statement-dashboard/internal/upload"
)

const (
	// defaultBodyLimit is the request body cap when none is configured.
	defaultBodyLimit = 64 << 20
	// multipartOverhead is the least room left above the file limit for form framing.
	multipartOverhead = 1 << 20
)

// NewApp builds the fiber application with middleware and routes.
func (h *Handler) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "statement-dashboard",
		BodyLimit:             int(h.bodyLimit),
		ReadTimeout:           30 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          h.handleError,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestLogger(h.log))
	h.RegisterRoutes(app)
	return app
}

// handleError renders JSON for API routes. A failed upload form goes back
// to the upload screen with a banner; anything else gets a plain status.
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := MsgAnalysisFailed
	var kind upload.Kind

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		if code < fiber.StatusInternalServerError {
			msg = fe.Message
		}
	}
	switch {
	case code == fiber.StatusRequestEntityTooLarge:
		kind, msg = upload.KindTooLarge, upload.TooLargeMessage(h.validator.MaxBytes)
	case isUploadRoute(c):
		kind = upload.KindUpload
	}

	if code >= fiber.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{"path": c.Path(), "status": code}).Error("request failed")
	}

	switch {
	case strings.HasPrefix(c.Path(), "/api/"):
		return c.Status(code).JSON(AnalyzeResponse{Error: msg, Kind: kind, Version: Version})
	case c.Method() == fiber.MethodPost && c.Path() == "/upload":
		if rerr := h.sessions.Reject(h.sessionID(c), msg); rerr != nil {
			h.log.WithError(rerr).Warn("upload rejected while another analysis is running")
		}
		return c.Redirect("/", fiber.StatusSeeOther)
	default:
		return c.Status(code).SendString(msg)
	}
}

// throttle rejects uploads beyond the configured rate.
func (h *Handler) throttle(c *fiber.Ctx) error {
	if h.limiter != nil && !h.limiter.Allow() {
		h.log.WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"ip":     c.IP(),
		}).Warn("rate limit exceeded")
		return fiber.NewError(fiber.StatusTooManyRequests, "Too many uploads. Please wait a moment and try again.")
	}
	return c.Next()
}

func requestLogger(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		log.WithFields(logrus.Fields{
			"method":  c.Method(),
			"path":    c.Path(),
			"status":  status,
			"latency": time.Since(start).String(),
		}).Info("request")
		return err
	}
}

func corsMiddleware() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	})
}

func isUploadRoute(c *fiber.Ctx) bool {
	if c.Method() != fiber.MethodPost {
		return false
	}
	return c.Path() == "/upload" || c.Path() == "/api/analyze"
}
