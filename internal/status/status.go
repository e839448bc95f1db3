// Package status serves a read-only HTTP view of a running face service.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/andresmejia3/facedetectd/internal/faces"
	"github.com/andresmejia3/facedetectd/internal/types"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// Source is the part of the service the endpoint reports on.
type Source interface {
	State() faces.State
	Strategy() types.Strategy
	Resources() map[types.ResourceKind]string
}

type Report struct {
	Session   string            `json:"session"`
	State     string            `json:"state"`
	Strategy  string            `json:"strategy"`
	Resources map[string]string `json:"resources"`
	Uptime    string            `json:"uptime"`
}

// NewApp builds the fiber app with GET /healthz and GET /status.
func NewApp(src Source, session string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "facedetectd",
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
	})
	started := time.Now()

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if src.State() == faces.StateShuttingDown {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "shutting down"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		res := src.Resources()
		report := Report{
			Session:   session,
			State:     src.State().String(),
			Strategy:  src.Strategy().String(),
			Resources: make(map[string]string, len(res)),
			Uptime:    time.Since(started).Round(time.Second).String(),
		}
		for k, origin := range res {
			report.Resources[k.String()] = origin
		}
		return c.JSON(report)
	})

	return app
}

// Run serves app on addr until ctx is cancelled.
func Run(ctx context.Context, app *fiber.App, addr string, log *logrus.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithField("error", err).Warn("Status endpoint shutdown failed")
		}
	}()

	log.WithField("addr", addr).Info("Status endpoint listening")
	if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
		log.WithField("error", err).Error("Status endpoint stopped")
	}
}
