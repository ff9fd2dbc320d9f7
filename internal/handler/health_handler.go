package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

// ReadyzHandler reports readiness of the two stateful dependencies. Delivery
// loops keep running regardless; readiness only gates inbound traffic.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{
			"postgres": "ok",
			"redis":    "ok",
		}

		healthy := true
		if err := sqlDB.PingContext(ctx); err != nil {
			checks["postgres"] = "down"
			healthy = false
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			healthy = false
		}

		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": checks,
			})
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	}
}
