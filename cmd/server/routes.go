package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sitesearch/core/internal/manager"
)

// newFiberApp builds the thin admin HTTP surface: health plus
// create/stop/status for crawl tasks, wired directly to the Manager.
// The full REST CRUD surface over sites/policies/documents is out of
// scope; that remains a configuration-time concern owned by the
// database migrations and operator tooling, not this process.
func newFiberApp(mgr *manager.Manager) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	api.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(mgr.GetSystemStatus(c.Context()))
	})

	api.Post("/tasks", func(c *fiber.Ctx) error {
		var spec manager.CrawlTaskSpec
		if err := c.BodyParser(&spec); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		taskID, err := mgr.CreateCrawlTask(c.Context(), spec)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"task_id": taskID})
	})

	api.Post("/sites/:siteID/update", func(c *fiber.Ctx) error {
		taskID, err := mgr.CreateCrawlUpdateTask(c.Context(), c.Params("siteID"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"task_id": taskID})
	})

	api.Get("/tasks", func(c *fiber.Ctx) error {
		return c.JSON(mgr.GetAllTasksStatus(c.Context()))
	})

	api.Get("/tasks/:taskID", func(c *fiber.Ctx) error {
		snap, err := mgr.GetTaskStatus(c.Context(), c.Params("taskID"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(snap)
	})

	api.Post("/tasks/:taskID/stop", func(c *fiber.Ctx) error {
		if err := mgr.StopTask(c.Context(), c.Params("taskID")); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "stopped"})
	})

	api.Post("/workers/:component", func(c *fiber.Ctx) error {
		var body struct {
			Target int `json:"target"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err := mgr.AdjustWorkers(c.Params("component"), body.Target); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "adjusted"})
	})

	return app
}
