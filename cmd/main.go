package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tuncerburak97/bugatlas/internal/classify"
	"github.com/tuncerburak97/bugatlas/internal/config"
	"github.com/tuncerburak97/bugatlas/internal/fault"
	"github.com/tuncerburak97/bugatlas/internal/logger"
	"github.com/tuncerburak97/bugatlas/internal/metrics"
	"github.com/tuncerburak97/bugatlas/internal/middleware"
	"github.com/tuncerburak97/bugatlas/internal/service"
	"github.com/tuncerburak97/bugatlas/internal/throttle"
	"github.com/tuncerburak97/bugatlas/internal/transform"
	"github.com/tuncerburak97/bugatlas/internal/transport"
)

type widgetRequest struct {
	Name    string `json:"name" validate:"required"`
	OwnerID string `json:"ownerId" validate:"objectid"`
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	lg := logger.Init(cfg.Log)
	metricsCollector := metrics.GetMetricsCollector("bugatlas", "bugatlas_shim")
	defer metricsCollector.Close()

	opts := service.Options{
		Workers:     cfg.BugAtlas.Workers,
		QueueSize:   cfg.BugAtlas.QueueSize,
		SendTimeout: cfg.BugAtlas.Timeout,
		Logger:      lg,
	}

	// Throttle repeated error records if enabled
	var throttleSvc *throttle.Service
	if cfg.Throttle.Enabled {
		store, err := throttle.NewStore(cfg.Throttle)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create throttle store")
		}
		throttleSvc = throttle.NewService(cfg.Throttle, store)
		opts.Throttle = throttleSvc
	}

	if len(cfg.Transform.Services) > 0 {
		engine, err := transform.NewEngine(cfg.Transform)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize transform engine")
		}
		opts.Transformer = engine
	}

	client := transport.NewClient(cfg.BugAtlas)
	dispatcher := service.NewDispatcher(client, cfg.BugAtlas.Credentials(), metricsCollector, opts)
	classifier := classify.NewClassifier(lg, metricsCollector)
	listener := fault.NewListener(classifier, dispatcher, cfg.BugAtlas.FlushTimeout, fault.WithLogger(lg))
	defer listener.Recover()
	// fasthttp serves requests on its own goroutines, out of reach of the deferred Recover
	hook := middleware.New(classifier, dispatcher, metricsCollector, lg, middleware.WithPanicHandler(listener.HandleUncaught))

	validate := validator.New()
	validate.RegisterTagNameFunc(classify.JSONFieldName)
	if err := classify.RegisterObjectID(validate); err != nil {
		log.Fatal().Err(err).Msg("Failed to register validators")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: hook.ErrorHandler(nil),
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "reporting": dispatcher.Enabled()})
	})

	app.Use(hook.Handler())

	app.Post("/widgets", func(c *fiber.Ctx) error {
		var req widgetRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			hook.CaughtError(err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Widget " + req.Name + " created"})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener.Go(func() error {
		return app.Listen(addr)
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BugAtlas.FlushTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Pending records were not delivered")
	}

	if throttleSvc != nil {
		if err := throttleSvc.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close throttle")
		}
	}
}
