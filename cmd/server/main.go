package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/constructa/listquery/internal/middleware/requestid"
	"github.com/constructa/listquery/internal/pkg/log"
	platform "github.com/constructa/listquery/internal/platform"
	platformconfig "github.com/constructa/listquery/internal/platform/config"
	"github.com/constructa/listquery/listing"
	"github.com/constructa/listquery/listing/handlers"
)

func main() {
	cfg, err := platformconfig.LoadFromEnv()
	if err != nil {
		log.Error("Failed to load platform config: %v", err)
		os.Exit(1)
	}
	log.SetDebug(cfg.Server.Debug)
	if cfg.JWT.PublicKey == "" {
		log.Error("JWT_PUBLIC_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()
	baseService, err := platform.NewBaseService(ctx, cfg)
	if err != nil {
		log.Error("Failed to create base service: %v", err)
		os.Exit(1)
	}
	defer baseService.Close()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			log.ErrorWithContext(c.UserContext(), "[ErrorHandler] Path: %s, Error: %v, Code: %d", c.Path(), err, code)

			// If response already set by handler, don't override it
			if len(c.Response().Body()) > 0 {
				return nil
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// CORS Configuration for Browser Direct Access
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.WebDomain,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
	}))
	app.Use(requestid.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := baseService.HealthCheck(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"queries": baseService.Metrics.GetGlobalStats(),
			"pool":    baseService.DB.Stats(),
			"cache":   baseService.Cache.GetStats(),
		})
	})

	listService := baseService.ListService()
	listing.RegisterRoutes(app, &listing.ListingHandlers{
		ListHandler: handlers.NewListHandler(listService),
	}, cfg)

	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Error("Failed to listen on gRPC port %d: %v", cfg.Server.GRPCPort, err)
			os.Exit(1)
		}
		grpcServer := listing.NewServer(listing.NewGrpcServer(listService), cfg.JWT.PublicKey, cfg.JWT.ClaimKey)
		go func() {
			log.Info("Starting listing gRPC server on port %d", cfg.Server.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server stopped: %v", err)
			}
		}()
		defer grpcServer.GracefulStop()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting listing API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Error("Server stopped: %v", err)
	}
}
