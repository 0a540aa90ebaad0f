package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/P2PSP/crossroads/internal/auth"
	"github.com/P2PSP/crossroads/internal/channel"
	"github.com/P2PSP/crossroads/internal/config"
	"github.com/P2PSP/crossroads/internal/database"
	"github.com/P2PSP/crossroads/internal/engine"
	"github.com/P2PSP/crossroads/internal/logging"
	"github.com/P2PSP/crossroads/internal/remote"
)

func main() {
	cfg := config.Load()

	if err := logging.Init(logging.Config{
		Level:    cfg.LogLevel,
		Path:     cfg.LogPath,
		Pretty:   cfg.LogPretty,
		DiodeBuf: cfg.LogDiodeBuf,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}

	// Database
	db := database.Connect(cfg.DatabaseURL)
	database.AutoMigrate(db, &channel.Channel{})
	store := channel.NewRepository(db)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Orchestration: local workers, or a remote engine over the engine link
	var (
		orch    engine.Orchestrator
		sup     *engine.Supervisor
		comm    *remote.Communicator
		linkKey string
	)
	if cfg.StandaloneEngine {
		key, created, err := remote.LoadOrCreateKey(cfg.EngineKeyFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.EngineKeyFile).Msg("failed to load engine key")
		}
		if created {
			log.Info().Str("path", cfg.EngineKeyFile).Msg("generated engine key, copy this file to the engine host")
		}
		linkKey = key
		comm = remote.NewCommunicator(key, store,
			remote.WithResultTimeout(cfg.EngineResultTimeout),
			remote.WithLinkMetrics(remote.NewMetrics(reg)),
		)
		orch = comm
	} else {
		launcher := engine.NewLauncher(engine.LauncherConfig{
			BindAddress: cfg.BindAddress,
			SplitterDir: cfg.SplitterBin,
			MonitorDir:  cfg.MonitorBin,
			SettleDelay: cfg.SettleDelay,
		}, engine.WithLogSinks(engine.NewFileSinks(cfg.WorkerLogDir)))

		sup = engine.NewSupervisor(launcher, engine.WithMetrics(engine.NewMetrics(reg)))
		sup.SetRemoveHook(func(url string) {
			if err := store.RemoveChannel(url); err != nil {
				log.Error().Err(err).Str("channel", url).Msg("failed to remove channel")
			}
		})
		orch = sup
	}
	killAll := func() {
		if sup != nil {
			sup.KillAll()
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	channel.NewHandler(store, orch).Register(app.Group("/channels"))

	// Operator routes (only if a password is configured)
	if cfg.AdminPassword != "" {
		authHandler, err := auth.NewHandler(cfg.AdminPassword, cfg.JWTSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to hash admin password")
		}
		admin := app.Group("/admin")
		admin.Post("/login", authHandler.Login)

		protected := admin.Group("", auth.JWTMiddleware(cfg.JWTSecret))
		protected.Get("/engine", engineStatus(sup, comm))
		protected.Post("/channels/:channelUrl/stop", stopChannel(orch))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "mode": modeName(comm)})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	apps := []*fiber.App{app}
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("mode", modeName(comm)).Msg("server starting")
		return app.Listen(":" + cfg.Port)
	})

	if comm != nil {
		engineApp := fiber.New(fiber.Config{DisableStartupMessage: true})
		engineApp.Use(recover.New())
		remote.NewHandler(comm, linkKey).Register(engineApp)
		apps = append(apps, engineApp)

		g.Go(func() error {
			log.Info().Str("port", cfg.EnginePort).Msg("waiting for engine")
			return engineApp.Listen(":" + cfg.EnginePort)
		})
		g.Go(func() error {
			select {
			case err := <-comm.Failed():
				return err
			case <-ctx.Done():
				return nil
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		if comm != nil {
			comm.Close()
		}
		for _, a := range apps {
			if err := a.Shutdown(); err != nil {
				log.Warn().Err(err).Msg("http shutdown")
			}
		}
		return nil
	})

	err := g.Wait()
	killAll()
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
		logging.Close()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
	logging.Close()
}

func modeName(comm *remote.Communicator) string {
	if comm != nil {
		return "delegated"
	}
	return "local"
}
