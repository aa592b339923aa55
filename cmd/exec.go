package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ticket-verifier/config"
	"ticket-verifier/handlers"
	"ticket-verifier/internal/verification"
	"ticket-verifier/monitoring"
	"ticket-verifier/security"
	"ticket-verifier/services"
	"ticket-verifier/utils"

	_ "ticket-verifier/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Ticket backend
	authorityClient, breaker, err := NewAuthority(cfg)
	if err != nil {
		return err
	}

	// Initialize Redis for the manual entry limiter
	var redisClient *redis.Client
	var limiter verification.Limiter
	if cfg.RedisURL != "" {
		redisClient, err = utils.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		limiter = security.NewManualEntryLimiter(redisClient, cfg.ManualEntryLimit, cfg.ManualEntryWindow)
	} else {
		log.Println("REDIS_URL not set, manual entry is not rate limited")
	}

	// Outcome observers
	journal := services.NewJournal(app)
	observers := []verification.Observer{journal}

	var feed *services.GateFeed
	if pub := services.NewPubNubPublisher(cfg); pub != nil {
		feed = services.NewGateFeed(pub, 256)
		observers = append(observers, feed)
	} else {
		log.Println("PUBNUB_PUBLISH_KEY not set, gate feed disabled")
	}

	sessions := verification.NewManager(verification.ManagerConfig{
		Lookup:       authorityClient,
		Verifier:     authorityClient,
		Scanner:      NewScannerFactory(cfg),
		Limiter:      limiter,
		Observers:    observers,
		IdleTTL:      cfg.SessionIdleTTL,
		DefaultToken: cfg.AuthorityToken,
	})
	verificationHandler := handlers.NewVerificationHandler(sessions, journal)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	// Start background tasks
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sessions.Run(ctx) })
	if feed != nil {
		g.Go(func() error { return feed.Run(gctx) })
	}
	if cfg.EnableMetrics {
		g.Go(func() error {
			log.Printf("Metrics listening on :%s", cfg.MetricsPort)
			return monitoring.Serve(gctx, cfg.MetricsPort)
		})
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		verificationHandler.Register(e.Router)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			body := map[string]string{
				"status":    "healthy",
				"authority": breaker.State().String(),
			}
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					body["status"] = "unhealthy"
					body["error"] = err.Error()
					return e.JSON(503, body)
				}
			}
			return e.JSON(200, body)
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		return e.Next()
	})

	// Serve on the configured port unless a subcommand was given
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve", "--http=0.0.0.0:"+cfg.Port)
	}

	// Start server
	startErr := app.Start()
	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("Background task failed: %v", err)
	}
	return startErr
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
