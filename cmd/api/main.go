package main

//go:generate swag init -d ../.. -g cmd/api/main.go -o ../../docs/swagger --outputTypes go

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"handoff-coordinator/internal/core/cache"
	"handoff-coordinator/internal/core/config"
	"handoff-coordinator/internal/core/logger"
	"handoff-coordinator/internal/core/metrics"
	"handoff-coordinator/internal/core/postgres"
	"handoff-coordinator/internal/core/server"
	confirmationadapter "handoff-coordinator/internal/features/confirmations/adapters"
	confirmationhandler "handoff-coordinator/internal/features/confirmations/handler"
	confirmationservice "handoff-coordinator/internal/features/confirmations/service"
	deliveryadapter "handoff-coordinator/internal/features/deliveries/adapters"
	deliveryhandler "handoff-coordinator/internal/features/deliveries/handler"
	deliveryports "handoff-coordinator/internal/features/deliveries/ports"
	deliveryservice "handoff-coordinator/internal/features/deliveries/service"
	locationadapter "handoff-coordinator/internal/features/location/adapters"
	locationhandler "handoff-coordinator/internal/features/location/handler"
	locationservice "handoff-coordinator/internal/features/location/service"
	routingadapter "handoff-coordinator/internal/features/routing/adapters"
	routinghandler "handoff-coordinator/internal/features/routing/handler"
	routingports "handoff-coordinator/internal/features/routing/ports"
	routingservice "handoff-coordinator/internal/features/routing/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

// @title Handoff Coordinator API
// @version 1.0
// @description Coordinates donation hand-offs: delivery lifecycle, operator location tracking and route planning.
// @contact.name API Support
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		l.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Shared cache and pub/sub
	redisAdapter, err := cache.NewRedisAdapter(cfg.Redis.URL)
	if err != nil {
		l.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisAdapter.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = redisAdapter.Ping(pingCtx)
	cancelPing()
	if err != nil {
		l.Fatal("Redis Health Check Failed", zap.Error(err))
	}
	l.Info("Redis connection verified")

	// Delivery store
	var (
		repo deliveryports.Repository
		pool *pgxpool.Pool
	)
	if cfg.Database.URL != "" {
		pool, err = postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			l.Fatal("Postgres connection failed", zap.Error(err))
		}
		defer pool.Close()

		pgRepo := deliveryadapter.NewPostgresRepository(pool)
		if err := pgRepo.InitSchema(ctx); err != nil {
			l.Fatal("Failed to initialize delivery schema", zap.Error(err))
		}
		repo = pgRepo
		l.Info("Postgres delivery store ready")
	} else {
		repo = deliveryadapter.NewMemoryRepository()
		l.Warn("DATABASE_URL not set, deliveries are kept in memory")
	}

	// Confirmations
	confirmationStore := confirmationadapter.NewRedisConfirmationStore(redisAdapter)
	confirmationSvc := confirmationservice.NewConfirmationService(confirmationStore, cfg.ConfirmationTTL, logger.Named("confirmations"))
	confirmationHdl := confirmationhandler.NewConfirmationHandler(confirmationSvc)

	// Deliveries
	deliverySvc := deliveryservice.NewDeliveryService(
		repo,
		deliveryadapter.NewConfirmationRequester(confirmationSvc),
		cfg.HookTimeout,
		rec,
		logger.Named("deliveries"),
	)
	deliveryHdl := deliveryhandler.NewDeliveryHandler(deliverySvc)

	// Location platform: fixes arrive over HTTP and, when configured, MQTT.
	hub := locationadapter.NewHub()
	defer hub.Close()

	if cfg.MQTT.Broker != "" {
		mqttSource, err := locationadapter.NewMQTTSource(locationadapter.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, hub, rec, logger.Named("mqtt"))
		if err != nil {
			l.Fatal("MQTT connection failed", zap.Error(err))
		}
		defer mqttSource.Close()
		l.Info("MQTT location source connected", zap.String("broker", cfg.MQTT.Broker))
	}

	tracker := locationservice.NewTracker(hub, deliverySvc, locationservice.Config{
		FixTimeout:              cfg.Tracker.FixTimeout,
		AccuracyThresholdMeters: cfg.Tracker.AccuracyThresholdMeters,
		MaxFixAge:               cfg.Tracker.MaxFixAge,
	}, logger.Named("tracker"))
	sessions := locationservice.NewSessions(tracker, locationadapter.NewRedisFixBroadcaster(redisAdapter), logger.Named("sessions"))
	defer sessions.Close()
	locationHdl := locationhandler.NewLocationHandler(tracker, hub, rec)

	// Post-transition hooks
	deliverySvc.RegisterHook(deliveryadapter.NewEventPublisher(redisAdapter))
	deliverySvc.RegisterHook(deliveryadapter.NewTrackingHook(sessions, repo))

	// A revocation ends the operator's watch; granting again resumes it.
	hub.OnGrant(func(operatorID string) {
		grantCtx, cancel := context.WithTimeout(context.Background(), cfg.HookTimeout)
		defer cancel()
		resumed, err := deliveryadapter.ResumeOperator(grantCtx, repo, sessions, operatorID)
		if err != nil {
			l.Error("Failed to resume tracking after permission grant",
				zap.String("operator_id", operatorID),
				zap.Error(err),
			)
			return
		}
		if resumed {
			l.Info("Tracking resumed after permission grant", zap.String("operator_id", operatorID))
		}
	})

	resumed, err := deliveryadapter.ResumeSessions(ctx, repo, sessions)
	if err != nil {
		l.Error("Failed to resume tracking sessions", zap.Error(err))
	} else {
		l.Info("Tracking sessions resumed", zap.Int("count", resumed))
	}

	// A confirmation older than its TTL would have expired anyway.
	var reconcileSince time.Time
	if cfg.ConfirmationTTL > 0 {
		reconcileSince = time.Now().Add(-cfg.ConfirmationTTL)
	}
	reconciled, err := deliverySvc.ReconcileConfirmations(ctx, reconcileSince)
	if err != nil {
		l.Error("Failed to reconcile confirmations", zap.Error(err))
	} else {
		l.Info("Confirmations reconciled", zap.Int("count", reconciled))
	}

	// Routing
	var (
		provider routingports.DirectionsProvider
		geocoder routingports.Geocoder
	)
	if cfg.Directions.APIKey != "" {
		maps := routingadapter.NewGoogleMaps(routingadapter.GoogleMapsConfig{
			APIKey:  cfg.Directions.APIKey,
			BaseURL: cfg.Directions.BaseURL,
			Timeout: cfg.Directions.Timeout,
		})
		provider = maps
		geocoder = routingadapter.NewCachedGeocoder(maps, redisAdapter, cfg.Planner.GeocodeCacheTTL, logger.Named("geocoder"))
	} else {
		l.Warn("DIRECTIONS_API_KEY not set, routes are planned with the local fallback only")
	}

	planner := routingservice.NewPlanner(provider, routingadapter.NewRedisRouteCache(redisAdapter), routingservice.Config{
		AverageSpeedKPH: cfg.Planner.AverageSpeedKPH,
		CacheTTL:        cfg.Planner.RouteCacheTTL,
		Timeout:         cfg.Planner.PlanTimeout,
	}, rec, logger.Named("planner"))
	routeHdl := routinghandler.NewRouteHandler(
		planner,
		routingadapter.NewDeliveryStops(deliverySvc),
		routingadapter.NewTrackerOrigin(tracker),
		geocoder,
	)

	srv := server.New(cfg, prometheus.DefaultGatherer)
	srv.AddHealthCheck("redis", redisAdapter.Ping)
	if pool != nil {
		srv.AddHealthCheck("postgres", pool.Ping)
	}

	// Register Routes
	srv.App.Post("/deliveries", deliveryHdl.CreateDelivery)
	srv.App.Get("/deliveries/:id", deliveryHdl.GetDelivery)
	srv.App.Post("/deliveries/:id/start", deliveryHdl.Start)
	srv.App.Post("/deliveries/:id/arrive", deliveryHdl.Arrive)
	srv.App.Post("/deliveries/:id/complete", deliveryHdl.Complete)
	srv.App.Post("/deliveries/:id/cancel", deliveryHdl.Cancel)
	srv.App.Get("/deliveries/:id/confirmation", confirmationHdl.GetConfirmation)
	srv.App.Post("/deliveries/:id/confirmation/resolve", confirmationHdl.ResolveConfirmation)

	srv.App.Get("/operators/:id/deliveries", deliveryHdl.ListOperatorDeliveries)
	srv.App.Post("/operators/:id/fixes", locationHdl.PostFix)
	srv.App.Get("/operators/:id/location", locationHdl.GetLocation)
	srv.App.Put("/operators/:id/location-permission", locationHdl.SetPermission)
	srv.App.Post("/operators/:id/route", routeHdl.PlanRoute)

	srv.App.Get("/geocode", routeHdl.Geocode)
	srv.App.Get("/geocode/reverse", routeHdl.ReverseGeocode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			l.Error("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		l.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error("Server shutdown failed", zap.Error(err))
		}
	}
}
