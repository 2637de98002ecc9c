package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barsync-go/config"
	"barsync-go/internal/api/handlers"
	"barsync-go/internal/api/middleware"
	"barsync-go/internal/db"
	"barsync-go/internal/identity"
	"barsync-go/internal/integrations/mqtt"
	"barsync-go/internal/logger"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"
	"barsync-go/internal/server/sse"
	"barsync-go/internal/services/cleanup"
	"barsync-go/internal/services/intake"
	"barsync-go/internal/services/syncer"
	"barsync-go/internal/status"
	"barsync-go/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	log.Info("Initializing database...")
	gormDB, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete.")

	opStore := store.NewGormStore(gormDB)
	opQueue := queue.New(opStore)

	remoteClient := remote.NewClient(cfg.Remote)
	classifier := network.NewClassifier(cfg.Network, remoteClient)
	classifier.Start()
	defer classifier.Stop()

	scheduler := syncer.NewRetryScheduler(cfg.Sync)
	engine := syncer.NewEngine(opQueue, classifier, scheduler, remoteClient, cfg.Sync, cfg.Remote.BackgroundTimeout)
	engine.Start()
	defer engine.Stop()

	aggregator := status.NewAggregator(opQueue, classifier, engine)
	defer aggregator.Close()

	hub := sse.NewHub()
	go hub.Run()
	aggregator.Subscribe(hub.BroadcastStatus)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer mqttClient.Stop()
			publisher := mqtt.NewStatusPublisher(mqttClient, cfg.MQTT)
			publisher.Attach(aggregator)
			defer publisher.Detach()
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	cleanupService := cleanup.NewCleanupService(opQueue, cfg.Cleanup)
	go cleanupService.Start(cleanupCtx)

	idRouter := identity.NewRouter(cfg.Session)
	intakeService := intake.NewService(opQueue, classifier, remoteClient, cfg.Remote, cfg.Venue)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	sessionStore := cookie.NewStore([]byte(cfg.Session.Secret))
	router.Use(sessions.Sessions(cfg.Session.CookieName, sessionStore))
	router.Use(middleware.I18n(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	}))

	api := router.Group("/api")
	handlers.NewOperationHandler(opQueue, intakeService, idRouter).RegisterRoutes(api)
	handlers.NewSyncHandler(engine, aggregator, classifier, opQueue, hub).RegisterRoutes(api)
	handlers.NewSessionHandler(idRouter).RegisterRoutes(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
}
