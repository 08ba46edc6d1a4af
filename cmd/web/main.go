package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/internal/common/metrics"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/service"
	"github.com/rizkirmdhn/beasiswa/internal/store"
	"github.com/rizkirmdhn/beasiswa/internal/web/handler"
	"github.com/rizkirmdhn/beasiswa/internal/web/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(cfg)

	log.WithFields(logrus.Fields{
		"component": "web_main",
		"config":    fmt.Sprintf("%+v", cfg.WebPanel),
	}).Debug("Web panel configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The panel drives its own browser; the broker only mirrors progress when configured
	var opts handler.Options
	if cfg.RabbitMq.Enabled() {
		msgClient, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
		if err != nil {
			log.WithFields(logrus.Fields{
				"component": "web_main",
				"error":     err,
			}).Fatal("Failed to create RabbitMQ client")
		}
		defer msgClient.Close()
		opts.Reporter = service.NewBrokerReporter(msgClient, cfg.GetRabbitMQConfig(), log)
	}

	manager := browser.NewManager(cfg.GetScraperConfig(), log)
	defer manager.Close()

	scraper := service.NewScraperService(cfg.GetScraperConfig(), manager, metrics.New(prometheus.DefaultRegisterer), log)

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	// Check environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the gin router
	r := gin.Default()

	h := handler.NewHandler(ctx, cfg, log, scraper, store.New(), hub, opts)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.WebPanel.Port),
		Handler: r,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"component": "web_main",
			"port":      cfg.WebPanel.Port,
			"strategy":  manager.Strategy().Name(),
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logrus.Fields{
				"component": "web_main",
				"error":     err,
			}).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.WithField("component", "web_main").Info("Received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("component", "web_main").WithError(err).Warn("Server shutdown incomplete")
	}
	h.Wait()

	log.WithField("component", "web_main").Info("Web panel stopped")
}
