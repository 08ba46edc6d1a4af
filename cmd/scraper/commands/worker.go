package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/internal/common/metrics"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var metricsAddr string

func init() {
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9100)")
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker [--metrics-addr :9100]",
	Short: "Consumes scrape commands from RabbitMQ and publishes progress and results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if !cfg.RabbitMq.Enabled() {
			return errors.New("rabbitmq.url is required for the worker")
		}

		messagingClient, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
		if err != nil {
			log.WithFields(logrus.Fields{
				"component": "scraper_main",
				"error":     err,
			}).Fatal("Failed to create RabbitMQ client")
		}
		defer messagingClient.Close()

		manager := browser.NewManager(cfg.GetScraperConfig(), log)
		defer manager.Close()

		scraper := service.NewScraperService(cfg.GetScraperConfig(), manager, metrics.New(prometheus.DefaultRegisterer), log)
		worker := service.NewWorker(scraper, cfg.GetRabbitMQConfig(), messagingClient, log)

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithField("component", "scraper_main").WithError(err).Error("Metrics server stopped")
				}
			}()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
		}

		if err := worker.Start(); err != nil {
			log.WithFields(logrus.Fields{
				"component": "scraper_main",
				"error":     err,
			}).Fatal("Failed to start scraper worker")
		}
		log.WithFields(logrus.Fields{
			"component": "scraper_main",
			"strategy":  manager.Strategy().Name(),
		}).Info("Scraper worker started successfully")

		// main cancels the command context on SIGINT or SIGTERM
		<-cmd.Context().Done()

		log.WithField("component", "scraper_main").Info("Received signal, shutting down")
		worker.Stop()
		return nil
	},
}
