package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

// Worker takes scrape commands from RabbitMQ and publishes progress and results back
type Worker struct {
	scraper   *ScraperService
	rabbitCfg *config.RabbitMQConfig
	message   messaging.Client
	reporter  Reporter
	log       *logger.ComponentLogger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	stopped    bool
	runCancel  context.CancelFunc
	runSeq     uint64
	wg         sync.WaitGroup
}

// NewWorker creates a Worker
func NewWorker(scraper *ScraperService, rabbitCfg *config.RabbitMQConfig, msg messaging.Client, log *logrus.Logger) *Worker {
	return &Worker{
		scraper:   scraper,
		rabbitCfg: rabbitCfg,
		message:   msg,
		reporter:  MultiReporter{NewLogReporter(log), NewBrokerReporter(msg, rabbitCfg, log)},
		log:       logger.NewComponentLogger(log, "worker"),
	}
}

// Start declares the command queue and begins consuming
func (w *Worker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelFunc = cancel
	w.mu.Unlock()

	if err := w.setupMessaging(); err != nil {
		cancel()
		return fmt.Errorf("failed to set up messaging: %w", err)
	}

	return w.message.ConsumeWithContext(ctx, w.rabbitCfg.Queue.Scraper, func(msg []byte, routingKey string) error {
		return w.handleCommand(msg)
	})
}

// Stop cancels a running scrape and waits for it to return. Start commands that arrive
// afterwards are ignored.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	if w.cancelFunc != nil {
		w.cancelFunc()
		w.cancelFunc = nil
	}
	if w.runCancel != nil {
		w.runCancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Entry().Info("Scraper worker stopped gracefully")
}

func (w *Worker) setupMessaging() error {
	queue := w.rabbitCfg.Queue.Scraper
	if err := w.message.DeclareQueue(queue); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := w.message.BindQueue(queue, w.rabbitCfg.Exchange, config.RoutingCommandScraper); err != nil {
		return fmt.Errorf("failed to bind queue %s to exchange %s with key %s: %w",
			queue, w.rabbitCfg.Exchange, config.RoutingCommandScraper, err)
	}
	return nil
}

// handleCommand processes incoming commands
func (w *Worker) handleCommand(msg []byte) error {
	var command models.ScrapingCommand
	if err := json.Unmarshal(msg, &command); err != nil {
		// A malformed command would be requeued forever, so drop it
		w.log.WithError(err).Error("Discarding malformed command")
		return nil
	}

	w.log.WithFields(logrus.Fields{
		"action": command.Action,
		"months": command.Data.Months,
	}).Info("Received command")

	switch command.Action {
	case models.StartScrapingAction:
		months := command.Data.Months
		if len(months) == 0 {
			months = []int{models.DefaultMonth}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			w.log.WithField("months", months).Warn("Worker is stopping, start command ignored")
			return nil
		}
		if w.runCancel != nil {
			w.log.WithField("months", months).Warn("Scrape already running, start command ignored")
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		w.runSeq++
		seq := w.runSeq
		w.runCancel = cancel

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.finishRun(seq, cancel)
			w.run(ctx, months)
		}()
		return nil

	case models.StopScrapingAction:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.runCancel == nil {
			w.log.WithField("status", "idle").Info("No scraping processes are running")
			return nil
		}
		// finishRun frees the slot once the run returns
		w.runCancel()
		w.log.WithField("status", "stopping").Info("Stopping the running scrape")
		return nil

	default:
		w.log.WithField("action", command.Action).Warn("Unknown command")
		return nil
	}
}

// finishRun releases the run slot if it still belongs to run seq
func (w *Worker) finishRun(seq uint64, cancel context.CancelFunc) {
	cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runSeq == seq {
		w.runCancel = nil
	}
}

// Running reports whether a scrape started by a command is still in progress
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runCancel != nil
}

func (w *Worker) run(ctx context.Context, months []int) {
	summary, err := w.scraper.Scrape(ctx, months, w.reporter)
	switch {
	case errors.Is(err, ErrBusy):
		w.log.WithField("months", months).Warn("Scrape already running, command ignored")
		return
	case errors.Is(err, context.Canceled):
		w.log.WithField("months", months).Info("Scrape cancelled")
		return
	case err != nil:
		w.log.WithError(err).Error("Scrape failed")
		return
	}

	result := models.ScrapResult{
		RunID:   summary.RunID,
		Months:  months,
		Stats:   summary.Stats(),
		Records: summary.Records,
	}
	if err := w.message.PublishJSON(w.rabbitCfg.Exchange, config.RoutingResultScraper, result); err != nil {
		w.log.WithError(err).Error("Failed to publish scrape result")
	}
}
