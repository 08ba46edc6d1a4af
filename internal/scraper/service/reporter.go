package service

import (
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

// Reporter receives progress after every page and every month
type Reporter interface {
	Report(p models.Progress)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(p models.Progress)

func (f ReporterFunc) Report(p models.Progress) { f(p) }

// NopReporter drops every update
type NopReporter struct{}

func (NopReporter) Report(models.Progress) {}

// MultiReporter fans updates out to several reporters
type MultiReporter []Reporter

func (m MultiReporter) Report(p models.Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

// LogReporter writes progress to the log at debug level, warnings at warn level
type LogReporter struct {
	log *logger.ComponentLogger
}

func NewLogReporter(log *logrus.Logger) *LogReporter {
	return &LogReporter{log: logger.NewComponentLogger(log, "progress")}
}

func (r *LogReporter) Report(p models.Progress) {
	entry := r.log.WithFields(logrus.Fields{
		"run_id":        p.RunID,
		"status":        p.Status,
		"month":         p.Month,
		"page":          p.Page,
		"total_records": p.TotalRecords,
	})
	switch p.Status {
	case models.StatusWarning, models.StatusParseFailure, models.StatusFailed:
		entry.Warn(p.Message)
	default:
		entry.Debug(p.Message)
	}
}

// BrokerReporter publishes progress as ScrapLog messages on the scraper log routing key
type BrokerReporter struct {
	message  messaging.Client
	exchange string
	log      *logger.ComponentLogger
}

func NewBrokerReporter(msg messaging.Client, rabbitCfg *config.RabbitMQConfig, log *logrus.Logger) *BrokerReporter {
	return &BrokerReporter{
		message:  msg,
		exchange: rabbitCfg.Exchange,
		log:      logger.NewComponentLogger(log, "progress"),
	}
}

func (r *BrokerReporter) Report(p models.Progress) {
	scrapLog := models.ScrapLog{
		Status: p.Status,
		Data:   &p,
		Stats: &models.Stats{
			TotalPageScraped: p.PagesScraped,
			TotalRecords:     p.TotalRecords,
		},
	}
	if p.Status == models.StatusFailed || p.Status == models.StatusWarning {
		scrapLog.Error = p.Message
	}
	if err := r.message.PublishJSON(r.exchange, config.RoutingLogScraper, scrapLog); err != nil {
		r.log.WithError(err).Warn("Failed to publish scraper log")
	}
}
