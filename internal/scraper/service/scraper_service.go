package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/common/metrics"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/paginator"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoMonths is returned when a scrape is requested without any month
	ErrNoMonths = errors.New("select at least one month")
	// ErrBusy is returned while another scrape holds the browser
	ErrBusy = errors.New("a scrape is already running")
)

// SessionProvider hands out the shared browser tab
type SessionProvider interface {
	Page(ctx context.Context) (paginator.Page, error)
}

// MonthSummary describes how one month went
type MonthSummary struct {
	Month   int               `json:"month"`
	Name    string            `json:"name"`
	Pages   int               `json:"pages"`
	Records int               `json:"records"`
	Outcome paginator.Outcome `json:"outcome"`
	Warning string            `json:"warning,omitempty"`
}

// Summary is the result of a complete run
type Summary struct {
	RunID        string               `json:"run_id"`
	Months       []MonthSummary       `json:"months"`
	Pages        int                  `json:"pages"`
	TotalRecords int                  `json:"total_records"`
	Records      []models.Scholarship `json:"records"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// Stats converts the summary into the wire stats
func (s *Summary) Stats() models.Stats {
	return models.Stats{
		TotalPageScraped: s.Pages,
		TotalRecords:     s.TotalRecords,
		UniqueRecords:    len(s.Records),
	}
}

// ScraperService runs scrapes over the shared browser session, one at a time
type ScraperService struct {
	config   *config.ScraperConfig
	sessions SessionProvider
	metrics  *metrics.Metrics
	log      *logger.ComponentLogger
	raw      *logrus.Logger
	mu       sync.Mutex
}

// NewScraperService creates a new ScraperService
func NewScraperService(cfg *config.ScraperConfig, sessions SessionProvider, m *metrics.Metrics, log *logrus.Logger) *ScraperService {
	return &ScraperService{
		config:   cfg,
		sessions: sessions,
		metrics:  m,
		log:      logger.NewComponentLogger(log, "scraper"),
		raw:      log,
	}
}

func (s *ScraperService) driverOptions() paginator.Options {
	return paginator.Options{
		BaseURL:      s.config.BaseURL,
		WaitTimeout:  s.config.WaitTimeout,
		SettleDelay:  s.config.SettleDelay,
		PollInterval: s.config.PollInterval,
		MaxPages:     s.config.MaxPages,
	}
}

// Scrape walks every month in order, then deduplicates the records by link.
// The session is acquired once; failing to get it aborts the run with a
// *browser.SessionInitError and no records. A month that fails midway only costs a
// warning. reporter may be nil.
func (s *ScraperService) Scrape(ctx context.Context, months []int, reporter Reporter) (*Summary, error) {
	if len(months) == 0 {
		return nil, ErrNoMonths
	}
	for _, m := range months {
		if models.MonthName(m) == "" {
			return nil, fmt.Errorf("month %d out of range 1-12", m)
		}
	}
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()

	if reporter == nil {
		reporter = NopReporter{}
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		Months:    make([]MonthSummary, 0, len(months)),
		StartedAt: time.Now(),
	}
	entry := s.log.WithFields(logrus.Fields{"run_id": summary.RunID, "months": months})
	entry.Info("Preparing browser")

	page, err := s.sessions.Page(ctx)
	if err != nil {
		s.metrics.SessionFailures.Inc()
		var initErr *browser.SessionInitError
		if errors.As(err, &initErr) {
			entry.WithField("detail", initErr.Detail()).Error("Browser could not be started, scrape aborted")
		} else {
			entry.WithError(err).Error("Browser could not be started, scrape aborted")
		}
		reporter.Report(models.Progress{
			RunID:   summary.RunID,
			Status:  models.StatusFailed,
			Message: err.Error(),
		})
		return nil, err
	}

	driver := paginator.New(page, s.driverOptions(), s.raw)
	var all []models.Scholarship

	for _, month := range months {
		name := models.MonthName(month)
		label := strconv.Itoa(month)
		monthEntry := entry.WithFields(logrus.Fields{"month": month, "month_name": name})
		monthEntry.Info("Scraping month")

		res, err := driver.Scrape(ctx, month, func(r paginator.PageReport) {
			s.metrics.PagesScraped.WithLabelValues(label).Inc()
			s.metrics.RecordsExtracted.WithLabelValues(label).Add(float64(r.PageRecords))
			s.metrics.CardsSkipped.Add(float64(r.Skipped))
			reporter.Report(models.Progress{
				RunID:        summary.RunID,
				Month:        month,
				MonthName:    name,
				Page:         r.Page,
				PageRecords:  r.PageRecords,
				MonthRecords: r.MonthRecords,
				TotalRecords: len(all) + r.MonthRecords,
				PagesScraped: summary.Pages + r.Page,
				Status:       models.StatusPage,
				Message:      fmt.Sprintf("Halaman %d berhasil di-scrape. Total data: %d", r.Page, r.MonthRecords),
			})
		})

		all = append(all, res.Records...)
		summary.Pages += res.Pages
		s.metrics.MonthOutcomes.WithLabelValues(string(res.Outcome)).Inc()

		ms := MonthSummary{
			Month:   month,
			Name:    name,
			Pages:   res.Pages,
			Records: len(res.Records),
			Outcome: res.Outcome,
		}
		progress := models.Progress{
			RunID:        summary.RunID,
			Month:        month,
			MonthName:    name,
			Page:         res.Pages,
			MonthRecords: len(res.Records),
			TotalRecords: len(all),
			PagesScraped: summary.Pages,
			Status:       models.StatusMonthDone,
		}

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ms.Warning = err.Error()
			progress.Status = models.StatusWarning
			progress.Message = "Error saat pindah halaman: " + err.Error()
			monthEntry.WithError(err).Warn("Month stopped early, continuing with the next month")
		case res.Outcome == paginator.OutcomeNoData:
			progress.Status = models.StatusNoData
			progress.Message = "Tidak ada data beasiswa yang ditemukan untuk bulan ini"
		case res.Outcome == paginator.OutcomeParseFailure:
			progress.Status = models.StatusParseFailure
			progress.Message = "Gagal mem-parsing kartu apa pun dari halaman"
		default:
			progress.Message = fmt.Sprintf("Scraping %s selesai, %d data ditemukan", name, len(res.Records))
		}

		summary.Months = append(summary.Months, ms)
		reporter.Report(progress)
	}

	summary.TotalRecords = len(all)
	summary.Records = models.Dedupe(all)
	summary.FinishedAt = time.Now()
	s.metrics.ObserveRun(summary.StartedAt, len(summary.Records))

	entry.WithFields(logrus.Fields{
		"pages":   summary.Pages,
		"total":   summary.TotalRecords,
		"unique":  len(summary.Records),
		"elapsed": summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("Scraping complete")

	reporter.Report(models.Progress{
		RunID:        summary.RunID,
		TotalRecords: len(summary.Records),
		PagesScraped: summary.Pages,
		Status:       models.StatusCompleted,
		Message:      fmt.Sprintf("Scraping selesai! %d beasiswa unik ditemukan", len(summary.Records)),
	})

	return summary, nil
}
