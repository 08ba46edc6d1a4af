package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rizkirmdhn/beasiswa/internal/analysis"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/export"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/service"
	"github.com/rizkirmdhn/beasiswa/internal/store"
	"github.com/rizkirmdhn/beasiswa/internal/web/websocket"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

// Messages shown by the panel
const (
	msgNoMonths = "Pilih minimal satu bulan untuk di-scrape"
	msgRunning  = "Scraping sedang berjalan, tunggu hingga selesai"
	msgNoData   = "Data belum tersedia. Silakan jalankan scraper terlebih dahulu."
)

// Scraper runs one scrape to completion
type Scraper interface {
	Scrape(ctx context.Context, months []int, reporter service.Reporter) (*service.Summary, error)
}

type Handler struct {
	cfg      *config.Config
	log      *logger.ComponentLogger
	scraper  Scraper
	store    *store.Store
	wsHub    *websocket.Hub
	reporter service.Reporter
	gatherer prometheus.Gatherer

	// ctx bounds background scrapes; cancelled on shutdown
	ctx context.Context
	wg  sync.WaitGroup
}

// Options carries the optional parts of a Handler
type Options struct {
	// Reporter also receives progress, e.g. a broker publisher
	Reporter service.Reporter
	// Gatherer backs /metrics; defaults to the global registry
	Gatherer prometheus.Gatherer
}

// NewHandler creates the web panel handler. Scrapes started from the panel run until ctx is done.
func NewHandler(ctx context.Context, cfg *config.Config, log *logrus.Logger, scraper Scraper, st *store.Store, hub *websocket.Hub, opts Options) *Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		cfg:      cfg,
		log:      logger.NewComponentLogger(log, "web"),
		scraper:  scraper,
		store:    st,
		wsHub:    hub,
		reporter: opts.Reporter,
		gatherer: opts.Gatherer,
		ctx:      ctx,
	}
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.IndexHandler())
	r.GET("/ws", websocket.Handler(h.wsHub))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.POST("/scrape", h.StartScrapeHandler())
		api.GET("/status", h.StatusHandler())
		api.GET("/results", h.ResultsHandler())
		api.GET("/degrees", h.DegreesHandler())
		api.GET("/analysis", h.AnalysisHandler())
		api.GET("/export.csv", h.ExportHandler())
	}
}

// Wait blocks until background scrapes have returned
func (h *Handler) Wait() {
	h.wg.Wait()
}

// IndexHandler describes the panel
func (h *Handler) IndexHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":         "Scraper Beasiswa",
			"base_url":      h.cfg.Scraper.BaseURL,
			"months":        models.MonthNames[1:],
			"default_month": models.MonthName(models.DefaultMonth),
			"status":        h.store.Status().State,
		})
	}
}

// StartScrapeHandler starts a scrape in the background
func (h *Handler) StartScrapeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Months []string `json:"months"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		months, err := models.ParseMonths(req.Months)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(months) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgNoMonths})
			return
		}

		if err := h.store.Begin(months); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": msgRunning})
			return
		}

		h.wg.Add(1)
		go h.run(months)

		names := make([]string, len(months))
		for i, m := range months {
			names[i] = models.MonthName(m)
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message": "Scraping dimulai",
			"months":  names,
		})
		h.wsHub.BroadcastStatus("Scraping dimulai", "info")
	}
}

func (h *Handler) run(months []int) {
	defer h.wg.Done()

	reporter := service.MultiReporter{h.store, h.wsHub, h.reporter}
	summary, err := h.scraper.Scrape(h.ctx, months, reporter)
	if errors.Is(err, service.ErrBusy) {
		h.log.WithField("months", months).Warn("Scraper busy")
	}
	h.store.Finish(summary, err)

	st := h.store.Status()
	entry := h.log.WithFields(logrus.Fields{"months": months, "state": st.State})
	switch {
	case err != nil:
		entry.WithError(err).Error("Scrape from panel failed")
		h.wsHub.BroadcastStatus(err.Error(), string(st.State))
	case st.Empty:
		entry.Info("Scrape finished without records")
		h.wsHub.BroadcastStatus("Scraping selesai, tetapi tidak ada data yang ditemukan", string(st.State))
	default:
		entry.WithField("unique", len(summary.Records)).Info("Scrape from panel finished")
		h.wsHub.BroadcastStatus("Scraping selesai", string(st.State))
	}
}

// StatusHandler returns the current scrape state
func (h *Handler) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.store.Status())
	}
}

// selectedDegrees returns the degree filter and whether the request set one.
// Without a degree parameter every level is selected.
func selectedDegrees(c *gin.Context) ([]string, bool) {
	values, ok := c.GetQueryArray("degree")
	if !ok {
		return nil, false
	}
	selected := make([]string, 0, len(values))
	for _, v := range values {
		selected = append(selected, analysis.SplitDegrees(v)...)
	}
	return selected, true
}

// ResultsHandler returns the unique records, optionally filtered by degree
func (h *Handler) ResultsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records := h.store.Records()
		shown := records
		if selected, ok := selectedDegrees(c); ok {
			shown = analysis.FilterByDegrees(records, selected)
		}
		c.JSON(http.StatusOK, gin.H{
			"shown":   len(shown),
			"total":   len(records),
			"records": shown,
		})
	}
}

// DegreesHandler lists every degree level in the result set
func (h *Handler) DegreesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"degrees": analysis.Degrees(h.store.Records())})
	}
}

// AnalysisHandler filters by degree and returns the country and degree charts
func (h *Handler) AnalysisHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records := h.store.Records()
		if len(records) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": msgNoData})
			return
		}

		selected, ok := selectedDegrees(c)
		if !ok {
			selected = analysis.Degrees(records)
		}
		c.JSON(http.StatusOK, analysis.Analyze(records, selected))
	}
}

// ExportHandler downloads the result set as CSV
func (h *Handler) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.store.HasResult() {
			c.JSON(http.StatusNotFound, gin.H{"error": msgNoData})
			return
		}

		c.Header("Content-Disposition", `attachment; filename="`+h.cfg.Export.FileName+`"`)
		c.Header("Content-Type", export.ContentType)
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, h.store.Records()); err != nil {
			h.log.WithError(err).Error("Failed to write CSV export")
		}
	}
}
