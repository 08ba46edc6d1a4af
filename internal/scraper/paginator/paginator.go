// Package paginator walks one month of the scholarship listing page by page.
package paginator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/extractor"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

// State is a step of the pagination protocol
type State string

const (
	StateLoading         State = "LOADING"
	StateWaitingForCards State = "WAITING_FOR_CARDS"
	StateExtracting      State = "EXTRACTING"
	StateSeekingNext     State = "SEEKING_NEXT"
	StateNavigating      State = "NAVIGATING"
	StateDone            State = "DONE"
)

// Outcome explains why a month finished
type Outcome string

const (
	// OutcomeEndOfPages is the normal end: no next control, or the page never changed
	OutcomeEndOfPages Outcome = "end_of_pages"
	// OutcomeNoData means the first page never showed a card
	OutcomeNoData Outcome = "no_data"
	// OutcomeParseFailure means the first page showed cards but none decoded
	OutcomeParseFailure Outcome = "parse_failure"
	// OutcomeMaxPages means the page limit stopped the walk
	OutcomeMaxPages Outcome = "max_pages"
	// OutcomeError means the browser failed unexpectedly; records so far are kept
	OutcomeError Outcome = "navigation_error"
)

// Default timings of the listing site
const (
	DefaultWaitTimeout  = 25 * time.Second
	DefaultSettleDelay  = 2 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultMaxPages     = 200
)

// UnexpectedNavigationError is any browser failure that is not a normal end of pagination
type UnexpectedNavigationError struct {
	Month int
	Page  int
	State State
	Err   error
}

func (e *UnexpectedNavigationError) Error() string {
	return fmt.Sprintf("month %d page %d (%s): %v", e.Month, e.Page, e.State, e.Err)
}

func (e *UnexpectedNavigationError) Unwrap() error {
	return e.Err
}

// Options tune the driver. Zero values fall back to the defaults.
type Options struct {
	BaseURL      string
	WaitTimeout  time.Duration
	SettleDelay  time.Duration
	PollInterval time.Duration
	MaxPages     int
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// PageReport is passed to the page callback after each extracted page
type PageReport struct {
	Month        int
	Page         int
	PageRecords  int
	MonthRecords int
	Skipped      int
}

// Result is what one month produced
type Result struct {
	Month   int
	Records []models.Scholarship
	Pages   int
	Skipped int
	Outcome Outcome
}

// Driver runs the pagination protocol against a Page
type Driver struct {
	page Page
	opts Options
	log  *logger.ComponentLogger
}

// New creates a Driver
func New(page Page, opts Options, log *logrus.Logger) *Driver {
	return &Driver{
		page: page,
		opts: opts.withDefaults(),
		log:  logger.NewComponentLogger(log, "paginator"),
	}
}

// MonthURL appends the month parameter to the listing base URL
func MonthURL(base string, month int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("month", strconv.Itoa(month))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Scrape walks every page of month and returns the records in page order.
// onPage may be nil. A non-nil error is always an *UnexpectedNavigationError and comes
// with the records collected before the failure.
func (d *Driver) Scrape(ctx context.Context, month int, onPage func(PageReport)) (Result, error) {
	res := Result{Month: month, Records: []models.Scholarship{}}
	pageNum := 1
	state := StateLoading

	var sentinel Sentinel

	fail := func(err error) (Result, error) {
		res.Outcome = OutcomeError
		return res, &UnexpectedNavigationError{Month: month, Page: pageNum, State: state, Err: err}
	}

	for state != StateDone {
		entry := d.log.WithFields(logrus.Fields{"month": month, "page": pageNum, "state": state})

		switch state {
		case StateLoading:
			target, err := MonthURL(d.opts.BaseURL, month)
			if err != nil {
				return fail(err)
			}
			entry.WithField("url", target).Info("Loading listing")
			if err := d.page.Navigate(ctx, target); err != nil {
				return fail(err)
			}
			state = StateWaitingForCards

		case StateWaitingForCards:
			entry.Debug("Waiting for cards")
			err := WaitUntil(ctx, d.page.CardPresent, d.opts.WaitTimeout, d.opts.PollInterval)
			if errors.Is(err, ErrWaitTimeout) {
				if pageNum == 1 {
					entry.Info("No scholarship data for this month (timeout)")
					res.Outcome = OutcomeNoData
				} else {
					entry.Info("Cards never appeared, treating as last page")
					res.Outcome = OutcomeEndOfPages
				}
				state = StateDone
				continue
			}
			if err != nil {
				return fail(err)
			}
			if err := sleep(ctx, d.opts.SettleDelay); err != nil {
				return fail(err)
			}
			state = StateExtracting

		case StateExtracting:
			markup, err := d.page.HTML(ctx)
			if err != nil {
				return fail(err)
			}
			records, stats := extractor.ExtractWithStats(markup)
			res.Skipped += stats.Skipped
			if len(records) == 0 {
				if pageNum == 1 {
					entry.WithField("candidates", stats.Candidates).Warn("Failed to parse any card from the page")
					res.Outcome = OutcomeParseFailure
				} else {
					entry.Warn("Page rendered without scholarship cards, stopping")
					res.Outcome = OutcomeEndOfPages
				}
				state = StateDone
				continue
			}

			res.Records = append(res.Records, records...)
			res.Pages = pageNum
			entry.WithFields(logrus.Fields{
				"records": len(records),
				"skipped": stats.Skipped,
				"total":   len(res.Records),
			}).Info("Page scraped")
			if onPage != nil {
				onPage(PageReport{
					Month:        month,
					Page:         pageNum,
					PageRecords:  len(records),
					MonthRecords: len(res.Records),
					Skipped:      stats.Skipped,
				})
			}
			state = StateSeekingNext

		case StateSeekingNext:
			if pageNum >= d.opts.MaxPages {
				entry.WithField("max_pages", d.opts.MaxPages).Warn("Page limit reached")
				res.Outcome = OutcomeMaxPages
				state = StateDone
				continue
			}
			hasNext, err := d.page.NextButton(ctx)
			if err != nil {
				return fail(err)
			}
			if !hasNext {
				entry.Info("Reached the last page")
				res.Outcome = OutcomeEndOfPages
				state = StateDone
				continue
			}
			sentinel, err = d.page.FirstCard(ctx)
			if errors.Is(err, ErrElementNotFound) {
				res.Outcome = OutcomeEndOfPages
				state = StateDone
				continue
			}
			if err != nil {
				return fail(err)
			}
			state = StateNavigating

		case StateNavigating:
			err := d.page.ClickNext(ctx)
			if errors.Is(err, ErrElementNotFound) {
				entry.Info("Next control vanished, treating as last page")
				res.Outcome = OutcomeEndOfPages
				state = StateDone
				continue
			}
			if err != nil {
				return fail(err)
			}

			err = WaitUntil(ctx, func(ctx context.Context) (bool, error) {
				return d.page.IsStale(ctx, sentinel)
			}, d.opts.WaitTimeout, d.opts.PollInterval)
			if errors.Is(err, ErrWaitTimeout) {
				entry.Info("Page did not change after next, treating as last page")
				res.Outcome = OutcomeEndOfPages
				state = StateDone
				continue
			}
			if err != nil {
				return fail(err)
			}
			pageNum++
			state = StateWaitingForCards
		}
	}

	d.log.WithFields(logrus.Fields{
		"month":   month,
		"pages":   res.Pages,
		"records": len(res.Records),
		"outcome": res.Outcome,
	}).Info("Month finished")
	return res, nil
}
