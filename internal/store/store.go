// Package store keeps the latest scrape result and its status in memory.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/service"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
)

// State of the most recent scrape request
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateUnavailable State = "unavailable"
	StateFailed      State = "failed"
)

// ErrRunning is returned by Begin while a scrape is in progress
var ErrRunning = errors.New("scrape in progress")

// Status is a point-in-time view of the store
type Status struct {
	State      State                  `json:"state"`
	Months     []int                  `json:"months,omitempty"`
	Progress   *models.Progress       `json:"progress,omitempty"`
	Fraction   float64                `json:"fraction"`
	Error      string                 `json:"error,omitempty"`
	Empty      bool                   `json:"empty"`
	Stats      *models.Stats          `json:"stats,omitempty"`
	MonthsDone []service.MonthSummary `json:"months_done,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// Store holds one result set, replaced by each new scrape
type Store struct {
	mu       sync.RWMutex
	state    State
	months   []int
	progress *models.Progress
	summary  *service.Summary
	err      string
	started  time.Time
	finished time.Time
}

var _ service.Reporter = (*Store)(nil)

// New creates an idle store
func New() *Store {
	return &Store{state: StateIdle}
}

// Begin marks a new scrape as running. The previous result stays readable until Finish.
func (s *Store) Begin(months []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrRunning
	}
	s.state = StateRunning
	s.months = append([]int(nil), months...)
	s.progress = nil
	s.err = ""
	s.started = time.Now()
	s.finished = time.Time{}
	return nil
}

// Report records the latest progress of the running scrape
func (s *Store) Report(p models.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.progress = &p
}

// Finish stores the outcome of the running scrape. A session start failure leaves the store
// unavailable, any other error failed. A nil error replaces the result set.
func (s *Store) Finish(summary *service.Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = time.Now()
	var initErr *browser.SessionInitError
	switch {
	case errors.As(err, &initErr):
		s.state = StateUnavailable
		s.err = err.Error()
	case err != nil:
		s.state = StateFailed
		s.err = err.Error()
	default:
		s.state = StateCompleted
		s.summary = summary
	}
}

// Records returns a copy of the current result set
func (s *Store) Records() []models.Scholarship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return []models.Scholarship{}
	}
	return append([]models.Scholarship{}, s.summary.Records...)
}

// HasResult reports whether any scrape has completed
func (s *Store) HasResult() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary != nil
}

// Status returns a snapshot of the store
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:  s.state,
		Months: append([]int(nil), s.months...),
		Error:  s.err,
	}
	if s.progress != nil {
		p := *s.progress
		st.Progress = &p
		st.Fraction = p.PageFraction()
	}
	if s.state == StateCompleted {
		st.Fraction = 1
		st.Empty = s.summary == nil || len(s.summary.Records) == 0
	}
	if s.summary != nil && s.state != StateRunning {
		stats := s.summary.Stats()
		st.Stats = &stats
		st.MonthsDone = append([]service.MonthSummary(nil), s.summary.Months...)
	}
	if !s.started.IsZero() {
		started := s.started
		st.StartedAt = &started
	}
	if !s.finished.IsZero() {
		finished := s.finished
		st.FinishedAt = &finished
	}
	return st
}
