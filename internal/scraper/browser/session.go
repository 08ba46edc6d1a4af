// Package browser owns the headless Chrome session used for scraping.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/extractor"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/paginator"
	"github.com/sirupsen/logrus"
)

// NextButtonXPath matches the enabled next-page control of the listing
const NextButtonXPath = `//button[contains(., 'Selanjutnya') and not(@disabled)]`

var blockedURLs = []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg"}

// SessionInitError is returned when the browser could not be started
type SessionInitError struct {
	Strategy    string
	ExecPath    string
	Diagnostics []string
	Err         error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("browser session (%s driver): %v", e.Strategy, e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}

// Detail renders the full diagnostic report
func (e *SessionInitError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, d := range e.Diagnostics {
		b.WriteString("\n  ")
		b.WriteString(d)
	}
	return b.String()
}

// Session is one running browser tab. It implements paginator.Page.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	execPath    string
}

var _ paginator.Page = (*Session)(nil)

// Manager builds the session on first use and hands the same one out afterwards
type Manager struct {
	mu       sync.Mutex
	cfg      *config.ScraperConfig
	strategy DriverStrategy
	log      *logger.ComponentLogger
	session  *Session
}

// NewManager creates a Manager. The driver strategy is chosen here, once.
func NewManager(cfg *config.ScraperConfig, log *logrus.Logger) *Manager {
	return NewManagerWithStrategy(cfg, SelectStrategy(runtime.GOOS, cfg), log)
}

// NewManagerWithStrategy creates a Manager with an explicit driver strategy
func NewManagerWithStrategy(cfg *config.ScraperConfig, strategy DriverStrategy, log *logrus.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		strategy: strategy,
		log:      logger.NewComponentLogger(log, "browser"),
	}
}

// Strategy returns the driver strategy in use
func (m *Manager) Strategy() DriverStrategy {
	return m.strategy
}

// Acquire returns the live session, starting the browser if there is none or the previous
// one died. Failures are *SessionInitError.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if m.session.ctx.Err() == nil {
			return m.session, nil
		}
		m.log.Entry().Warn("Browser session ended, starting a new one")
		m.session.close()
		m.session = nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := m.start()
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"strategy": m.strategy.Name(),
		}).WithError(err).Error("Failed to start browser")
		return nil, err
	}
	m.session = s
	return s, nil
}

// Page is Acquire for callers that only need the paginator.Page view
func (m *Manager) Page(ctx context.Context) (paginator.Page, error) {
	s, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close shuts the browser down. The next Acquire starts a fresh one.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.close()
		m.session = nil
		m.log.Entry().Info("Browser session closed")
	}
	return nil
}

func (m *Manager) diagnostics(execPath string) []string {
	return []string{
		"os: " + runtime.GOOS + "/" + runtime.GOARCH,
		"strategy: " + m.strategy.Name(),
		"exec path: " + execPath,
		fmt.Sprintf("headless: %t", m.cfg.Headless),
		fmt.Sprintf("window: %dx%d", m.cfg.WindowWidth, m.cfg.WindowHeight),
	}
}

func (m *Manager) allocatorOptions(execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	return opts
}

func (m *Manager) start() (*Session, error) {
	execPath, err := m.strategy.Resolve()
	if err != nil {
		return nil, &SessionInitError{
			Strategy:    m.strategy.Name(),
			Diagnostics: m.diagnostics("(unresolved)"),
			Err:         err,
		}
	}

	m.log.WithFields(logrus.Fields{
		"strategy":  m.strategy.Name(),
		"exec_path": execPath,
		"headless":  m.cfg.Headless,
	}).Info("Starting browser")

	// The browser lives as long as these contexts, so they must not carry a deadline
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions(execPath)...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.log.Entry().Debugf),
		chromedp.WithErrorf(m.log.Entry().Debugf),
	)

	startup := []chromedp.Action{network.Enable()}
	if m.cfg.BlockImages {
		startup = append(startup, network.SetBlockedURLS(blockedURLs))
	}
	if err := chromedp.Run(ctx, startup...); err != nil {
		cancel()
		allocCancel()
		return nil, &SessionInitError{
			Strategy:    m.strategy.Name(),
			ExecPath:    execPath,
			Diagnostics: m.diagnostics(execPath),
			Err:         err,
		}
	}

	return &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		execPath:    execPath,
	}, nil
}

func (s *Session) close() {
	s.cancel()
	s.allocCancel()
}

// ExecPath is the browser binary this session runs
func (s *Session) ExecPath() string {
	return s.execPath
}

// run executes actions in the session tab, bounded by ctx
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *Session) evalBool(ctx context.Context, script string) (bool, error) {
	var out bool
	if err := s.run(ctx, chromedp.Evaluate(script, &out)); err != nil {
		return false, err
	}
	return out, nil
}

func findNextScript(then string) string {
	return fmt.Sprintf(`(() => {
	const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (el === null) { return false; }
	%s
	return true;
})()`, NextButtonXPath, then)
}

// Navigate implements paginator.Page
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// CardPresent implements paginator.Page
func (s *Session) CardPresent(ctx context.Context) (bool, error) {
	return s.evalBool(ctx, fmt.Sprintf(`document.querySelector(%q) !== null`, extractor.CardSelector))
}

// HTML implements paginator.Page
func (s *Session) HTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}

// NextButton implements paginator.Page
func (s *Session) NextButton(ctx context.Context) (bool, error) {
	return s.evalBool(ctx, findNextScript(""))
}

// ClickNext calls click() on the control; it may be covered by other elements
func (s *Session) ClickNext(ctx context.Context) error {
	clicked, err := s.evalBool(ctx, findNextScript("el.click();"))
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("next button: %w", paginator.ErrElementNotFound)
	}
	return nil
}

// FirstCard keeps a reference to the first card in a page-global map under a fresh token
func (s *Session) FirstCard(ctx context.Context) (paginator.Sentinel, error) {
	token := uuid.NewString()
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (el === null) { return false; }
	window.__beasiswaSentinels = window.__beasiswaSentinels || {};
	window.__beasiswaSentinels[%q] = el;
	return true;
})()`, extractor.CardSelector, token)

	found, err := s.evalBool(ctx, script)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("first card: %w", paginator.ErrElementNotFound)
	}
	return paginator.Sentinel(token), nil
}

// IsStale reports whether the card behind sentinel is detached. A full document reload
// drops the map, which also counts as stale.
func (s *Session) IsStale(ctx context.Context, sentinel paginator.Sentinel) (bool, error) {
	script := fmt.Sprintf(`(() => {
	const refs = window.__beasiswaSentinels;
	const el = refs && refs[%q];
	if (!el) { return true; }
	if (!el.isConnected) { delete refs[%q]; return true; }
	return false;
})()`, string(sentinel), string(sentinel))
	return s.evalBool(ctx, script)
}
