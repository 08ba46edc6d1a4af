package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/internal/common/metrics"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/paginator"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type screen struct {
	links   []string
	hasNext bool
	noCards bool
	nextErr error
}

// monthPage serves a scripted list of screens per month
type monthPage struct {
	months  map[int][]screen
	screens []screen
	current int
}

func (p *monthPage) screen() screen {
	if p.current >= len(p.screens) {
		return screen{noCards: true}
	}
	return p.screens[p.current]
}

func (p *monthPage) Navigate(_ context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	m, err := strconv.Atoi(u.Query().Get("month"))
	if err != nil {
		return err
	}
	p.screens = p.months[m]
	p.current = 0
	return nil
}

func (p *monthPage) CardPresent(context.Context) (bool, error) {
	s := p.screen()
	return !s.noCards && len(s.links) > 0, nil
}

func (p *monthPage) HTML(context.Context) (string, error) {
	var b strings.Builder
	for _, l := range p.screen().links {
		snap := fmt.Sprintf(`{"data":{"scholarship_id":1,"name":%q,"url":%q,"countries":[["Jepang"]],"degrees":[["S1","S2"]]}}`, "Beasiswa "+l, l)
		b.WriteString(`<a wire:snapshot="` + html.EscapeString(snap) + `"></a>`)
	}
	return "<html><body>" + b.String() + "</body></html>", nil
}

func (p *monthPage) NextButton(context.Context) (bool, error) {
	s := p.screen()
	if s.nextErr != nil {
		return false, s.nextErr
	}
	return s.hasNext, nil
}

func (p *monthPage) FirstCard(context.Context) (paginator.Sentinel, error) {
	return paginator.Sentinel(strconv.Itoa(p.current)), nil
}

func (p *monthPage) ClickNext(context.Context) error {
	p.current++
	return nil
}

func (p *monthPage) IsStale(_ context.Context, s paginator.Sentinel) (bool, error) {
	return string(s) != strconv.Itoa(p.current), nil
}

type fakeSessions struct {
	page  paginator.Page
	err   error
	calls int
}

func (f *fakeSessions) Page(context.Context) (paginator.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.Progress
}

func (r *recorder) Report(p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) statuses() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func testConfig() *config.ScraperConfig {
	return &config.ScraperConfig{
		BaseURL:      "https://luarkampus.id/beasiswa",
		WaitTimeout:  20 * time.Millisecond,
		SettleDelay:  0,
		PollInterval: time.Millisecond,
		MaxPages:     20,
	}
}

func newService(sessions SessionProvider) (*ScraperService, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewScraperService(testConfig(), sessions, m, logger.Discard()), m
}

func TestScrapeRejectsEmptyMonths(t *testing.T) {
	svc, _ := newService(&fakeSessions{})
	_, err := svc.Scrape(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoMonths)

	_, err = svc.Scrape(context.Background(), []int{13}, nil)
	assert.Error(t, err)
}

func TestScrapeDeduplicatesAcrossMonths(t *testing.T) {
	page := &monthPage{months: map[int][]screen{
		1: {{links: []string{"https://x/a", "https://x/b"}, hasNext: true}, {links: []string{"https://x/c"}}},
		2: {{links: []string{"https://x/b", "https://x/d"}}},
	}}
	sessions := &fakeSessions{page: page}
	svc, m := newService(sessions)
	rec := &recorder{}

	summary, err := svc.Scrape(context.Background(), []int{1, 2}, rec)
	require.NoError(t, err)

	assert.Equal(t, 1, sessions.calls, "session is acquired once per run")
	assert.Equal(t, 5, summary.TotalRecords)
	require.Len(t, summary.Records, 4)
	links := make([]string, len(summary.Records))
	for i, r := range summary.Records {
		links[i] = r.Link
	}
	assert.Equal(t, []string{"https://x/a", "https://x/b", "https://x/c", "https://x/d"}, links)
	assert.Equal(t, "Beasiswa https://x/b", summary.Records[1].Title)
	assert.Equal(t, "S1, S2", summary.Records[0].Degrees)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, models.Stats{TotalPageScraped: 3, TotalRecords: 5, UniqueRecords: 4}, summary.Stats())

	require.Len(t, summary.Months, 2)
	assert.Equal(t, MonthSummary{Month: 1, Name: "Januari", Pages: 2, Records: 3, Outcome: paginator.OutcomeEndOfPages}, summary.Months[0])

	assert.Equal(t, []string{
		models.StatusPage, models.StatusPage, models.StatusMonthDone,
		models.StatusPage, models.StatusMonthDone,
		models.StatusCompleted,
	}, rec.statuses())
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, 4, last.TotalRecords)
	assert.Equal(t, 5, rec.events[3].TotalRecords, "running count includes earlier months")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesScraped.WithLabelValues("1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UniqueRecords))
}

func TestScrapeSameLinkInTwoMonths(t *testing.T) {
	page := &monthPage{months: map[int][]screen{
		3: {{links: []string{"https://x/shared"}}},
		4: {{links: []string{"https://x/shared"}}},
	}}
	svc, _ := newService(&fakeSessions{page: page})

	summary, err := svc.Scrape(context.Background(), []int{3, 4}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, "https://x/shared", summary.Records[0].Link)
}

func TestScrapeContinuesAfterEmptyMonth(t *testing.T) {
	page := &monthPage{months: map[int][]screen{
		5: {{noCards: true}},
		6: {{links: []string{"https://x/june"}}},
	}}
	svc, m := newService(&fakeSessions{page: page})
	rec := &recorder{}

	summary, err := svc.Scrape(context.Background(), []int{5, 6}, rec)
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, paginator.OutcomeNoData, summary.Months[0].Outcome)
	assert.Contains(t, rec.statuses(), models.StatusNoData)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonthOutcomes.WithLabelValues(string(paginator.OutcomeNoData))))
}

func TestScrapeContinuesAfterNavigationError(t *testing.T) {
	page := &monthPage{months: map[int][]screen{
		7: {{links: []string{"https://x/july"}, nextErr: errors.New("target crashed")}},
		8: {{links: []string{"https://x/aug"}}},
	}}
	svc, _ := newService(&fakeSessions{page: page})
	rec := &recorder{}

	summary, err := svc.Scrape(context.Background(), []int{7, 8}, rec)
	require.NoError(t, err)
	require.Len(t, summary.Records, 2, "records before the failure are kept")
	assert.Equal(t, paginator.OutcomeError, summary.Months[0].Outcome)
	assert.Contains(t, summary.Months[0].Warning, "target crashed")
	assert.Contains(t, rec.statuses(), models.StatusWarning)
}

func TestScrapeZeroRecordsCompletes(t *testing.T) {
	page := &monthPage{months: map[int][]screen{}}
	svc, _ := newService(&fakeSessions{page: page})
	rec := &recorder{}

	summary, err := svc.Scrape(context.Background(), []int{9}, rec)
	require.NoError(t, err)
	assert.Empty(t, summary.Records)
	assert.Equal(t, models.StatusCompleted, rec.events[len(rec.events)-1].Status)
}

func TestScrapeSessionFailure(t *testing.T) {
	initErr := &browser.SessionInitError{Strategy: "system", Err: browser.ErrDriverNotFound}
	svc, m := newService(&fakeSessions{err: initErr})
	rec := &recorder{}

	summary, err := svc.Scrape(context.Background(), []int{1}, rec)
	assert.Nil(t, summary)
	var got *browser.SessionInitError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, []string{models.StatusFailed}, rec.statuses())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionFailures))
}

func TestScrapeBusy(t *testing.T) {
	svc, _ := newService(&fakeSessions{})
	svc.mu.Lock()
	defer svc.mu.Unlock()

	_, err := svc.Scrape(context.Background(), []int{1}, nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestMultiReporter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	MultiReporter{a, nil, b, ReporterFunc(func(models.Progress) {})}.Report(models.Progress{Status: models.StatusPage})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

type published struct {
	exchange, key string
	body          []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
	declared  []string
	bound     []string
	handler   messaging.Handler
}

func (f *fakeBroker) PublishJSON(exchange, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{exchange: exchange, key: routingKey, body: body})
	return nil
}

func (f *fakeBroker) DeclareQueue(name string) error {
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeBroker) BindQueue(queue, exchange, key string) error {
	f.bound = append(f.bound, queue+"<-"+exchange+":"+key)
	return nil
}

func (f *fakeBroker) ConsumeWithContext(_ context.Context, _ string, handler messaging.Handler) error {
	f.handler = handler
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) byKey(key string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.key == key {
			out = append(out, p)
		}
	}
	return out
}

func TestBrokerReporter(t *testing.T) {
	broker := &fakeBroker{}
	r := NewBrokerReporter(broker, &config.RabbitMQConfig{Exchange: "ex"}, logger.Discard())
	r.Report(models.Progress{RunID: "r1", Status: models.StatusWarning, Message: "boom", TotalRecords: 3})

	msgs := broker.byKey(config.RoutingLogScraper)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ex", msgs[0].exchange)

	var got models.ScrapLog
	require.NoError(t, json.Unmarshal(msgs[0].body, &got))
	assert.Equal(t, models.StatusWarning, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 3, got.Stats.TotalRecords)
	assert.Equal(t, "r1", got.Data.RunID)
}

func TestWorkerRunsCommand(t *testing.T) {
	page := &monthPage{months: map[int][]screen{
		2: {{links: []string{"https://x/feb"}}},
	}}
	svc, _ := newService(&fakeSessions{page: page})
	broker := &fakeBroker{}
	rabbitCfg := &config.RabbitMQConfig{Exchange: "ex", Queue: config.QueueNames{Scraper: "scraper_queue"}}
	w := NewWorker(svc, rabbitCfg, broker, logger.Discard())

	require.NoError(t, w.Start())
	assert.Equal(t, []string{"scraper_queue"}, broker.declared)
	assert.Equal(t, []string{"scraper_queue<-ex:" + config.RoutingCommandScraper}, broker.bound)
	require.NotNil(t, broker.handler)

	cmd, _ := json.Marshal(models.ScrapingCommand{Action: models.StartScrapingAction, Data: models.Data{Months: []int{2}}})
	require.NoError(t, broker.handler(cmd, config.RoutingCommandScraper))
	require.NoError(t, broker.handler([]byte("{not json"), config.RoutingCommandScraper))

	require.Eventually(t, func() bool {
		return len(broker.byKey(config.RoutingResultScraper)) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	var result models.ScrapResult
	require.NoError(t, json.Unmarshal(broker.byKey(config.RoutingResultScraper)[0].body, &result))
	assert.Equal(t, []int{2}, result.Months)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "https://x/feb", result.Records[0].Link)
	assert.NotEmpty(t, broker.byKey(config.RoutingLogScraper))
}

// blockingPage parks in Navigate until the scrape context is cancelled
type blockingPage struct {
	monthPage
	entered   chan struct{}
	cancelled chan struct{}
	once      sync.Once
}

func newBlockingPage() *blockingPage {
	return &blockingPage{entered: make(chan struct{}, 8), cancelled: make(chan struct{})}
}

func (p *blockingPage) Navigate(ctx context.Context, _ string) error {
	p.entered <- struct{}{}
	<-ctx.Done()
	p.once.Do(func() { close(p.cancelled) })
	return ctx.Err()
}

func command(t *testing.T, action string, months ...int) []byte {
	t.Helper()
	body, err := json.Marshal(models.ScrapingCommand{Action: action, Data: models.Data{Months: months}})
	require.NoError(t, err)
	return body
}

func startedWorker(t *testing.T, page paginator.Page) (*Worker, *fakeBroker) {
	t.Helper()
	svc, _ := newService(&fakeSessions{page: page})
	broker := &fakeBroker{}
	w := NewWorker(svc, &config.RabbitMQConfig{Exchange: "ex", Queue: config.QueueNames{Scraper: "q"}}, broker, logger.Discard())
	require.NoError(t, w.Start())
	return w, broker
}

func TestWorkerStopAfterDuplicateStart(t *testing.T) {
	page := newBlockingPage()
	w, broker := startedWorker(t, page)
	defer w.Stop()

	require.NoError(t, broker.handler(command(t, models.StartScrapingAction, 1), config.RoutingCommandScraper))
	select {
	case <-page.entered:
	case <-time.After(time.Second):
		t.Fatal("first scrape never reached the page")
	}
	assert.True(t, w.Running())

	// A second start while busy must not take over the running scrape
	require.NoError(t, broker.handler(command(t, models.StartScrapingAction, 2), config.RoutingCommandScraper))
	require.NoError(t, broker.handler(command(t, models.StopScrapingAction), config.RoutingCommandScraper))

	select {
	case <-page.cancelled:
	case <-time.After(time.Second):
		t.Fatal("running scrape was not cancelled by the stop command")
	}
	assert.Eventually(t, func() bool { return !w.Running() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, broker.byKey(config.RoutingResultScraper))
	assert.Len(t, page.entered, 0, "the second start never ran")
}

func TestWorkerAcceptsStartAfterStoppedRun(t *testing.T) {
	page := newBlockingPage()
	w, broker := startedWorker(t, page)
	defer w.Stop()

	for i := 0; i < 2; i++ {
		require.NoError(t, broker.handler(command(t, models.StartScrapingAction, 1), config.RoutingCommandScraper))
		select {
		case <-page.entered:
		case <-time.After(time.Second):
			t.Fatalf("run %d never reached the page", i+1)
		}
		require.NoError(t, broker.handler(command(t, models.StopScrapingAction), config.RoutingCommandScraper))
		require.Eventually(t, func() bool { return !w.Running() }, time.Second, 5*time.Millisecond)
	}
}

func TestWorkerIgnoresStartAfterStop(t *testing.T) {
	page := newBlockingPage()
	w, broker := startedWorker(t, page)
	w.Stop()

	require.NoError(t, broker.handler(command(t, models.StartScrapingAction, 1), config.RoutingCommandScraper))
	assert.False(t, w.Running())
	assert.Len(t, page.entered, 0)
}
