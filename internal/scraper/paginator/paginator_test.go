package paginator

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"testing"
	"time"

	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScreen struct {
	cards   bool
	markup  string
	hasNext bool
}

// fakePage plays back a fixed sequence of rendered screens
type fakePage struct {
	screens []fakeScreen
	current int

	navigated   []string
	clicks      int
	neverStale  bool
	nextErr     error
	clickErr    error
	navigateErr error
}

func (f *fakePage) screen() fakeScreen {
	if f.current >= len(f.screens) {
		return fakeScreen{}
	}
	return f.screens[f.current]
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navigateErr
}

func (f *fakePage) CardPresent(context.Context) (bool, error) { return f.screen().cards, nil }
func (f *fakePage) HTML(context.Context) (string, error)      { return f.screen().markup, nil }

func (f *fakePage) NextButton(context.Context) (bool, error) {
	if f.nextErr != nil {
		return false, f.nextErr
	}
	return f.screen().hasNext, nil
}

func (f *fakePage) FirstCard(context.Context) (Sentinel, error) {
	if !f.screen().cards {
		return "", ErrElementNotFound
	}
	return Sentinel(fmt.Sprintf("screen-%d", f.current)), nil
}

func (f *fakePage) ClickNext(context.Context) error {
	if f.clickErr != nil {
		return f.clickErr
	}
	f.clicks++
	if !f.neverStale {
		f.current++
	}
	return nil
}

func (f *fakePage) IsStale(_ context.Context, s Sentinel) (bool, error) {
	return string(s) != fmt.Sprintf("screen-%d", f.current), nil
}

func cardsMarkup(links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		snap := fmt.Sprintf(`{"data":{"scholarship_id":1,"name":"n","url":%q}}`, l)
		b.WriteString(`<a wire:snapshot="` + html.EscapeString(snap) + `">x</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testOptions() Options {
	return Options{
		BaseURL:      "https://luarkampus.id/beasiswa",
		WaitTimeout:  30 * time.Millisecond,
		SettleDelay:  0,
		PollInterval: time.Millisecond,
		MaxPages:     50,
	}
}

func newDriver(p Page) *Driver {
	return New(p, testOptions(), logger.Discard())
}

func TestMonthURL(t *testing.T) {
	got, err := MonthURL("https://luarkampus.id/beasiswa", 3)
	require.NoError(t, err)
	assert.Equal(t, "https://luarkampus.id/beasiswa?month=3", got)

	got, err = MonthURL("https://luarkampus.id/beasiswa?month=1", 11)
	require.NoError(t, err)
	assert.Equal(t, "https://luarkampus.id/beasiswa?month=11", got)
}

func TestScrapeTwoPagesThenNoNext(t *testing.T) {
	page := &fakePage{screens: []fakeScreen{
		{cards: true, markup: cardsMarkup("https://x/1", "https://x/2"), hasNext: true},
		{cards: true, markup: cardsMarkup("https://x/3"), hasNext: false},
	}}

	var reports []PageReport
	res, err := newDriver(page).Scrape(context.Background(), 4, func(r PageReport) {
		reports = append(reports, r)
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeEndOfPages, res.Outcome)
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "https://x/3", res.Records[2].Link)
	assert.Equal(t, []string{"https://luarkampus.id/beasiswa?month=4"}, page.navigated)
	assert.Equal(t, 1, page.clicks)

	require.Len(t, reports, 2)
	assert.Equal(t, PageReport{Month: 4, Page: 2, PageRecords: 1, MonthRecords: 3}, reports[1])
}

func TestScrapeFirstPageTimeout(t *testing.T) {
	page := &fakePage{screens: []fakeScreen{{cards: false}}}

	res, err := newDriver(page).Scrape(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.Zero(t, page.clicks)
}

func TestScrapeFirstPageParseFailure(t *testing.T) {
	page := &fakePage{screens: []fakeScreen{
		{cards: true, markup: `<a wire:snapshot="{broken">x</a>`, hasNext: true},
	}}

	res, err := newDriver(page).Scrape(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeParseFailure, res.Outcome)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, page.clicks, "must not navigate after a parse failure")
}

func TestScrapeLaterPageEmptyDoesNotCrash(t *testing.T) {
	page := &fakePage{screens: []fakeScreen{
		{cards: true, markup: cardsMarkup("https://x/1"), hasNext: true},
		{cards: true, markup: "<html></html>", hasNext: true},
	}}

	res, err := newDriver(page).Scrape(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndOfPages, res.Outcome)
	assert.Len(t, res.Records, 1)
}

func TestScrapeLaterPageTimeout(t *testing.T) {
	page := &fakePage{screens: []fakeScreen{
		{cards: true, markup: cardsMarkup("https://x/1"), hasNext: true},
		{cards: false},
	}}

	res, err := newDriver(page).Scrape(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndOfPages, res.Outcome)
	assert.Len(t, res.Records, 1)
}

func TestScrapeStaleTimeoutEndsPagination(t *testing.T) {
	page := &fakePage{
		neverStale: true,
		screens: []fakeScreen{
			{cards: true, markup: cardsMarkup("https://x/1"), hasNext: true},
		},
	}

	res, err := newDriver(page).Scrape(context.Background(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndOfPages, res.Outcome)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, page.clicks)
}

func TestScrapeClickTargetGone(t *testing.T) {
	page := &fakePage{
		clickErr: fmt.Errorf("click: %w", ErrElementNotFound),
		screens: []fakeScreen{
			{cards: true, markup: cardsMarkup("https://x/1"), hasNext: true},
		},
	}

	res, err := newDriver(page).Scrape(context.Background(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndOfPages, res.Outcome)
}

func TestScrapeUnexpectedErrorKeepsRecords(t *testing.T) {
	boom := errors.New("devtools connection reset")
	page := &fakePage{
		nextErr: boom,
		screens: []fakeScreen{
			{cards: true, markup: cardsMarkup("https://x/1", "https://x/2"), hasNext: true},
		},
	}

	res, err := newDriver(page).Scrape(context.Background(), 6, nil)
	require.Error(t, err)

	var navErr *UnexpectedNavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, 6, navErr.Month)
	assert.Equal(t, 1, navErr.Page)
	assert.Equal(t, StateSeekingNext, navErr.State)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Len(t, res.Records, 2)
}

func TestScrapeNavigateError(t *testing.T) {
	page := &fakePage{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	res, err := newDriver(page).Scrape(context.Background(), 1, nil)
	var navErr *UnexpectedNavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, StateLoading, navErr.State)
	assert.Empty(t, res.Records)
}

func TestScrapeTerminatesWithEndlessNextButton(t *testing.T) {
	screens := make([]fakeScreen, 100)
	for i := range screens {
		screens[i] = fakeScreen{cards: true, markup: cardsMarkup(fmt.Sprintf("https://x/%d", i)), hasNext: true}
	}
	page := &fakePage{screens: screens}

	opts := testOptions()
	opts.MaxPages = 7
	res, err := New(page, opts, logger.Discard()).Scrape(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMaxPages, res.Outcome)
	assert.Equal(t, 7, res.Pages)
	assert.Len(t, res.Records, 7)
	assert.Equal(t, 6, page.clicks)
}

func TestScrapeNeverLoopsWithoutNextButton(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d pages", n), func(t *testing.T) {
			screens := make([]fakeScreen, n)
			for i := range screens {
				screens[i] = fakeScreen{
					cards:   true,
					markup:  cardsMarkup(fmt.Sprintf("https://x/%d", i)),
					hasNext: i < n-1,
				}
			}
			page := &fakePage{screens: screens}

			res, err := newDriver(page).Scrape(context.Background(), 1, nil)
			require.NoError(t, err)
			assert.Equal(t, n, res.Pages)
			assert.Equal(t, n-1, page.clicks)
		})
	}
}

func TestWaitUntil(t *testing.T) {
	t.Run("succeeds once the condition holds", func(t *testing.T) {
		calls := 0
		err := WaitUntil(context.Background(), func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		}, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out", func(t *testing.T) {
		err := WaitUntil(context.Background(), func(context.Context) (bool, error) {
			return false, nil
		}, 10*time.Millisecond, time.Millisecond)
		assert.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("a hung condition still times out", func(t *testing.T) {
		err := WaitUntil(context.Background(), func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		}, 10*time.Millisecond, time.Millisecond)
		assert.ErrorIs(t, err, ErrWaitTimeout)
	})

	t.Run("propagates condition errors", func(t *testing.T) {
		boom := errors.New("boom")
		err := WaitUntil(context.Background(), func(context.Context) (bool, error) {
			return false, boom
		}, time.Second, time.Millisecond)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("reports parent cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WaitUntil(ctx, func(context.Context) (bool, error) {
			return false, nil
		}, time.Second, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
