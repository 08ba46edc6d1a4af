// Package extractor decodes scholarship cards from a rendered listing page.
//
// The listing site renders each card as an anchor whose wire:snapshot attribute holds the
// JSON state of the component. Other widgets reuse the same mechanism, so only snapshots
// whose data carries a scholarship_id are turned into records.
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
)

const (
	// SnapshotAttr marks a card component instance
	SnapshotAttr = "wire:snapshot"

	// CardSelector finds the same cards inside the browser
	CardSelector = `a[wire\:snapshot]`

	idKey = "scholarship_id"

	// defaultLink mirrors what the site shows for a card without a target
	defaultLink = "#"
)

var (
	errNoData         = errors.New("snapshot has no data mapping")
	errNotScholarship = errors.New("snapshot is not a scholarship")
)

// Stats describes how a page's candidate cards were handled
type Stats struct {
	Candidates int
	Extracted  int
	Skipped    int
}

type snapshot struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Extract returns every scholarship found in html, in document order.
// Malformed cards are skipped; an unparsable document yields no records.
func Extract(html string) []models.Scholarship {
	records, _ := ExtractWithStats(html)
	return records
}

// ExtractWithStats is Extract plus a count of the cards it had to skip
func ExtractWithStats(html string) ([]models.Scholarship, Stats) {
	var stats Stats
	records := []models.Scholarship{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return records, stats
	}

	doc.Find("a").Each(func(_ int, card *goquery.Selection) {
		raw, ok := card.Attr(SnapshotAttr)
		if !ok {
			return
		}
		stats.Candidates++

		record, ok := Decode(raw)
		if !ok {
			stats.Skipped++
			return
		}
		stats.Extracted++
		records = append(records, record)
	})

	return records, stats
}

// Decode turns one snapshot attribute value into a record.
// ok is false when the snapshot is malformed or belongs to another widget.
func Decode(raw string) (record models.Scholarship, ok bool) {
	record, err := decode(raw)
	return record, err == nil
}

func decode(raw string) (models.Scholarship, error) {
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return models.Scholarship{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Data == nil {
		return models.Scholarship{}, errNoData
	}
	if _, ok := snap.Data[idKey]; !ok {
		return models.Scholarship{}, errNotScholarship
	}

	var (
		record models.Scholarship
		err    error
	)
	if record.Title, err = stringField(snap.Data, "name", models.NotAvailable); err != nil {
		return models.Scholarship{}, err
	}
	if record.Link, err = stringField(snap.Data, "url", defaultLink); err != nil {
		return models.Scholarship{}, err
	}
	if record.CloseDate, err = stringField(snap.Data, "close_date", models.NotAvailable); err != nil {
		return models.Scholarship{}, err
	}
	if record.OpenDate, err = stringField(snap.Data, "open_date", models.NotAvailable); err != nil {
		return models.Scholarship{}, err
	}
	if record.Countries, err = nestedListField(snap.Data, "countries"); err != nil {
		return models.Scholarship{}, err
	}
	if record.Degrees, err = nestedListField(snap.Data, "degrees"); err != nil {
		return models.Scholarship{}, err
	}
	return record, nil
}

// stringField reads a string value, falling back to def when the key is absent
func stringField(data map[string]json.RawMessage, key, def string) (string, error) {
	raw, ok := data[key]
	if !ok || isNull(raw) {
		return def, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %s: %w", key, err)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// nestedListField reads the [[...], meta?] shape the component uses for arrays and joins
// the first inner list. An absent key or empty inner list yields N/A.
func nestedListField(data map[string]json.RawMessage, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return models.NotAvailable, nil
	}

	var outer []json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || outer == nil {
		return "", fmt.Errorf("field %s: not a list", key)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("field %s: missing inner list", key)
	}

	var inner []string
	if err := json.Unmarshal(outer[0], &inner); err != nil {
		return "", fmt.Errorf("field %s: inner value is not a list of strings", key)
	}
	if len(inner) == 0 {
		return models.NotAvailable, nil
	}
	return strings.Join(inner, ", "), nil
}
