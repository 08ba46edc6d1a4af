// Package analysis filters a scraped result set by degree level and counts it by country
// and degree.
package analysis

import (
	"sort"
	"strings"

	"github.com/rizkirmdhn/beasiswa/pkg/models"
)

const (
	// TopCountries is how many countries CountByCountry keeps
	TopCountries = 15
	// TopDegrees is how many degree levels CountByDegree keeps
	TopDegrees = 10
)

// Count is one bar of a chart
type Count struct {
	Label string `json:"label"`
	Total int    `json:"total"`
}

// Report is the analysis of a filtered result set
type Report struct {
	Degrees   []string             `json:"degrees"`
	Selected  []string             `json:"selected"`
	Shown     int                  `json:"shown"`
	Total     int                  `json:"total"`
	Countries []Count              `json:"countries"`
	Levels    []Count              `json:"levels"`
	Records   []models.Scholarship `json:"records"`
}

// SplitDegrees breaks a joined Jenjang value into trimmed, non-empty levels
func SplitDegrees(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Degrees returns every distinct degree level in records, sorted
func Degrees(records []models.Scholarship) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for _, d := range SplitDegrees(r.Degrees) {
			seen[d] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// FilterByDegrees keeps records offering at least one of the selected levels.
// An empty selection keeps nothing, unless the records carry no degree at all.
func FilterByDegrees(records []models.Scholarship, selected []string) []models.Scholarship {
	out := []models.Scholarship{}
	if len(selected) == 0 {
		if len(Degrees(records)) == 0 {
			out = append(out, records...)
		}
		return out
	}

	want := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		want[strings.TrimSpace(s)] = struct{}{}
	}
	for _, r := range records {
		for _, d := range SplitDegrees(r.Degrees) {
			if _, ok := want[d]; ok {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// CountByCountry counts records per Negara value, highest first, at most TopCountries
func CountByCountry(records []models.Scholarship) []Count {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Countries]++
	}
	return top(counts, TopCountries)
}

// CountByDegree counts each degree level across records, highest first, at most TopDegrees
func CountByDegree(records []models.Scholarship) []Count {
	counts := make(map[string]int)
	for _, r := range records {
		for _, d := range SplitDegrees(r.Degrees) {
			counts[d]++
		}
	}
	return top(counts, TopDegrees)
}

// Analyze filters records by selected and counts the result
func Analyze(records []models.Scholarship, selected []string) Report {
	filtered := FilterByDegrees(records, selected)
	return Report{
		Degrees:   Degrees(records),
		Selected:  selected,
		Shown:     len(filtered),
		Total:     len(records),
		Countries: CountByCountry(filtered),
		Levels:    CountByDegree(filtered),
		Records:   filtered,
	}
}

func top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for label, total := range counts {
		out = append(out, Count{Label: label, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
