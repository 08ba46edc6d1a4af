package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MonthNames maps month numbers to the labels shown on the listing site
var MonthNames = [...]string{
	1:  "Januari",
	2:  "Februari",
	3:  "Maret",
	4:  "April",
	5:  "Mei",
	6:  "Juni",
	7:  "Juli",
	8:  "Agustus",
	9:  "September",
	10: "Oktober",
	11: "November",
	12: "Desember",
}

// DefaultMonth is preselected when the user has not chosen anything yet
const DefaultMonth = 1

// MonthName returns the label for month m, or an empty string when m is out of range
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return MonthNames[m]
}

// ParseMonth accepts a month label (case-insensitive) or a number between 1 and 12
func ParseMonth(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("month %d out of range 1-12", n)
		}
		return n, nil
	}
	for i := 1; i <= 12; i++ {
		if strings.EqualFold(MonthNames[i], s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown month %q", s)
}

// ParseMonths parses every entry with ParseMonth, keeping the given order and dropping repeats
func ParseMonths(values []string) ([]int, error) {
	months := make([]int, 0, len(values))
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		m, err := ParseMonth(v)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		months = append(months, m)
	}
	return months, nil
}
