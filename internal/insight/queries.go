// Package insight turns crisis rows into the dashboard's decision views:
// the severity/funding mismatch scatter, headline decision metrics, the
// low-bandwidth crisis alert, and the keyword chat.
package insight

import (
	"fmt"
	"strconv"
	"strings"
)

// Alert row bounds for the crisis-alert endpoint.
const (
	DefaultAlertTop = 3
	MaxAlertTop     = 20
)

// SanitizeTable strips characters that could end or quote out of a table
// reference before it is spliced into SQL.
func SanitizeTable(table string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '\'', '"', '\\':
			return -1
		}
		return r
	}, table)
}

// TopCrisesSQL selects every row of the crises table.
func TopCrisesSQL(table string) string {
	return "SELECT * FROM " + SanitizeTable(table)
}

// MismatchSQL selects rows with a known coverage ratio and people in need.
func MismatchSQL(table string) string {
	return "SELECT country, country_iso3, year, people_in_need, people_targeted, funding, requirements, coverage_ratio FROM " +
		SanitizeTable(table) + " WHERE coverage_ratio IS NOT NULL AND people_in_need > 0"
}

// DecisionMetricsSQL selects the columns the decision metrics aggregate.
func DecisionMetricsSQL(table string) string {
	return "SELECT country, year, people_in_need, people_targeted, funding, requirements, coverage_ratio FROM " + SanitizeTable(table)
}

// CrisisAlertSQL selects the top least-covered rows. top is clamped to
// [1, MaxAlertTop].
func CrisisAlertSQL(table string, top int) string {
	return fmt.Sprintf("SELECT country, country_iso3, year, people_in_need, funding, requirements, coverage_ratio FROM %s WHERE coverage_ratio IS NOT NULL ORDER BY coverage_ratio ASC LIMIT %d",
		SanitizeTable(table), ClampTop(top))
}

// ClampTop bounds an alert size to [1, MaxAlertTop].
func ClampTop(top int) int {
	return min(max(top, 1), MaxAlertTop)
}

// ParseTop reads the ?top= query value. Missing, unparsable or zero values
// fall back to DefaultAlertTop before clamping.
func ParseTop(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n == 0 {
		n = DefaultAlertTop
	}
	return ClampTop(n)
}
