package insight

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
)

// NoRowsReply is returned when a chat query yields nothing.
const NoRowsReply = "I queried the gold_crisis_impact table but got no rows. Try asking about funding gaps, people in need, or coverage."

// BuildChatSQL maps a free-text question to one of a fixed set of queries by
// keyword. Unrecognised questions get a recent-rows sample.
func BuildChatSQL(message, table string) string {
	q := strings.ToLower(message)
	t := SanitizeTable(table)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(q, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("largest funding gap", "biggest funding gap", "most underfunded") || (has("top 3") && has("funding gap")):
		limit := 5
		if has("top 3") {
			limit = 3
		}
		return fmt.Sprintf("SELECT country, country_iso3, year, funding_gap, coverage_ratio, funding, requirements FROM %s ORDER BY ABS(COALESCE(funding_gap, requirements - funding, 0)) DESC NULLS LAST LIMIT %d", t, limit)
	case has("people in need", "highest need"):
		return "SELECT country, country_iso3, year, people_in_need, people_targeted FROM " + t + " ORDER BY people_in_need DESC NULLS LAST LIMIT 5"
	case has("coverage", "least funded"):
		return "SELECT country, country_iso3, year, coverage_ratio, funding, requirements FROM " + t + " WHERE coverage_ratio IS NOT NULL ORDER BY coverage_ratio ASC LIMIT 5"
	case has("how many countries", "number of countries"):
		return "SELECT COUNT(DISTINCT country_iso3) AS country_count FROM " + t
	case has("total funding", "total requirement"):
		return "SELECT year, SUM(funding) AS total_funding, SUM(requirements) AS total_requirements FROM " + t + " GROUP BY year ORDER BY year DESC LIMIT 5"
	}
	return "SELECT country, country_iso3, year, people_in_need, funding, funding_gap, coverage_ratio FROM " + t + " ORDER BY year DESC, people_in_need DESC NULLS LAST LIMIT 10"
}

// FormatReply summarises chat query rows as one plain-language answer. The
// shape of the first row decides which summary is used.
func FormatReply(message string, rows domain.RecordSet) string {
	if len(rows) == 0 {
		return NoRowsReply
	}
	q := strings.ToLower(message)
	norm := make([]map[string]any, len(rows))
	for i, r := range rows {
		norm[i] = lowerFirst(r)
	}
	r0 := norm[0]
	listLen := 5
	if strings.Contains(q, "top 3") {
		listLen = 3
	}

	switch {
	case present(r0, "country_count"):
		n, _ := domain.ParseNumber(r0["country_count"])
		return fmt.Sprintf("There are **%s** distinct countries in the gold_crisis_impact table.", strconv.FormatFloat(n, 'f', -1, 64))

	case present(r0, "total_funding"):
		parts := make([]string, len(norm))
		for i, r := range norm {
			funding, _ := domain.ParseNumber(r["total_funding"])
			reqs, _ := domain.ParseNumber(r["total_requirements"])
			parts[i] = fmt.Sprintf("%s: Total funding %s, Total requirements %s", display(r["year"]), FormatMoney(funding), FormatMoney(reqs))
		}
		return strings.Join(parts, ". ")

	case present(r0, "funding_gap") || present(r0, "requirements"):
		var parts []string
		for i, r := range norm[:min(listLen, len(norm))] {
			c := domain.CrisisFromFields(r)
			coverage, _ := domain.ParseNumber(r["coverage_ratio"])
			parts = append(parts, fmt.Sprintf("%d. %s: %s gap (%.1f%% coverage)", i+1, c.DisplayName(), FormatMoney(c.Gap()), coverage*100))
		}
		return strings.Join(parts, ". ")

	case present(r0, "people_in_need"):
		var parts []string
		for i, r := range norm[:min(listLen, len(norm))] {
			c := domain.CrisisFromFields(r)
			parts = append(parts, fmt.Sprintf("%d. %s: %s people in need", i+1, c.DisplayName(), FormatPeople(c.PeopleInNeed)))
		}
		return strings.Join(parts, ". ")

	case present(r0, "coverage_ratio"):
		c := domain.CrisisFromFields(r0)
		funding, _ := domain.ParseNumber(r0["funding"])
		reqs, _ := domain.ParseNumber(r0["requirements"])
		return fmt.Sprintf("Lowest coverage: %s at %.1f%% (%s of %s required).", c.DisplayName(), c.Coverage()*100, FormatMoney(funding), FormatMoney(reqs))
	}

	c := domain.CrisisFromFields(r0)
	return fmt.Sprintf("I found %d row(s). Top: %s (%s).", len(rows), c.DisplayName(), display(r0["year"]))
}

// lowerFirst lowercases keys in schema order; the first spelling of a key wins.
func lowerFirst(r domain.Record) map[string]any {
	out := make(map[string]any, r.Len())
	for _, k := range r.Keys() {
		lk := strings.ToLower(k)
		if _, ok := out[lk]; ok {
			continue
		}
		v, _ := r.Get(k)
		out[lk] = v
	}
	return out
}

func present(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

func display(v any) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprint(v)
}
