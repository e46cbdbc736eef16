package insight

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
)

// DecisionMetrics are the dashboard's headline numbers.
type DecisionMetrics struct {
	// SeverityGap is the mean of 1/coverage over rows with coverage > 0,
	// formatted to two decimals. Nil when no row qualifies.
	SeverityGap *string `json:"severity_gap"`
	// StructuralGap is the sum of people in need minus people targeted,
	// floored at zero per row.
	StructuralGap float64 `json:"structural_gap"`
	// FundingVelocity compares total funding of the two latest years,
	// e.g. "+12.5% YoY". Nil with fewer than two years or no prior funding.
	FundingVelocity        *string `json:"funding_velocity"`
	StructuralGapFormatted string  `json:"structural_gap_formatted"`
}

// Decide aggregates crises into DecisionMetrics.
func Decide(crises []domain.CrisisRecord) DecisionMetrics {
	var (
		structural  float64
		inverseSum  float64
		inverseRows int
		byYear      = make(map[int]float64)
	)
	for _, c := range crises {
		structural += max(0, c.PeopleInNeed-c.PeopleTargeted)
		if c.CoverageRatio != nil && *c.CoverageRatio > 0 {
			inverseSum += 1 / *c.CoverageRatio
			inverseRows++
		}
		if c.Year != nil {
			funding := 0.0
			if c.Funding != nil {
				funding = *c.Funding
			}
			byYear[*c.Year] += funding
		}
	}

	m := DecisionMetrics{StructuralGap: structural}
	if inverseRows > 0 {
		s := strconv.FormatFloat(inverseSum/float64(inverseRows), 'f', 2, 64)
		m.SeverityGap = &s
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	slices.Sort(years)
	slices.Reverse(years)
	if len(years) >= 2 {
		latest, prev := byYear[years[0]], byYear[years[1]]
		if prev > 0 {
			pct := (latest - prev) / prev * 100
			sign := ""
			if pct >= 0 {
				sign = "+"
			}
			v := fmt.Sprintf("%s%.1f%% YoY", sign, pct)
			m.FundingVelocity = &v
		}
	}

	m.StructuralGapFormatted = FormatPeople(structural)
	return m
}
