package insight

import (
	"math"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
)

// Thresholds that flag a point as red: high severity with little funding.
const (
	redSeverity   = 4.0
	redFundingPct = 25
	maxSeverity   = 5.0
)

// MismatchPoint places one crisis on the severity versus funding scatter.
type MismatchPoint struct {
	Country      string  `json:"country"`
	CountryISO3  string  `json:"country_iso3,omitempty"`
	Year         *int    `json:"year"`
	Severity     float64 `json:"severity"`
	FundingPct   int     `json:"funding_pct"`
	PeopleInNeed float64 `json:"people_in_need"`
	IsRed        bool    `json:"is_red"`
}

// Mismatch scores each crisis with a severity proxy in [0.5, 5]:
//
//	0.5 + (1 - coverage)*3 + (peopleInNeed / maxPeopleInNeed)*1.5, capped at 5
//
// and flags it red when severity >= 4 and funding is below 25%.
func Mismatch(crises []domain.CrisisRecord) []MismatchPoint {
	pinMax := 1.0
	for _, c := range crises {
		pinMax = math.Max(pinMax, c.PeopleInNeed)
	}

	points := make([]MismatchPoint, 0, len(crises))
	for _, c := range crises {
		coverage := c.Coverage()
		fundingPct := int(roundHalfUp(coverage * 100))
		severity := math.Min(maxSeverity, 0.5+(1-coverage)*3+(c.PeopleInNeed/pinMax)*1.5)

		points = append(points, MismatchPoint{
			Country:      c.DisplayName(),
			CountryISO3:  c.ISO3,
			Year:         c.Year,
			Severity:     roundHalfUp(severity*10) / 10,
			FundingPct:   fundingPct,
			PeopleInNeed: c.PeopleInNeed,
			IsRed:        severity >= redSeverity && fundingPct < redFundingPct,
		})
	}
	return points
}
