package insight

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
)

// Fixed crisis-alert documents for the no-credentials and error paths.
const (
	AlertNoDataMarkdown = "# Crisis Alert\n\nNo data.\n"
	AlertErrorMarkdown  = "# Crisis Alert\n\nError loading data.\n"
	AlertErrorCSV       = "error\n"
)

var alertCSVHeader = []string{"country", "year", "people_in_need", "funding_gap", "coverage_pct"}

// AlertCSVHeader is the header line of the CSV alert.
var AlertCSVHeader = strings.Join(alertCSVHeader, ",") + "\n"

// AlertLine is one row of the crisis alert.
type AlertLine struct {
	Country      string
	Year         *int
	PeopleInNeed float64
	FundingGap   float64
	CoveragePct  int
}

// Alert builds alert lines in input order. The funding gap is requirements
// minus funding, floored at zero.
func Alert(crises []domain.CrisisRecord) []AlertLine {
	lines := make([]AlertLine, 0, len(crises))
	for _, c := range crises {
		var gap float64
		if c.Requirements != nil && c.Funding != nil {
			gap = max(0, *c.Requirements-*c.Funding)
		}
		lines = append(lines, AlertLine{
			Country:      c.DisplayName(),
			Year:         c.Year,
			PeopleInNeed: c.PeopleInNeed,
			FundingGap:   gap,
			CoveragePct:  int(roundHalfUp(c.Coverage() * 100)),
		})
	}
	return lines
}

// RenderAlertMarkdown renders lines as a small markdown table suited to
// low-bandwidth channels.
func RenderAlertMarkdown(top int, lines []AlertLine) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Crisis Alert — Top %d Underfunded Emergencies\n\n", top)
	b.WriteString("| Country | Year | People in need | Funding gap | Coverage % |\n")
	b.WriteString("|--------|------|----------------|-------------|------------|\n")
	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = fmt.Sprintf("| %s | %s | %s | $%.1fM | %d%% |",
			l.Country, yearString(l.Year), FormatCount(l.PeopleInNeed), l.FundingGap/1e6, l.CoveragePct)
	}
	b.WriteString(strings.Join(rows, "\n"))
	b.WriteString("\n\n*Generated for low-bandwidth environments. File size kept minimal.*\n")
	return b.Bytes()
}

// RenderAlertCSV renders lines as CSV with AlertCSVHeader.
func RenderAlertCSV(lines []AlertLine) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(alertCSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range lines {
		record := []string{
			l.Country,
			yearString(l.Year),
			strconv.FormatFloat(l.PeopleInNeed, 'f', -1, 64),
			strconv.FormatFloat(l.FundingGap, 'f', -1, 64),
			strconv.Itoa(l.CoveragePct),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return b.Bytes(), nil
}

func yearString(y *int) string {
	if y == nil {
		return ""
	}
	return strconv.Itoa(*y)
}
