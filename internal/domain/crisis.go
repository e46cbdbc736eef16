package domain

import (
	"bytes"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// CrisisRecord is the canonical shape of one row of crisis funding data
// (one country and one plan year). Fields keeps the source row verbatim so the
// merge can overlay every attribute onto the map feature.
type CrisisRecord struct {
	ISO3           string
	Country        string
	Year           *int
	PeopleInNeed   float64
	PeopleTargeted float64
	Funding        *float64
	Requirements   *float64
	FundingGap     *float64
	CoverageRatio  *float64

	Fields map[string]any
}

// Alternate source column names per canonical field, checked in order after
// lowercasing. Warehouse tables, exported JSON and ad-hoc query aliases all
// spell these differently.
var (
	iso3Keys           = []string{"country_iso3", "iso3", "iso_a3", "iso_code"}
	countryKeys        = []string{"country", "country_name", "name", "admin"}
	yearKeys           = []string{"year", "plan_year", "period"}
	peopleInNeedKeys   = []string{"people_in_need", "total_people_in_need", "pin"}
	peopleTargetedKeys = []string{"people_targeted", "total_people_targeted"}
	fundingKeys        = []string{"funding", "funding_usd", "total_funding"}
	requirementsKeys   = []string{"requirements", "requirements_usd", "total_requirements"}
	fundingGapKeys     = []string{"funding_gap"}
	coverageKeys       = []string{"coverage_ratio", "coverage"}
)

// CrisisFromFields adapts a loosely keyed row into a CrisisRecord. Unknown or
// unparseable values leave the canonical field empty; it never fails.
func CrisisFromFields(fields map[string]any) CrisisRecord {
	lower := lowerKeys(fields)

	c := CrisisRecord{
		ISO3:           firstString(lower, iso3Keys),
		Country:        firstString(lower, countryKeys),
		PeopleInNeed:   valueOrZero(firstNumber(lower, peopleInNeedKeys)),
		PeopleTargeted: valueOrZero(firstNumber(lower, peopleTargetedKeys)),
		Funding:        firstNumber(lower, fundingKeys),
		Requirements:   firstNumber(lower, requirementsKeys),
		FundingGap:     firstNumber(lower, fundingGapKeys),
		CoverageRatio:  firstNumber(lower, coverageKeys),
		Fields:         maps.Clone(fields),
	}
	if y := firstNumber(lower, yearKeys); y != nil && !math.IsNaN(*y) && !math.IsInf(*y, 0) {
		year := int(*y)
		c.Year = &year
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	return c
}

// CrisisFromRecord adapts a statement result row.
func CrisisFromRecord(r Record) CrisisRecord {
	return CrisisFromFields(r.Map())
}

// CrisesFromRecordSet adapts every row of a statement result.
func CrisesFromRecordSet(rs RecordSet) []CrisisRecord {
	out := make([]CrisisRecord, 0, len(rs))
	for _, r := range rs {
		out = append(out, CrisisFromRecord(r))
	}
	return out
}

// DisplayName returns the best human label for the record.
func (c CrisisRecord) DisplayName() string {
	switch {
	case c.Country != "":
		return c.Country
	case c.ISO3 != "":
		return c.ISO3
	default:
		return "Unknown"
	}
}

// Gap returns the unmet requirement. A reported funding_gap wins (made
// positive); otherwise requirements minus funding, floored at zero.
func (c CrisisRecord) Gap() float64 {
	if c.FundingGap != nil && !math.IsNaN(*c.FundingGap) {
		return math.Abs(*c.FundingGap)
	}
	if c.Requirements != nil && c.Funding != nil {
		return math.Max(0, *c.Requirements-*c.Funding)
	}
	return 0
}

// Coverage returns the coverage ratio, or 0 when unknown.
func (c CrisisRecord) Coverage() float64 {
	if c.CoverageRatio == nil || math.IsNaN(*c.CoverageRatio) {
		return 0
	}
	return *c.CoverageRatio
}

// DecodeCrisisRecords parses a JSON array of crisis rows. A top-level value
// that is not an array is ErrMalformedInput; array elements that are not
// objects are skipped.
func DecodeCrisisRecords(data []byte) ([]CrisisRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, malformed("crisis records: expected a JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, malformed("crisis records: %v", err)
	}

	out := make([]CrisisRecord, 0, len(raw))
	for _, elem := range raw {
		fields, ok := decodeObject(elem)
		if !ok {
			continue
		}
		out = append(out, CrisisFromFields(fields))
	}
	return out, nil
}

// decodeObject decodes a JSON object keeping numbers as json.Number so values
// re-encode exactly as they were read.
func decodeObject(data json.RawMessage) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, false
	}
	return m, true
}

// lowerKeys lowercases keys; the first spelling of a key wins.
func lowerKeys(fields map[string]any) map[string]any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Deterministic winner when a row carries both "Country" and "country".
	slices.Sort(keys)

	out := make(map[string]any, len(fields))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, ok := out[lk]; !ok {
			out[lk] = fields[k]
		}
	}
	return out
}

func firstString(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := scalarString(fields[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(fields map[string]any, keys []string) *float64 {
	for _, k := range keys {
		if v, ok := ParseNumber(fields[k]); ok {
			return &v
		}
	}
	return nil
}

func valueOrZero(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return *v
}

// ParseNumber converts JSON numbers and numeric strings to float64.
// The warehouse returns every value as a string in JSON_ARRAY format.
func ParseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// scalarString renders strings and numbers as text; other types are rejected.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return "", false
	}
}
