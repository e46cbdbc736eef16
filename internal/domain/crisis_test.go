package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrisisFromFields_WarehouseStrings(t *testing.T) {
	c := CrisisFromFields(map[string]any{
		"country":         "Sudan",
		"country_iso3":    "SDN",
		"year":            "2024",
		"people_in_need":  "24800000",
		"people_targeted": "14700000",
		"funding":         "1100000000",
		"requirements":    "2700000000",
		"coverage_ratio":  "0.407",
	})

	assert.Equal(t, "SDN", c.ISO3)
	assert.Equal(t, "Sudan", c.Country)
	require.NotNil(t, c.Year)
	assert.Equal(t, 2024, *c.Year)
	assert.Equal(t, 24800000.0, c.PeopleInNeed)
	assert.Equal(t, 14700000.0, c.PeopleTargeted)
	assert.Equal(t, 1.6e9, c.Gap())
	assert.InDelta(t, 0.407, c.Coverage(), 1e-9)
}

func TestCrisisFromFields_AlternateNamesAndCasing(t *testing.T) {
	c := CrisisFromFields(map[string]any{
		"COUNTRY_NAME":         "Haiti",
		"ISO3":                 "HTI",
		"Plan_Year":            json.Number("2023"),
		"TOTAL_PEOPLE_IN_NEED": 5500000,
		"Funding_Gap":          -420.5,
	})

	assert.Equal(t, "HTI", c.ISO3)
	assert.Equal(t, "Haiti", c.Country)
	assert.Equal(t, 2023, *c.Year)
	assert.Equal(t, 5500000.0, c.PeopleInNeed)
	assert.Equal(t, 420.5, c.Gap(), "reported gap is made positive")
	assert.Equal(t, "Haiti", c.Fields["COUNTRY_NAME"], "source fields are kept verbatim")
}

func TestCrisisFromFields_DegradesOnGarbage(t *testing.T) {
	c := CrisisFromFields(map[string]any{
		"country_iso3":   []string{"not", "a", "code"},
		"year":           "soon",
		"coverage_ratio": "n/a",
		"people_in_need": map[string]any{},
	})

	assert.Empty(t, c.ISO3)
	assert.Nil(t, c.Year)
	assert.Nil(t, c.CoverageRatio)
	assert.Zero(t, c.PeopleInNeed)
	assert.Equal(t, "Unknown", c.DisplayName())
	assert.Zero(t, c.Gap())
	assert.Zero(t, c.Coverage())
}

func TestCrisisFromFields_NilFields(t *testing.T) {
	c := CrisisFromFields(nil)
	assert.NotNil(t, c.Fields)
}

func TestCrisisRecord_GapFromRequirements(t *testing.T) {
	c := CrisisFromFields(map[string]any{"requirements": 100.0, "funding": 140.0})
	assert.Zero(t, c.Gap(), "over-funded plans have no gap")

	c = CrisisFromFields(map[string]any{"requirements": 100.0, "funding": 40.0})
	assert.Equal(t, 60.0, c.Gap())
}

func TestCrisisRecord_DisplayName(t *testing.T) {
	assert.Equal(t, "Yemen", CrisisFromFields(map[string]any{"country": "Yemen", "country_iso3": "YEM"}).DisplayName())
	assert.Equal(t, "YEM", CrisisFromFields(map[string]any{"country_iso3": "YEM"}).DisplayName())
	assert.Equal(t, "Chad", CrisisFromFields(map[string]any{"admin": "Chad"}).DisplayName())
}

func TestCrisesFromRecordSet(t *testing.T) {
	rs := ZipRows(ColumnSchema{"country_iso3", "coverage_ratio"}, []ResultRow{{"SDN", "0.1"}, {"HTI", nil}})

	crises := CrisesFromRecordSet(rs)

	require.Len(t, crises, 2)
	assert.Equal(t, "SDN", crises[0].ISO3)
	assert.Equal(t, 0.1, *crises[0].CoverageRatio)
	assert.Nil(t, crises[1].CoverageRatio)
}

func TestDecodeCrisisRecords(t *testing.T) {
	t.Run("array of objects", func(t *testing.T) {
		crises, err := DecodeCrisisRecords([]byte(`[{"country_iso3":"SDN","year":2024},{"country_iso3":"HTI"}]`))
		require.NoError(t, err)
		assert.Len(t, crises, 2)
	})

	t.Run("skips non-object elements", func(t *testing.T) {
		crises, err := DecodeCrisisRecords([]byte(`[1, "x", null, {"country_iso3":"SDN"}]`))
		require.NoError(t, err)
		require.Len(t, crises, 1)
		assert.Equal(t, "SDN", crises[0].ISO3)
	})

	t.Run("object is malformed", func(t *testing.T) {
		_, err := DecodeCrisisRecords([]byte(`{"country_iso3":"SDN"}`))
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("empty input is malformed", func(t *testing.T) {
		_, err := DecodeCrisisRecords(nil)
		require.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("truncated array is malformed", func(t *testing.T) {
		_, err := DecodeCrisisRecords([]byte(`[{"country_iso3":"SDN"}`))
		require.ErrorIs(t, err, ErrMalformedInput)
	})
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float", 1.5, 1.5, true},
		{"int", 3, 3, true},
		{"int64", int64(7), 7, true},
		{"json number", json.Number("0.25"), 0.25, true},
		{"numeric string", " 42 ", 42, true},
		{"empty string", "", 0, false},
		{"text", "UNK", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
