package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func crisis(iso string, year int, ratio any) CrisisRecord {
	return CrisisFromFields(map[string]any{
		"country_iso3":   iso,
		"year":           year,
		"coverage_ratio": ratio,
	})
}

func feature(props map[string]any) Feature {
	return Feature{
		Type:       "Feature",
		Geometry:   json.RawMessage(`{"type":"Point","coordinates":[0,0]}`),
		Properties: props,
	}
}

func TestClassifyCoverage(t *testing.T) {
	tests := []struct {
		name  string
		ratio *float64
		want  Bucket
	}{
		{"nil", nil, BucketNoData},
		{"NaN", ptr(math.NaN()), BucketNoData},
		{"zero", ptr(0.0), BucketCritical},
		{"negative", ptr(-0.2), BucketCritical},
		{"critical upper bound", ptr(0.15), BucketCritical},
		{"just above critical", ptr(0.150001), BucketSevere},
		{"severe upper bound", ptr(0.30), BucketSevere},
		{"moderate", ptr(0.4), BucketModerate},
		{"moderate upper bound", ptr(0.50), BucketModerate},
		{"mild", ptr(0.6), BucketMild},
		{"mild upper bound", ptr(0.75), BucketMild},
		{"funded", ptr(0.76), BucketFunded},
		{"over funded", ptr(1.4), BucketFunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCoverage(tt.ratio))
		})
	}
}

func TestBucket_DistinctPlaceholders(t *testing.T) {
	assert.NotEqual(t, BucketNoData, BucketUnmatched)
	assert.NotEqual(t, BucketNoData, BucketFunded)
	assert.Equal(t, BucketNoData.Color(), BucketFunded.Color())
	assert.Equal(t, "#f3f4f6", BucketUnmatched.Color())
	assert.Equal(t, "#7f1d1d", BucketCritical.Color())
	assert.Equal(t, BucketUnmatched.Color(), Bucket("bogus").Color())
}

func TestLatestByIdentifier(t *testing.T) {
	t.Run("greatest year wins", func(t *testing.T) {
		got := LatestByIdentifier([]CrisisRecord{
			crisis("AAA", 2023, 0.4),
			crisis("AAA", 2024, 0.1),
			crisis("AAA", 2022, 0.9),
		})
		require.Contains(t, got, "AAA")
		assert.Equal(t, 2024, *got["AAA"].Year)
	})

	t.Run("first seen wins ties", func(t *testing.T) {
		first := CrisisFromFields(map[string]any{"country_iso3": "BBB", "year": 2024, "country": "first"})
		second := CrisisFromFields(map[string]any{"country_iso3": "BBB", "year": 2024, "country": "second"})
		got := LatestByIdentifier([]CrisisRecord{first, second})
		assert.Equal(t, "first", got["BBB"].Country)
	})

	t.Run("unknown year never replaces", func(t *testing.T) {
		known := CrisisFromFields(map[string]any{"country_iso3": "CCC", "year": 2020, "country": "known"})
		unknown := CrisisFromFields(map[string]any{"country_iso3": "CCC", "country": "unknown"})
		got := LatestByIdentifier([]CrisisRecord{known, unknown})
		assert.Equal(t, "known", got["CCC"].Country)

		got = LatestByIdentifier([]CrisisRecord{unknown, known})
		assert.Equal(t, "unknown", got["CCC"].Country)
	})

	t.Run("records without code are ignored", func(t *testing.T) {
		got := LatestByIdentifier([]CrisisRecord{CrisisFromFields(map[string]any{"year": 2024})})
		assert.Empty(t, got)
	})

	t.Run("string years from the warehouse", func(t *testing.T) {
		got := LatestByIdentifier([]CrisisRecord{
			CrisisFromFields(map[string]any{"country_iso3": "DDD", "year": "2023"}),
			CrisisFromFields(map[string]any{"country_iso3": "DDD", "year": "2025"}),
		})
		assert.Equal(t, 2025, *got["DDD"].Year)
	})
}

func TestMerge_LatestRecordDrivesBucket(t *testing.T) {
	records := []CrisisRecord{crisis("AAA", 2023, 0.4), crisis("AAA", 2024, 0.1)}
	fc := NewFeatureCollection([]Feature{feature(map[string]any{"ISO_A3": "AAA"})})

	merged, stats := Merge(records, fc)

	require.Len(t, merged.Features, 1)
	props := merged.Features[0].Properties
	assert.Equal(t, 0.1, props["coverage_ratio"])
	assert.Equal(t, 2024, props["year"])
	assert.Equal(t, string(BucketCritical), props[BucketProperty])
	assert.Equal(t, BucketCritical.Color(), props[ColorProperty])
	assert.Equal(t, 1, stats.Matched)
}

func TestMerge_DropsSentinelOnlyFeature(t *testing.T) {
	fc := NewFeatureCollection([]Feature{
		feature(map[string]any{"ISO_A3": "SDN"}),
		feature(map[string]any{"ISO_A3": NoDataSentinel}),
	})

	merged, stats := Merge(nil, fc)

	assert.Len(t, merged.Features, len(fc.Features)-1)
	assert.Equal(t, 1, stats.Dropped)
}

func TestMerge_DropsFeaturesWithoutIdentifier(t *testing.T) {
	fc := NewFeatureCollection([]Feature{
		feature(map[string]any{"NAME": "Nowhere"}),
		feature(map[string]any{"ISO_A3": ""}),
		feature(nil),
	})

	merged, stats := Merge(nil, fc)

	assert.Empty(t, merged.Features)
	assert.Equal(t, 3, stats.Dropped)
}

func TestMerge_FallsBackThroughIdentifierPriority(t *testing.T) {
	records := []CrisisRecord{crisis("NOR", 2024, 0.9)}
	fc := NewFeatureCollection([]Feature{
		feature(map[string]any{"ISO_A3": NoDataSentinel, "ADM0_A3": "NOR"}),
		feature(map[string]any{"ISO_A3": nil, "iso_code": "NOR"}),
		feature(map[string]any{"BRK_A3": "NOR"}),
	})

	merged, stats := Merge(records, fc)

	require.Len(t, merged.Features, 3)
	assert.Equal(t, 3, stats.Matched)
	for _, f := range merged.Features {
		assert.Equal(t, string(BucketFunded), f.Properties[BucketProperty])
	}
}

func TestMerge_UnmatchedGetsDefaultOnly(t *testing.T) {
	records := []CrisisRecord{crisis("SDN", 2024, 0.1)}
	original := map[string]any{"ISO_A3": "ZZZ", "NAME": "Zedland"}
	fc := NewFeatureCollection([]Feature{feature(original)})

	merged, stats := Merge(records, fc)

	require.Len(t, merged.Features, 1)
	want := map[string]any{
		"ISO_A3":       "ZZZ",
		"NAME":         "Zedland",
		BucketProperty: string(BucketUnmatched),
		ColorProperty:  BucketUnmatched.Color(),
	}
	assert.Equal(t, want, merged.Features[0].Properties)
	assert.Equal(t, 1, stats.Unmatched)
}

func TestMerge_MatchedWithoutRatioIsNoData(t *testing.T) {
	records := []CrisisRecord{crisis("YEM", 2024, nil)}
	fc := NewFeatureCollection([]Feature{feature(map[string]any{"ISO_A3": "YEM"})})

	merged, _ := Merge(records, fc)

	assert.Equal(t, string(BucketNoData), merged.Features[0].Properties[BucketProperty])
}

func TestMerge_ClassificationOverridesRecordField(t *testing.T) {
	rec := CrisisFromFields(map[string]any{
		"country_iso3":   "SOM",
		"year":           2024,
		"coverage_ratio": 0.2,
		BucketProperty:   "stale",
		ColorProperty:    "#000000",
	})
	fc := NewFeatureCollection([]Feature{feature(map[string]any{"ISO_A3": "SOM"})})

	merged, _ := Merge([]CrisisRecord{rec}, fc)

	assert.Equal(t, string(BucketSevere), merged.Features[0].Properties[BucketProperty])
	assert.Equal(t, BucketSevere.Color(), merged.Features[0].Properties[ColorProperty])
}

func TestMerge_RecordFieldsOverlayGeometryProperties(t *testing.T) {
	rec := CrisisFromFields(map[string]any{"country_iso3": "HTI", "year": 2024, "NAME": "Haiti (plan)"})
	fc := NewFeatureCollection([]Feature{feature(map[string]any{"ISO_A3": "HTI", "NAME": "Haiti"})})

	merged, _ := Merge([]CrisisRecord{rec}, fc)

	assert.Equal(t, "Haiti (plan)", merged.Features[0].Properties["NAME"])
}

func TestMerge_PreservesFeatureOrder(t *testing.T) {
	records := []CrisisRecord{crisis("CCC", 2024, 0.2), crisis("AAA", 2024, 0.6)}
	fc := NewFeatureCollection([]Feature{
		feature(map[string]any{"ISO_A3": "AAA"}),
		feature(map[string]any{"ISO_A3": "-99"}),
		feature(map[string]any{"ISO_A3": "BBB"}),
		feature(map[string]any{"ISO_A3": "CCC"}),
	})

	merged, _ := Merge(records, fc)

	var ids []string
	for _, f := range merged.Features {
		ids = append(ids, f.Properties["ISO_A3"].(string))
	}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, ids)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	rec := crisis("SDN", 2024, 0.1)
	props := map[string]any{"ISO_A3": "SDN"}
	geometry := json.RawMessage(`{"type":"Point","coordinates":[30,15]}`)
	fc := NewFeatureCollection([]Feature{{Type: "Feature", Geometry: geometry, Properties: props}})

	merged, _ := Merge([]CrisisRecord{rec}, fc)
	merged.Features[0].Properties["extra"] = true
	merged.Features[0].Geometry[0] = 'X'

	assert.Equal(t, map[string]any{"ISO_A3": "SDN"}, props)
	assert.Equal(t, byte('{'), geometry[0])
	assert.NotContains(t, rec.Fields, BucketProperty)
}

func TestMerge_Idempotent(t *testing.T) {
	records := []CrisisRecord{crisis("SDN", 2024, 0.1), crisis("HTI", 2023, 0.45)}
	fc := NewFeatureCollection([]Feature{
		feature(map[string]any{"ISO_A3": "SDN"}),
		feature(map[string]any{"ISO_A3": "HTI"}),
		feature(map[string]any{"ISO_A3": "FRA"}),
		feature(map[string]any{"ISO_A3": "-99"}),
	})

	first, firstStats := Merge(records, fc)
	second, secondStats := Merge(records, fc)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("merge not idempotent (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstStats, secondStats); diff != "" {
		t.Errorf("stats differ (-first +second):\n%s", diff)
	}
}

func TestMerge_EndToEndExample(t *testing.T) {
	crises, err := DecodeCrisisRecords([]byte(`[{"country_iso3":"SDN","year":2024,"coverage_ratio":0.1}]`))
	require.NoError(t, err)
	fc, err := DecodeFeatureCollection([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"ISO_A3":"SDN"},"geometry":null},
		{"type":"Feature","properties":{"ISO_A3":"-99"},"geometry":null}
	]}`))
	require.NoError(t, err)

	merged, stats := Merge(crises, fc)

	require.Len(t, merged.Features, 1)
	props := merged.Features[0].Properties
	assert.Equal(t, json.Number("0.1"), props["coverage_ratio"])
	assert.Equal(t, string(BucketCritical), props[BucketProperty])
	assert.Equal(t, MergeStats{
		InputFeatures: 2,
		Dropped:       1,
		Matched:       1,
		ByBucket:      map[Bucket]int{BucketCritical: 1},
	}, stats)
	assert.Equal(t, 1, stats.Output())

	out, err := json.Marshal(merged)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,
		"properties":{"ISO_A3":"SDN","country_iso3":"SDN","year":2024,"coverage_ratio":0.1,
		"severity_bucket":"critical","severity_color":"#7f1d1d"}}]}`, string(out))
}
