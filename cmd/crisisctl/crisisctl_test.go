package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boundariesJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"ISO_A3":"SDN","NAME":"Sudan"},"geometry":{"type":"Point","coordinates":[30,15]}},
 {"type":"Feature","properties":{"ISO_A3":"-99","ADM0_A3":"HTI","NAME":"Haiti"},"geometry":{"type":"Point","coordinates":[-72,19]}},
 {"type":"Feature","properties":{"ISO_A3":"FRA","NAME":"France"},"geometry":{"type":"Point","coordinates":[2,46]}},
 {"type":"Feature","properties":{"ISO_A3":"-99","NAME":"Disputed"},"geometry":{"type":"Point","coordinates":[0,0]}}
]}`

const crisesJSON = `[
 {"country_iso3":"SDN","country":"Sudan","year":2023,"coverage_ratio":0.4},
 {"country_iso3":"SDN","country":"Sudan","year":2024,"coverage_ratio":0.12},
 {"country_iso3":"HTI","country":"Haiti","year":2024,"coverage_ratio":null}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	boundaries := writeFile(t, dir, "boundaries.geojson", boundariesJSON)
	crises := writeFile(t, dir, "top_crises.json", crisesJSON)
	out := filepath.Join(dir, "out", "crisis_map.geojson")

	stdout, err := execute(t, "merge", "--env-file", "",
		"--crises", crises, "--boundaries", boundaries, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 3 features")
	assert.Contains(t, stdout, "matched 2, unmatched 1, dropped 1")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	fc, err := domain.DecodeFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "critical", fc.Features[0].Properties[domain.BucketProperty])
	assert.Equal(t, "no_data", fc.Features[1].Properties[domain.BucketProperty])
	assert.Equal(t, "unmatched", fc.Features[2].Properties[domain.BucketProperty])

	stdout, err = execute(t, "validate", out, "--crises", crises)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "All validations passed.")
}

func TestMergeCommand_PublishNeedsKafka(t *testing.T) {
	t.Setenv("KAFKA_MAP_TOPIC", "")
	_, err := execute(t, "merge", "--env-file", "", "--publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestMergeFile_MalformedCrises(t *testing.T) {
	path := writeFile(t, t.TempDir(), "crises.json", `{"not":"an array"}`)
	_, _, err := mergeFile(path, domain.NewFeatureCollection(nil))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestValidateMap_Failures(t *testing.T) {
	fc := domain.NewFeatureCollection([]domain.Feature{
		{Type: "Feature", Geometry: []byte(`{}`), Properties: map[string]any{
			"ISO_A3": "SDN", domain.BucketProperty: "mild", domain.ColorProperty: domain.BucketMild.Color(),
		}},
		{Type: "Feature", Geometry: []byte(`{}`), Properties: map[string]any{
			"ISO_A3": "-99", domain.BucketProperty: "purple",
		}},
		{Type: "Polygon", Properties: map[string]any{
			"ISO_A3": "FRA", domain.BucketProperty: "unmatched", domain.ColorProperty: "#000000",
		}},
	})
	records, err := domain.DecodeCrisisRecords([]byte(crisesJSON))
	require.NoError(t, err)

	phases := validateMap(fc, records, true)
	require.Len(t, phases, 3)

	assert.Equal(t, []string{
		`feature 2: type "Polygon", want Feature`,
		"feature 2: missing geometry",
	}, phases[0].errors)
	assert.Equal(t, []string{
		"feature 1: no resolvable country code",
		`feature 1: unknown bucket "purple"`,
		`feature 2: severity_color "#000000" for bucket unmatched, want "#f3f4f6"`,
	}, phases[1].errors)
	assert.Equal(t, []string{
		`feature 0 (SDN): bucket "mild", want "critical"`,
	}, phases[2].errors)

	var out bytes.Buffer
	assert.False(t, report(&out, fc, phases))
	assert.Contains(t, out.String(), "Validation FAILED.")
}

func TestValidateCommand_RejectsNonCollection(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.geojson", `[]`)
	_, err := execute(t, "validate", path)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}
