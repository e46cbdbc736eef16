package domain

import (
	"bytes"
	"encoding/json"
)

// IdentifierProperties are the boundary attributes that may carry a country's
// ISO 3166-1 alpha-3 code, in priority order. Natural Earth fills ISO_A3 with
// the sentinel for disputed or partially recognised territories, in which case
// ADM0_A3 or BRK_A3 usually still holds a usable code.
var IdentifierProperties = []string{"ISO_A3", "ADM0_A3", "iso_code", "BRK_A3"}

// NoDataSentinel is Natural Earth's placeholder for "no code assigned".
const NoDataSentinel = "-99"

// Feature is a GeoJSON feature. Geometry is kept as raw JSON since it is only
// passed through.
type Feature struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	BBox       json.RawMessage `json:"bbox,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features in a collection.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// FeatureIdentifier resolves the feature's country code from
// IdentifierProperties. Null, empty and sentinel values are skipped.
func FeatureIdentifier(props map[string]any) (string, bool) {
	for _, key := range IdentifierProperties {
		s, ok := scalarString(props[key])
		if !ok || s == "" || s == NoDataSentinel {
			continue
		}
		return s, true
	}
	return "", false
}

// DecodeFeatureCollection parses a GeoJSON FeatureCollection. A document that
// is not an object, or whose features member is not an array, is
// ErrMalformedInput. Individual features that are not objects are skipped.
func DecodeFeatureCollection(data []byte) (FeatureCollection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return FeatureCollection{}, malformed("feature collection: expected a JSON object")
	}

	var doc struct {
		Type     string          `json:"type"`
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return FeatureCollection{}, malformed("feature collection: %v", err)
	}
	features := bytes.TrimSpace(doc.Features)
	if len(features) == 0 || features[0] != '[' {
		return FeatureCollection{}, malformed("feature collection: features must be an array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(features, &raw); err != nil {
		return FeatureCollection{}, malformed("feature collection: %v", err)
	}

	out := make([]Feature, 0, len(raw))
	for _, elem := range raw {
		f, ok := decodeFeature(elem)
		if !ok {
			continue
		}
		out = append(out, f)
	}
	fc := NewFeatureCollection(out)
	if doc.Type != "" {
		fc.Type = doc.Type
	}
	return fc, nil
}

func decodeFeature(data json.RawMessage) (Feature, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Feature{}, false
	}
	var f struct {
		Type       string          `json:"type"`
		ID         json.RawMessage `json:"id"`
		BBox       json.RawMessage `json:"bbox"`
		Geometry   json.RawMessage `json:"geometry"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Feature{}, false
	}
	props, ok := decodeObject(f.Properties)
	if !ok {
		props = map[string]any{}
	}
	if f.Type == "" {
		f.Type = "Feature"
	}
	return Feature{
		Type:       f.Type,
		ID:         f.ID,
		BBox:       f.BBox,
		Geometry:   f.Geometry,
		Properties: props,
	}, true
}
