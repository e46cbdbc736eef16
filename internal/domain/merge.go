package domain

import (
	"bytes"
	"maps"
)

// MergeStats summarises one merge run.
type MergeStats struct {
	InputFeatures int
	Dropped       int
	Matched       int
	Unmatched     int
	ByBucket      map[Bucket]int
}

// Output returns the number of emitted features.
func (s MergeStats) Output() int { return s.Matched + s.Unmatched }

// LatestByIdentifier keeps one record per ISO3 code: the one with the greatest
// year. A later record replaces the kept one only when both years are known
// and the later one is strictly greater, so ties and unknown years keep the
// first record seen. Records without a code are ignored.
func LatestByIdentifier(records []CrisisRecord) map[string]CrisisRecord {
	byID := make(map[string]CrisisRecord, len(records))
	for _, rec := range records {
		if rec.ISO3 == "" {
			continue
		}
		kept, ok := byID[rec.ISO3]
		if !ok || newerYear(rec.Year, kept.Year) {
			byID[rec.ISO3] = rec
		}
	}
	return byID
}

func newerYear(candidate, kept *int) bool {
	return candidate != nil && kept != nil && *candidate > *kept
}

// Merge joins crisis records onto boundary features.
//
// Features whose identifier cannot be resolved are dropped. A matched feature
// gets every source field of its record plus the bucket derived from the
// record's coverage ratio; the bucket is written last so a record field of the
// same name never wins. Unmatched features get BucketUnmatched only.
//
// Output order follows fc. Neither input is modified.
func Merge(records []CrisisRecord, fc FeatureCollection) (FeatureCollection, MergeStats) {
	byID := LatestByIdentifier(records)

	stats := MergeStats{
		InputFeatures: len(fc.Features),
		ByBucket:      make(map[Bucket]int, len(Buckets)),
	}
	out := make([]Feature, 0, len(fc.Features))

	for _, f := range fc.Features {
		id, ok := FeatureIdentifier(f.Properties)
		if !ok {
			stats.Dropped++
			continue
		}

		props := maps.Clone(f.Properties)
		if props == nil {
			props = make(map[string]any, 2)
		}

		bucket := BucketUnmatched
		if rec, found := byID[id]; found {
			maps.Copy(props, rec.Fields)
			bucket = ClassifyCoverage(rec.CoverageRatio)
			stats.Matched++
		} else {
			stats.Unmatched++
		}
		props[BucketProperty] = string(bucket)
		props[ColorProperty] = bucket.Color()
		stats.ByBucket[bucket]++

		out = append(out, Feature{
			Type:       f.Type,
			ID:         bytes.Clone(f.ID),
			BBox:       bytes.Clone(f.BBox),
			Geometry:   bytes.Clone(f.Geometry),
			Properties: props,
		})
	}

	merged := NewFeatureCollection(out)
	if fc.Type != "" {
		merged.Type = fc.Type
	}
	return merged, stats
}
