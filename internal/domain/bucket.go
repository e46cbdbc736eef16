package domain

import "math"

// Bucket is the funding-severity class drawn on the map.
type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketSevere   Bucket = "severe"
	BucketModerate Bucket = "moderate"
	BucketMild     Bucket = "mild"
	BucketFunded   Bucket = "funded"

	// BucketNoData marks a matched country whose coverage ratio is missing.
	BucketNoData Bucket = "no_data"
	// BucketUnmatched marks a country with no crisis record at all.
	BucketUnmatched Bucket = "unmatched"
)

// Property names written onto merged features.
const (
	BucketProperty = "severity_bucket"
	ColorProperty  = "severity_color"
)

// Funded and no-data share a fill today. They stay separate buckets so a
// well-funded response is never reported as unknown.
var bucketColors = map[Bucket]string{
	BucketCritical:  "#7f1d1d",
	BucketSevere:    "#b91c1c",
	BucketModerate:  "#f87171",
	BucketMild:      "#fca5a5",
	BucketFunded:    "#e5e7eb",
	BucketNoData:    "#e5e7eb",
	BucketUnmatched: "#f3f4f6",
}

// Buckets lists every bucket from most to least severe, then the two
// placeholders.
var Buckets = []Bucket{
	BucketCritical, BucketSevere, BucketModerate, BucketMild, BucketFunded,
	BucketNoData, BucketUnmatched,
}

// Color returns the fill color for the bucket.
func (b Bucket) Color() string {
	if c, ok := bucketColors[b]; ok {
		return c
	}
	return bucketColors[BucketUnmatched]
}

// ClassifyCoverage maps a coverage ratio (funding / requirements) to a bucket.
// Upper bounds are inclusive:
//
//	nil, NaN        no_data
//	r <= 0.15       critical
//	r <= 0.30       severe
//	r <= 0.50       moderate
//	r <= 0.75       mild
//	r >  0.75       funded
func ClassifyCoverage(ratio *float64) Bucket {
	if ratio == nil || math.IsNaN(*ratio) {
		return BucketNoData
	}
	r := *ratio
	switch {
	case r <= 0.15:
		return BucketCritical
	case r <= 0.30:
		return BucketSevere
	case r <= 0.50:
		return BucketModerate
	case r <= 0.75:
		return BucketMild
	default:
		return BucketFunded
	}
}
