// Package domain models humanitarian crisis funding data and the warehouse
// statements used to read it.
//
// # Data Source
//
// Crisis rows come from a Databricks SQL warehouse table (top_crises by
// default), one row per country and humanitarian response plan year. Columns
// follow the OCHA Financial Tracking Service vocabulary:
//
//	country         display name
//	country_iso3    ISO 3166-1 alpha-3 code, the join key
//	year            plan year
//	people_in_need  population requiring assistance
//	people_targeted population the plan intends to reach
//	requirements    USD requested by the plan
//	funding         USD received
//	funding_gap     requirements - funding (sign varies by source)
//	coverage_ratio  funding / requirements, 0.0-1.0, null when unknown
//
// The warehouse returns every value as a string; exported JSON snapshots use
// numbers. [CrisisFromFields] is the single adapter that accepts both, along
// with the alternate column spellings seen in query aliases.
//
// # Statements
//
// A statement is submitted once, then polled by handle until SUCCEEDED or
// FAILED. Results arrive columnar (schema + row arrays) and are zipped into
// ordered [Record] values by [ZipRows].
//
// # Boundaries and Severity
//
// Country polygons come from Natural Earth admin-0 GeoJSON. The code lives in
// one of several attributes (see [IdentifierProperties]); "-99" means none.
// [Merge] attaches the latest plan year per country and a severity bucket:
//
//	coverage <= 15%   critical
//	coverage <= 30%   severe
//	coverage <= 50%   moderate
//	coverage <= 75%   mild
//	coverage >  75%   funded
//
// Countries with a record but no ratio are no_data; countries without a
// record are unmatched.
package domain
