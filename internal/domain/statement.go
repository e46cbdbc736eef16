package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Default polling bounds for a statement: 60 polls at 500ms gives a 30s wait.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxPolls     = 60
)

// StatementRequest describes one statement submission and its local wait budget.
type StatementRequest struct {
	Text         string
	PollInterval time.Duration
	MaxPolls     int
}

// Budget is the longest the caller will wait locally for a terminal state.
func (r StatementRequest) Budget() time.Duration {
	return r.PollInterval * time.Duration(r.MaxPolls)
}

// WithDefaults fills zero poll settings with the package defaults.
func (r StatementRequest) WithDefaults() StatementRequest {
	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
	if r.MaxPolls <= 0 {
		r.MaxPolls = DefaultMaxPolls
	}
	return r
}

// StatementHandle is the opaque id the warehouse assigns on submission.
type StatementHandle string

// StatementState is the execution state reported by the warehouse.
type StatementState string

const (
	StateRunning   StatementState = "RUNNING"
	StateSucceeded StatementState = "SUCCEEDED"
	StateFailed    StatementState = "FAILED"
)

// IsTerminal reports whether polling should stop. Anything other than
// SUCCEEDED or FAILED (PENDING, CANCELED, unknown values) keeps polling.
func (s StatementState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ColumnSchema is the ordered list of result column names.
type ColumnSchema []string

// ResultRow holds raw values positionally aligned to a ColumnSchema.
type ResultRow []any

// Record is one result row keyed by column name. Key order follows the schema,
// including when encoded as JSON.
type Record struct {
	columns ColumnSchema
	values  []any
}

// NewRecord zips a schema with a row. Missing trailing values are nil and
// surplus values are ignored.
func NewRecord(columns ColumnSchema, row ResultRow) Record {
	values := make([]any, len(columns))
	copy(values, row)
	return Record{columns: columns, values: values}
}

// Keys returns the column names in schema order.
func (r Record) Keys() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Get returns the value stored under name.
func (r Record) Get(name string) (any, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.columns) }

// Map copies the record into a plain map. Column order is lost.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the record as an object with keys in schema order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordSet is the ordered result of a statement.
type RecordSet []Record

// ZipRows reshapes columnar results into records, one per row, preserving row
// order. The schema slice is copied once and shared by every record.
func ZipRows(columns ColumnSchema, rows []ResultRow) RecordSet {
	schema := make(ColumnSchema, len(columns))
	copy(schema, columns)

	out := make(RecordSet, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewRecord(schema, row))
	}
	return out
}

// Maps converts every record to a plain map.
func (rs RecordSet) Maps() []map[string]any {
	out := make([]map[string]any, len(rs))
	for i, r := range rs {
		out[i] = r.Map()
	}
	return out
}
