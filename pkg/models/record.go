// Package models defines the BRICK2 domain records (users, campaigns, ads,
// performance metrics, leads, memories and orchestration sessions) and
// their row mappings.
//
// Mapping is explicit: every record type has a Decode function that walks
// the row's columns with a switch, converting each value with the helpers
// in values.go. Decoding is pure, so the same row always yields an equal
// record, and any mismatch is reported as a decode error instead of a panic.
package models

import (
	"strings"
	"time"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
)

// Record is an immutable domain entity materialized from one row
type Record interface {
	// TableName returns the table the record was read from
	TableName() string
	// RecordID returns the primary key
	RecordID() int64
}

// Decoder maps one row to a record
type Decoder func(row datastore.Row) (Record, error)

// Base holds the columns shared by every table
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordID implements Record
func (b Base) RecordID() int64 { return b.ID }

// decodeBase handles the shared columns; ok is false for other columns
func (b *Base) decodeBase(column string, v interface{}) (ok bool, err error) {
	switch column {
	case "id":
		b.ID, err = Int64(v)
	case "created_at":
		b.CreatedAt, err = Time(v)
	case "updated_at":
		b.UpdatedAt, err = Time(v)
	default:
		return false, nil
	}
	return true, err
}

// Kind is the storage type of a column
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindTime
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Column describes one table column
type Column struct {
	Name string
	Kind Kind
	// Writable columns may be set by create and update
	Writable bool
	// Required columns must be present on create
	Required bool
	// Hidden columns are never selected for API responses
	Hidden bool
	// Default is applied on create when the caller omits the column
	Default interface{}
	// Range bounds numeric values when set
	Range *Range
}

// Range is an inclusive numeric bound
type Range struct {
	Min, Max float64
}

// Table is the static description of a record table
type Table struct {
	Name    string
	Columns []Column
	Decode  Decoder
}

// Column returns the named column
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Selectable returns the names of the columns read into records
func (t *Table) Selectable() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Hidden {
			names = append(names, c.Name)
		}
	}
	return names
}

// SelectList returns Selectable joined for use in a SELECT clause
func (t *Table) SelectList() string {
	return strings.Join(t.Selectable(), ", ")
}

func baseColumns() []Column {
	return []Column{
		{Name: "id", Kind: KindInt},
		{Name: "created_at", Kind: KindTime},
		{Name: "updated_at", Kind: KindTime},
	}
}

// Tables lists every record table by name
var Tables = map[string]*Table{
	UsersTable.Name:        UsersTable,
	CampaignsTable.Name:    CampaignsTable,
	AdsTable.Name:          AdsTable,
	PerformancesTable.Name: PerformancesTable,
	LeadsTable.Name:        LeadsTable,
	MemoriesTable.Name:     MemoriesTable,
	SessionsTable.Name:     SessionsTable,
}

// Count is the single-value result of a COUNT(*) query
type Count struct {
	N int64 `json:"count"`
}

// TableName implements Record
func (Count) TableName() string { return "" }

// RecordID implements Record
func (c Count) RecordID() int64 { return c.N }

// DecodeCount maps a row with one numeric column
func DecodeCount(row datastore.Row) (Record, error) {
	if err := checkShape(row); err != nil {
		return nil, err
	}
	if len(row.Values) != 1 {
		return nil, errors.Newf(errors.ErrorTypeDecode, "expected 1 column, got %d", len(row.Values)).
			WithDetail("row", row.Index)
	}
	n, err := Int64(row.Values[0])
	if err != nil {
		return nil, decodeError(row, row.Columns[0], err)
	}
	return Count{N: n}, nil
}

func decodeError(row datastore.Row, column string, cause error) error {
	e := errors.Wrap(cause, errors.ErrorTypeDecode, "failed to decode row").
		WithDetail("row", row.Index)
	if column != "" {
		e = e.WithDetail("column", column)
	}
	return e
}

func unknownColumn(row datastore.Row, table, column string) error {
	return errors.Newf(errors.ErrorTypeDecode, "unexpected column %q for table %s", column, table).
		WithDetail("row", row.Index).
		WithDetail("column", column)
}

// checkShape guards against drivers returning mismatched column and value counts
func checkShape(row datastore.Row) error {
	if len(row.Columns) != len(row.Values) {
		return errors.Newf(errors.ErrorTypeDecode, "row has %d columns but %d values", len(row.Columns), len(row.Values)).
			WithDetail("row", row.Index)
	}
	return nil
}
