package dal

import (
	"strings"
	"time"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

// Kind distinguishes row-returning operations from commands
type Kind int

const (
	// KindQuery returns rows mapped to records
	KindQuery Kind = iota
	// KindCommand returns an affected row count
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Operation is one unit of data access work, built per inbound request
type Operation struct {
	Name      string
	Kind      Kind
	Statement string
	Args      []interface{}
	// Deadline bounds the operation in addition to the context deadline and
	// the executor's query timeout. Zero means no extra bound.
	Deadline time.Time
	// Mapper converts each returned row; required for queries
	Mapper models.Decoder
	// MaxRows overrides the executor's result size limit when positive
	MaxRows int
}

// Validate rejects malformed operations before they reach a connection
func (op *Operation) Validate() error {
	if op == nil {
		return errors.New(errors.ErrorTypeQuery, "nil operation")
	}
	if strings.TrimSpace(op.Statement) == "" {
		return errors.New(errors.ErrorTypeQuery, "empty statement").WithDetail("operation", op.Name)
	}
	switch op.Kind {
	case KindQuery:
		if op.Mapper == nil {
			return errors.New(errors.ErrorTypeQuery, "query without mapper").WithDetail("operation", op.Name)
		}
	case KindCommand:
	default:
		return errors.Newf(errors.ErrorTypeQuery, "unknown operation kind %d", int(op.Kind)).WithDetail("operation", op.Name)
	}
	if op.MaxRows < 0 {
		return errors.New(errors.ErrorTypeQuery, "negative row limit").WithDetail("operation", op.Name)
	}
	return nil
}

// Result is the outcome of a successful operation
type Result struct {
	Records      []models.Record `json:"records,omitempty"`
	RowsAffected int64           `json:"rows_affected"`
	LastInsertID int64           `json:"last_insert_id,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

// First returns the first record, if any
func (r *Result) First() (models.Record, bool) {
	if r == nil || len(r.Records) == 0 {
		return nil, false
	}
	return r.Records[0], true
}
