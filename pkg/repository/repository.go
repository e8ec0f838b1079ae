// Package repository builds the data access operations for each record
// table and submits them for execution.
//
// Builders are pure: they turn request parameters into dal.Operations using
// the dialect's placeholder style, and use RETURNING where the dialect
// supports it. Without RETURNING, writes run as commands followed by a
// read-back of the affected row.
package repository

import (
	"context"
	"time"

	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

const (
	// DefaultLimit is the page size used when none is given
	DefaultLimit = 100
	// MaxLimit bounds the page size
	MaxLimit = 1000
)

// Submitter runs an operation from admission to release
type Submitter interface {
	Dispatch(ctx context.Context, op *dal.Operation) (*dal.Result, error)
}

// Page selects a window of a listing
type Page struct {
	Skip  int `json:"skip" form:"skip"`
	Limit int `json:"limit" form:"limit"`
}

// Normalize applies the default limit and validates bounds
func (p Page) Normalize() (Page, error) {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Skip < 0 {
		return p, errors.New(errors.ErrorTypeValidation, "skip must not be negative")
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, errors.Newf(errors.ErrorTypeValidation, "limit must be between 1 and %d", MaxLimit)
	}
	return p, nil
}

// Match is a column = value condition
type Match struct {
	Column string
	Value  interface{}
}

const orderNewest = "created_at DESC, id DESC"

// Repository provides CRUD operations for one table
type Repository struct {
	table     *models.Table
	dialect   datastore.Dialect
	submitter Submitter
	now       func() time.Time
	// prepare, when set, rewrites create values before they are checked
	prepare func(values map[string]interface{}) map[string]interface{}
}

// New creates a repository for table
func New(table *models.Table, dialect datastore.Dialect, submitter Submitter) *Repository {
	return &Repository{
		table:     table,
		dialect:   dialect,
		submitter: submitter,
		now:       time.Now,
	}
}

// Table returns the table description
func (r *Repository) Table() *models.Table { return r.table }

func (r *Repository) opName(action string) string {
	return r.table.Name + "." + action
}

func (r *Repository) query(action string, b *builder) *dal.Operation {
	return &dal.Operation{
		Name:      r.opName(action),
		Kind:      dal.KindQuery,
		Statement: b.String(),
		Args:      b.args,
		Mapper:    r.table.Decode,
	}
}

func (r *Repository) command(action string, b *builder) *dal.Operation {
	return &dal.Operation{
		Name:      r.opName(action),
		Kind:      dal.KindCommand,
		Statement: b.String(),
		Args:      b.args,
	}
}

func (r *Repository) selectFrom() *builder {
	return newBuilder(r.dialect).write("SELECT ", r.table.SelectList(), " FROM ", r.table.Name)
}

func (r *Repository) paginate(b *builder, page Page) *builder {
	return r.paginateBy(b, orderNewest, page)
}

func (r *Repository) paginateBy(b *builder, order string, page Page) *builder {
	return b.write(" ORDER BY ", order, " LIMIT ").arg(page.Limit).write(" OFFSET ").arg(page.Skip)
}

// where appends the conjunction of matches
func (r *Repository) where(b *builder, matches []Match) error {
	for i, m := range matches {
		if _, ok := r.table.Column(m.Column); !ok {
			return errors.Newf(errors.ErrorTypeValidation, "%s has no column %q", r.table.Name, m.Column)
		}
		if i == 0 {
			b.write(" WHERE ")
		} else {
			b.write(" AND ")
		}
		b.write(m.Column, " = ").arg(m.Value)
	}
	return nil
}

// ListOp builds a newest-first listing
func (r *Repository) ListOp(page Page) (*dal.Operation, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	op := r.query("list", r.paginate(r.selectFrom(), page))
	op.MaxRows = page.Limit
	return op, nil
}

// ListByOp builds a newest-first listing filtered on column = value
func (r *Repository) ListByOp(column string, value interface{}, page Page) (*dal.Operation, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	if _, ok := r.table.Column(column); !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%s has no column %q", r.table.Name, column)
	}
	b := r.selectFrom().write(" WHERE ", column, " = ").arg(value)
	op := r.query("list_by_"+column, r.paginate(b, page))
	op.MaxRows = page.Limit
	return op, nil
}

// ListWhereOp builds a listing filtered on every match and sorted by order
func (r *Repository) ListWhereOp(action string, matches []Match, order string, page Page) (*dal.Operation, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	b := r.selectFrom()
	if err := r.where(b, matches); err != nil {
		return nil, err
	}
	op := r.query(action, r.paginateBy(b, order, page))
	op.MaxRows = page.Limit
	return op, nil
}

// GetOp builds a primary key lookup
func (r *Repository) GetOp(id int64) *dal.Operation {
	return r.query("get", r.selectFrom().write(" WHERE id = ").arg(id))
}

// FindOp builds a single-row lookup on column = value
func (r *Repository) FindOp(column string, value interface{}) (*dal.Operation, error) {
	if _, ok := r.table.Column(column); !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%s has no column %q", r.table.Name, column)
	}
	b := r.selectFrom().write(" WHERE ", column, " = ").arg(value).write(" ORDER BY id LIMIT 1")
	return r.query("find_by_"+column, b), nil
}

// CountOp builds a row count
func (r *Repository) CountOp() *dal.Operation {
	return &dal.Operation{
		Name:      r.opName("count"),
		Kind:      dal.KindQuery,
		Statement: "SELECT COUNT(*) AS count FROM " + r.table.Name,
		Mapper:    models.DecodeCount,
	}
}

// CreateOp builds an insert. Values are keyed by column name; omitted
// columns take their default, and required columns must be present.
func (r *Repository) CreateOp(values map[string]interface{}) (*dal.Operation, error) {
	if r.prepare != nil {
		values = r.prepare(values)
	}
	if err := checkFields(r.table, values); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	names := []string{"created_at", "updated_at"}
	args := []interface{}{now, now}
	for _, col := range r.table.Columns {
		if !col.Writable {
			continue
		}
		v := values[col.Name]
		if v == nil {
			if col.Required {
				return nil, errors.Newf(errors.ErrorTypeValidation, "field %s is required", col.Name).
					WithDetail("field", col.Name)
			}
			if col.Default == nil {
				continue
			}
			v = col.Default
		}
		cv, err := col.Coerce(v)
		if err != nil {
			return nil, err
		}
		names = append(names, col.Name)
		args = append(args, cv)
	}

	b := newBuilder(r.dialect).write("INSERT INTO ", r.table.Name, " (")
	for i, name := range names {
		if i > 0 {
			b.write(", ")
		}
		b.write(name)
	}
	b.write(") VALUES (")
	for i, v := range args {
		if i > 0 {
			b.write(", ")
		}
		b.arg(v)
	}
	b.write(")").returning(r.table)

	if r.dialect.SupportsReturning {
		return r.query("create", b), nil
	}
	return r.command("create", b), nil
}

// UpdateOp builds a partial update; nil values are skipped
func (r *Repository) UpdateOp(id int64, patch map[string]interface{}) (*dal.Operation, error) {
	if err := checkFields(r.table, patch); err != nil {
		return nil, err
	}

	b := newBuilder(r.dialect).write("UPDATE ", r.table.Name, " SET ")
	for _, col := range r.table.Columns {
		v, ok := patch[col.Name]
		if !ok || v == nil {
			continue
		}
		cv, err := col.Coerce(v)
		if err != nil {
			return nil, err
		}
		b.write(col.Name, " = ").arg(cv).write(", ")
	}
	b.write("updated_at = ").arg(r.now().UTC())
	b.write(" WHERE id = ").arg(id).returning(r.table)

	if r.dialect.SupportsReturning {
		return r.query("update", b), nil
	}
	return r.command("update", b), nil
}

// set is one SET entry of a state change. A non-empty expr is written
// verbatim instead of binding value.
type set struct {
	column string
	value  interface{}
	expr   string
}

// changeOp builds an UPDATE of one record that may use column expressions
// and NULLs. guard, when non-empty, further restricts the row.
func (r *Repository) changeOp(action string, id int64, sets []set, guard string) *dal.Operation {
	b := newBuilder(r.dialect).write("UPDATE ", r.table.Name, " SET ")
	for _, s := range sets {
		b.write(s.column, " = ")
		if s.expr != "" {
			b.write(s.expr)
		} else {
			b.arg(s.value)
		}
		b.write(", ")
	}
	b.write("updated_at = ").arg(r.now().UTC())
	b.write(" WHERE id = ").arg(id)
	if guard != "" {
		b.write(" AND ", guard)
	}
	b.returning(r.table)

	if r.dialect.SupportsReturning {
		return r.query(action, b)
	}
	return r.command(action, b)
}

// change runs a changeOp and returns the record as stored. matched is false
// when the record exists but the guard excluded it.
func (r *Repository) change(ctx context.Context, op *dal.Operation, id int64) (rec models.Record, matched bool, err error) {
	res, err := r.submitter.Dispatch(ctx, op)
	if err != nil {
		return nil, false, err
	}
	if r.dialect.SupportsReturning {
		if rec, ok := res.First(); ok {
			return rec, true, nil
		}
	} else if res.RowsAffected > 0 {
		rec, err := r.Get(ctx, id)
		return rec, err == nil, err
	}
	rec, err = r.Get(ctx, id)
	return rec, false, err
}

// DeleteOp builds a delete by primary key
func (r *Repository) DeleteOp(id int64) *dal.Operation {
	return r.command("delete", newBuilder(r.dialect).write("DELETE FROM ", r.table.Name, " WHERE id = ").arg(id))
}

// List returns a page of records, newest first
func (r *Repository) List(ctx context.Context, page Page) ([]models.Record, error) {
	op, err := r.ListOp(page)
	if err != nil {
		return nil, err
	}
	return r.records(ctx, op)
}

// ListBy returns a page of records where column = value
func (r *Repository) ListBy(ctx context.Context, column string, value interface{}, page Page) ([]models.Record, error) {
	op, err := r.ListByOp(column, value, page)
	if err != nil {
		return nil, err
	}
	return r.records(ctx, op)
}

// ListByCampaign returns a page of records belonging to a campaign
func (r *Repository) ListByCampaign(ctx context.Context, campaignID int64, page Page) ([]models.Record, error) {
	return r.ListBy(ctx, "campaign_id", campaignID, page)
}

// Get returns the record with the given id
func (r *Repository) Get(ctx context.Context, id int64) (models.Record, error) {
	return r.one(ctx, r.GetOp(id), id)
}

// FindBy returns the first record where column = value
func (r *Repository) FindBy(ctx context.Context, column string, value interface{}) (models.Record, error) {
	op, err := r.FindOp(column, value)
	if err != nil {
		return nil, err
	}
	res, err := r.submitter.Dispatch(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, ok := res.First()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "%s with %s %v not found", r.table.Name, column, value)
	}
	return rec, nil
}

// Count returns the number of rows in the table
func (r *Repository) Count(ctx context.Context) (int64, error) {
	res, err := r.submitter.Dispatch(ctx, r.CountOp())
	if err != nil {
		return 0, err
	}
	rec, ok := res.First()
	if !ok {
		return 0, errors.New(errors.ErrorTypeQuery, "count returned no rows")
	}
	return rec.(models.Count).N, nil
}

// Create inserts a record and returns it as stored
func (r *Repository) Create(ctx context.Context, values map[string]interface{}) (models.Record, error) {
	op, err := r.CreateOp(values)
	if err != nil {
		return nil, err
	}
	res, err := r.submitter.Dispatch(ctx, op)
	if err != nil {
		return nil, err
	}
	if r.dialect.SupportsReturning {
		rec, ok := res.First()
		if !ok {
			return nil, errors.New(errors.ErrorTypeQuery, "insert returned no row").WithDetail("table", r.table.Name)
		}
		return rec, nil
	}
	if res.LastInsertID == 0 {
		return nil, errors.New(errors.ErrorTypeQuery, "insert reported no id").WithDetail("table", r.table.Name)
	}
	return r.Get(ctx, res.LastInsertID)
}

// Update applies patch to the record with the given id
func (r *Repository) Update(ctx context.Context, id int64, patch map[string]interface{}) (models.Record, error) {
	op, err := r.UpdateOp(id, patch)
	if err != nil {
		return nil, err
	}
	if r.dialect.SupportsReturning {
		return r.one(ctx, op, id)
	}
	if _, err := r.submitter.Dispatch(ctx, op); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes the record with the given id
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.submitter.Dispatch(ctx, r.DeleteOp(id))
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return r.notFound(id)
	}
	return nil
}

func (r *Repository) records(ctx context.Context, op *dal.Operation) ([]models.Record, error) {
	res, err := r.submitter.Dispatch(ctx, op)
	if err != nil {
		return nil, err
	}
	if res.Records == nil {
		return []models.Record{}, nil
	}
	return res.Records, nil
}

func (r *Repository) one(ctx context.Context, op *dal.Operation, id int64) (models.Record, error) {
	res, err := r.submitter.Dispatch(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, ok := res.First()
	if !ok {
		return nil, r.notFound(id)
	}
	return rec, nil
}

func (r *Repository) notFound(id int64) error {
	return errors.Newf(errors.ErrorTypeNotFound, "%s %d not found", r.table.Name, id).
		WithDetail("table", r.table.Name).
		WithDetail("id", id)
}
