package repository

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

// builder accumulates a statement and its positional arguments
type builder struct {
	dialect datastore.Dialect
	sb      strings.Builder
	args    []interface{}
}

func newBuilder(dialect datastore.Dialect) *builder {
	return &builder{dialect: dialect}
}

func (b *builder) write(parts ...string) *builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
	return b
}

// arg appends v and writes its placeholder
func (b *builder) arg(v interface{}) *builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.Placeholder(len(b.args)))
	return b
}

func (b *builder) returning(table *models.Table) *builder {
	if b.dialect.SupportsReturning {
		b.write(" RETURNING ", table.SelectList())
	}
	return b
}

func (b *builder) String() string { return b.sb.String() }

// checkFields rejects keys that are not writable columns of table
func checkFields(table *models.Table, values map[string]interface{}) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		col, ok := table.Column(k)
		if !ok || !col.Writable {
			return errors.Newf(errors.ErrorTypeValidation, "unknown field %q for %s", k, table.Name).
				WithDetail("field", k)
		}
	}
	return nil
}
