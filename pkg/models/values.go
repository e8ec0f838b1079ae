package models

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/json"
)

// Drivers hand back different Go types for the same column: pgx returns
// typed values, MySQL may return []byte, SQLite returns int64 for booleans.
// The helpers below fold those into one representation per Kind.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// number is satisfied by json.Number
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

func typeError(want string, v interface{}) error {
	return errors.Newf(errors.ErrorTypeDecode, "cannot convert %T to %s", v, want)
}

func nullError() error {
	return errors.New(errors.ErrorTypeDecode, "unexpected NULL")
}

// Int64 converts a non-NULL integer value
func Int64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nullError()
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errors.Newf(errors.ErrorTypeDecode, "value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Newf(errors.ErrorTypeDecode, "value %v is not an integer", n)
		}
		return int64(n), nil
	case []byte:
		return parseInt(string(n))
	case string:
		return parseInt(n)
	case number:
		return n.Int64()
	default:
		return 0, typeError("int64", v)
	}
}

func parseInt(s string) (int64, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeDecode, "invalid integer")
	}
	return i, nil
}

// Float64 converts a non-NULL numeric value
func Float64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nullError()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case []byte:
		return parseFloat(string(n))
	case string:
		return parseFloat(n)
	case number:
		return n.Float64()
	default:
		return 0, typeError("float64", v)
	}
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeDecode, "invalid number")
	}
	return f, nil
}

// String converts a non-NULL text value
func String(v interface{}) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nullError()
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", typeError("string", v)
	}
}

// Bool converts a non-NULL boolean value. Integers 0 and 1 are accepted
// for engines without a native boolean type.
func Bool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nullError()
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int:
		return b != 0, nil
	case []byte:
		return parseBool(string(b))
	case string:
		return parseBool(b)
	default:
		return false, typeError("bool", v)
	}
}

func parseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeDecode, "invalid boolean")
	}
	return b, nil
}

// Time converts a non-NULL timestamp value; results are in UTC
func Time(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nullError()
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, typeError("time", v)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeDecode, "invalid timestamp %q", s)
}

// JSON converts a JSON column. Text is validated and copied; decoded
// values (maps, slices) are re-encoded.
func JSON(v interface{}) (json.RawMessage, error) {
	switch j := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return validJSON(j)
	case string:
		return validJSON([]byte(j))
	default:
		data, err := json.Marshal(j)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "invalid JSON value")
		}
		return data, nil
	}
}

func validJSON(b []byte) (json.RawMessage, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if !json.Valid(b) {
		return nil, errors.New(errors.ErrorTypeDecode, "invalid JSON document")
	}
	return append(json.RawMessage(nil), b...), nil
}

// NullInt64 converts a nullable integer
func NullInt64(v interface{}) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	n, err := Int64(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// NullFloat64 converts a nullable number
func NullFloat64(v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, err := Float64(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// NullString converts a nullable text value
func NullString(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, err := String(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// NullTime converts a nullable timestamp
func NullTime(v interface{}) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := Time(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Coerce converts a caller-supplied value (typically decoded from a JSON
// request body) into the Go type the driver expects for the column.
// NULL passes through unchanged.
func (c Column) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	var (
		out interface{}
		err error
	)
	switch c.Kind {
	case KindInt:
		out, err = Int64(v)
	case KindFloat:
		out, err = Float64(v)
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "field %s must be a string", c.Name)
		}
		out = s
	case KindBool:
		out, err = Bool(v)
	case KindTime:
		out, err = Time(v)
	case KindJSON:
		var raw json.RawMessage
		raw, err = JSON(v)
		if err == nil {
			out = string(raw)
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "field %s has unsupported kind", c.Name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid value for field "+c.Name).
			WithDetail("field", c.Name).
			WithDetail("kind", c.Kind.String())
	}
	if c.Range != nil {
		if err := c.Range.check(c.Name, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Range) check(name string, v interface{}) error {
	var f float64
	switch n := v.(type) {
	case int64:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil
	}
	if f < r.Min || f > r.Max {
		return errors.Newf(errors.ErrorTypeValidation, "field %s must be between %v and %v", name, r.Min, r.Max).
			WithDetail("field", name)
	}
	return nil
}
