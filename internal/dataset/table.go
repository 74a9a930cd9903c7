package dataset

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Kind is the element type of a column.
type Kind int

const (
	// Object columns hold raw text that could not be typed, nil when missing.
	Object Kind = iota
	Int64
	Float64
	String
)

func (k Kind) String() string {
	switch k {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return "object"
	}
}

// Column is a named, typed column. Values holds one entry per row:
// int64 for Int64, float64 for Float64 (NaN when missing), string for String,
// and string or nil for Object.
type Column struct {
	Name   string
	Kind   Kind
	Values []interface{}
}

// StringValue renders the value at row as text. ok is false for missing values.
func (c *Column) StringValue(row int) (s string, ok bool) {
	switch v := c.Values[row].(type) {
	case nil:
		return "", false
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		if math.IsNaN(v) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case string:
		return v, true
	default:
		return "", false
	}
}

// Table is an in-memory, column-oriented dataset.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewTable returns an empty table that accepts columns of length rows.
func NewTable(rows int) *Table {
	return &Table{index: make(map[string]int), rows: rows}
}

// AddColumn appends c. Its length must match the table and its name must be unique.
func (t *Table) AddColumn(c *Column) error {
	if len(c.Values) != t.rows {
		return errors.Errorf("column %q has %d values, table has %d rows", c.Name, len(c.Values), t.rows)
	}
	if _, ok := t.index[c.Name]; ok {
		return errors.Errorf("duplicate column %q", c.Name)
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Columns returns the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column {
	return t.columns
}

// Column returns the column called name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) NumRows() int    { return t.rows }
func (t *Table) NumColumns() int { return len(t.columns) }

// Row returns row i as a map from column name to value.
func (t *Table) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(t.columns))
	for _, c := range t.columns {
		row[c.Name] = c.Values[i]
	}
	return row
}
