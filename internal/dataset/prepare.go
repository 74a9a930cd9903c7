package dataset

import (
	"time"

	"github.com/pkg/errors"
)

// PrepareOptions configure Prepare.
type PrepareOptions struct {
	EventTimeColumn  string
	RecordIDColumn   string
	GenerateRecordID bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Prepared summarizes what Prepare changed.
type Prepared struct {
	Coerced   []string
	EventTime float64
	// RecordIDGenerated is set when the identifier column was added from row indices.
	RecordIDGenerated bool
}

// Prepare mutates t in place: Object columns become String columns, the
// event time column is set to the current time on every row, and, when
// asked to, a row-index identifier column is appended.
func Prepare(t *Table, opts PrepareOptions) (*Prepared, error) {
	if opts.EventTimeColumn == "" {
		return nil, errors.New("event time column name is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	p := &Prepared{Coerced: CoerceObjectColumns(t)}

	if opts.RecordIDColumn != "" {
		if _, ok := t.Column(opts.RecordIDColumn); !ok {
			if !opts.GenerateRecordID {
				return nil, errors.Errorf("record identifier column %q not found in %v", opts.RecordIDColumn, t.ColumnNames())
			}
			if err := AddRowIndex(t, opts.RecordIDColumn); err != nil {
				return nil, err
			}
			p.RecordIDGenerated = true
		}
	}

	p.EventTime = EventTimeSeconds(now())
	if err := SetEventTime(t, opts.EventTimeColumn, p.EventTime); err != nil {
		return nil, err
	}
	return p, nil
}

// CoerceObjectColumns converts every Object column to a String column and
// returns the names it converted. Missing values become empty strings.
// Columns of any other kind are left untouched.
func CoerceObjectColumns(t *Table) []string {
	var coerced []string
	for _, c := range t.Columns() {
		if c.Kind != Object {
			continue
		}
		for i, v := range c.Values {
			if _, ok := v.(string); !ok {
				c.Values[i] = ""
			}
		}
		c.Kind = String
		coerced = append(coerced, c.Name)
	}
	return coerced
}

// SetEventTime stores ts on every row of column name, appending the column
// when it does not exist. An existing column keeps its position.
func SetEventTime(t *Table, name string, ts float64) error {
	values := make([]interface{}, t.NumRows())
	for i := range values {
		values[i] = ts
	}
	if c, ok := t.Column(name); ok {
		c.Kind = Float64
		c.Values = values
		return nil
	}
	return t.AddColumn(&Column{Name: name, Kind: Float64, Values: values})
}

// AddRowIndex appends an Int64 column holding 0..n-1.
func AddRowIndex(t *Table, name string) error {
	values := make([]interface{}, t.NumRows())
	for i := range values {
		values[i] = int64(i)
	}
	return t.AddColumn(&Column{Name: name, Kind: Int64, Values: values})
}

// EventTimeSeconds converts now to fractional seconds since the epoch.
func EventTimeSeconds(now time.Time) float64 {
	return float64(now.UnixNano()) / float64(time.Second)
}
