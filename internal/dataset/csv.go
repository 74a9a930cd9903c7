package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports input that is not valid tabular text.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing csv at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseOptions control header handling.
type ParseOptions struct {
	// LowercaseColumns trims and lower-cases every header name.
	LowercaseColumns bool
}

// Parse reads CSV text with a header row and infers a kind for each column.
// A column is Int64 when every cell is an integer, Float64 when every
// non-empty cell is a number, and Object otherwise.
func Parse(r io.Reader, opts ParseOptions) (*Table, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &ParseError{Line: perr.Line, Err: perr.Err}
		}
		return nil, errors.Wrap(err, "reading csv")
	}
	if len(records) == 0 {
		return nil, &ParseError{Line: 1, Err: errors.New("missing header row")}
	}

	header := records[0]
	rows := records[1:]
	t := NewTable(len(rows))
	for j, name := range header {
		if opts.LowercaseColumns {
			name = strings.ToLower(strings.TrimSpace(name))
		}
		if name == "" {
			name = "unnamed_" + strconv.Itoa(j)
		}
		cells := make([]string, len(rows))
		for i, row := range rows {
			cells[i] = row[j]
		}
		if err := t.AddColumn(inferColumn(name, cells)); err != nil {
			return nil, &ParseError{Line: 1, Err: err}
		}
	}
	return t, nil
}

func inferColumn(name string, cells []string) *Column {
	values := make([]interface{}, len(cells))

	if ints, ok := parseInts(cells); ok {
		for i, v := range ints {
			values[i] = v
		}
		return &Column{Name: name, Kind: Int64, Values: values}
	}
	if floats, ok := parseFloats(cells); ok {
		for i, v := range floats {
			values[i] = v
		}
		return &Column{Name: name, Kind: Float64, Values: values}
	}
	for i, s := range cells {
		if s == "" {
			values[i] = nil
			continue
		}
		values[i] = s
	}
	return &Column{Name: name, Kind: Object, Values: values}
}

func parseInts(cells []string) ([]int64, bool) {
	if len(cells) == 0 {
		return nil, false
	}
	out := make([]int64, len(cells))
	for i, s := range cells {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// parseFloats treats empty cells as NaN.
func parseFloats(cells []string) ([]float64, bool) {
	if len(cells) == 0 {
		return nil, false
	}
	out := make([]float64, len(cells))
	for i, s := range cells {
		s = strings.TrimSpace(s)
		if s == "" {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
