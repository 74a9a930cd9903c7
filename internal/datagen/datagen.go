package datagen

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"github.com/pkg/errors"
)

const numComponents = 28

// Options configure Generate.
type Options struct {
	Rows int
	Seed int64
	// PositiveRatio is the share of rows with class 1.
	PositiveRatio float64
	// RecordID adds a record_id column. DuplicateRatio of the rows reuse
	// the identifier of an earlier row.
	RecordID       bool
	DuplicateRatio float64
}

// Header returns the column names Generate writes.
func Header(recordID bool) []string {
	h := make([]string, 0, numComponents+4)
	h = append(h, "time")
	for i := 1; i <= numComponents; i++ {
		h = append(h, fmt.Sprintf("v%d", i))
	}
	h = append(h, "amount", "class")
	if recordID {
		h = append(h, "record_id")
	}
	return h
}

// Generate returns a CSV of synthetic card transactions: increasing time
// in seconds, normally distributed components v1..v28, a non-negative
// amount with two decimals and a 0/1 class. Output depends only on opts.
func Generate(opts Options) ([]byte, error) {
	if opts.Rows < 0 {
		return nil, errors.Errorf("rows must be >= 0, got %d", opts.Rows)
	}
	if opts.PositiveRatio < 0 || opts.PositiveRatio > 1 {
		return nil, errors.Errorf("positive ratio must be in [0, 1], got %v", opts.PositiveRatio)
	}
	if opts.DuplicateRatio < 0 || opts.DuplicateRatio >= 1 {
		return nil, errors.Errorf("duplicate ratio must be in [0, 1), got %v", opts.DuplicateRatio)
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header(opts.RecordID)); err != nil {
		return nil, errors.Wrap(err, "writing header")
	}

	nUnique := opts.Rows - int(float64(opts.Rows)*opts.DuplicateRatio)
	if nUnique < 1 {
		nUnique = 1
	}
	elapsed := 0
	row := make([]string, 0, numComponents+4)
	for i := 0; i < opts.Rows; i++ {
		row = row[:0]
		elapsed += rng.Intn(3)
		row = append(row, strconv.Itoa(elapsed)+".0")
		for j := 0; j < numComponents; j++ {
			row = append(row, strconv.FormatFloat(rng.NormFloat64(), 'f', 6, 64))
		}
		amount := math.Round(rng.ExpFloat64()*8800) / 100
		row = append(row, strconv.FormatFloat(amount, 'f', 2, 64))
		class := "0"
		if rng.Float64() < opts.PositiveRatio {
			class = "1"
		}
		row = append(row, class)
		if opts.RecordID {
			id := i
			if i >= nUnique {
				id = (i - nUnique) % nUnique
			}
			row = append(row, strconv.Itoa(id))
		}
		if err := w.Write(row); err != nil {
			return nil, errors.Wrapf(err, "writing row %d", i)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "writing csv")
	}
	return buf.Bytes(), nil
}
