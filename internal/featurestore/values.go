package featurestore

import (
	"math"
	"strconv"

	"github.com/featureload/internal/dataset"
	"github.com/pkg/errors"
)

// ParseValue converts the text form of a feature back to its Go type:
// int64 for Integral, float64 for Fractional and string for String.
func ParseValue(t dataset.FeatureType, s string) (interface{}, error) {
	switch t {
	case dataset.FeatureTypeIntegral:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing integral value %q", s)
		}
		return v, nil
	case dataset.FeatureTypeFractional:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing fractional value %q", s)
		}
		return v, nil
	case dataset.FeatureTypeString:
		return s, nil
	default:
		return nil, errors.Errorf("unknown feature type %q", t)
	}
}

// FormatValue renders a value read back from a database column the way
// the dataset renders it. ok is false for NULL and NaN.
func FormatValue(v interface{}) (s string, ok bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		if math.IsNaN(v) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return FormatValue(float64(v))
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// RecordFromValues pairs definitions with the values of one row.
func RecordFromValues(defs []dataset.FeatureDefinition, values []interface{}) Record {
	rec := make(Record, 0, len(defs))
	for i, d := range defs {
		if i >= len(values) {
			break
		}
		if s, ok := FormatValue(values[i]); ok {
			rec = append(rec, FeatureValue{Name: d.Name, Value: s})
		}
	}
	return rec
}

// TypedRow returns one value per definition, nil where rec has no value.
func TypedRow(defs []dataset.FeatureDefinition, rec Record) ([]interface{}, error) {
	values := rec.Map()
	row := make([]interface{}, len(defs))
	for i, d := range defs {
		s, ok := values[d.Name]
		if !ok {
			continue
		}
		v, err := ParseValue(d.Type, s)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %s", d.Name)
		}
		row[i] = v
	}
	return row, nil
}

// LatestByIdentifier collapses records sharing an identifier to one record:
// the one with the greatest event time, later records winning ties. Order of
// first appearance is kept. Records without an identifier are dropped.
func LatestByIdentifier(recs []Record, idName, eventTimeName string) []Record {
	pos := make(map[string]int, len(recs))
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		id, ok := rec.Get(idName)
		if !ok {
			continue
		}
		i, seen := pos[id]
		if !seen {
			pos[id] = len(out)
			out = append(out, rec)
			continue
		}
		if !eventTimeBefore(rec, out[i], eventTimeName) {
			out[i] = rec
		}
	}
	return out
}

// eventTimeBefore reports whether a's event time is strictly before b's.
// Numeric event times compare numerically, anything else compares as text.
func eventTimeBefore(a, b Record, name string) bool {
	as, _ := a.Get(name)
	bs, _ := b.Get(name)
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return as < bs
}
