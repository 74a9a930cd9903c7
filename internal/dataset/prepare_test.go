package dataset

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Unix(1700000000, 500000000)
}

func TestCoerceObjectColumns(t *testing.T) {
	tbl, err := Parse(strings.NewReader("id,name,label\n1,alice,a\n2,,b\n"), ParseOptions{})
	require.NoError(t, err)
	label, _ := tbl.Column("label")
	label.Kind = String

	coerced := CoerceObjectColumns(tbl)
	assert.Equal(t, []string{"name"}, coerced)

	name, _ := tbl.Column("name")
	assert.Equal(t, String, name.Kind)
	assert.Equal(t, []interface{}{"alice", ""}, name.Values)

	id, _ := tbl.Column("id")
	assert.Equal(t, Int64, id.Kind)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, id.Values)
}

func TestCoerceObjectColumnsIdempotent(t *testing.T) {
	tbl, err := Parse(strings.NewReader("id,amount,name\n1,2.5,x\n2,3.5,y\n"), ParseOptions{})
	require.NoError(t, err)
	CoerceObjectColumns(tbl)

	before := make(map[string][]interface{})
	for _, c := range tbl.Columns() {
		before[c.Name] = append([]interface{}(nil), c.Values...)
	}

	assert.Empty(t, CoerceObjectColumns(tbl))
	for _, c := range tbl.Columns() {
		assert.Equal(t, before[c.Name], c.Values, c.Name)
	}
}

func TestPrepareAppendsEventTime(t *testing.T) {
	tbl, err := Parse(strings.NewReader("record_id,name\n1,a\n2,b\n3,c\n"), ParseOptions{})
	require.NoError(t, err)

	p, err := Prepare(tbl, PrepareOptions{EventTimeColumn: "event_time", RecordIDColumn: "record_id", Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, p.Coerced)
	assert.Equal(t, 1700000000.5, p.EventTime)
	assert.False(t, p.RecordIDGenerated)

	assert.Equal(t, []string{"record_id", "name", "event_time"}, tbl.ColumnNames())
	et, ok := tbl.Column("event_time")
	require.True(t, ok)
	assert.Equal(t, Float64, et.Kind)
	for i := range et.Values {
		assert.Equal(t, et.Values[0], et.Values[i], "row %d", i)
	}
}

func TestPrepareOverwritesExistingEventTime(t *testing.T) {
	tbl, err := Parse(strings.NewReader("event_time,record_id\n5,1\n6,2\n"), ParseOptions{})
	require.NoError(t, err)

	_, err = Prepare(tbl, PrepareOptions{EventTimeColumn: "event_time", RecordIDColumn: "record_id", Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, []string{"event_time", "record_id"}, tbl.ColumnNames())
	et, _ := tbl.Column("event_time")
	assert.Equal(t, Float64, et.Kind)
	assert.Equal(t, []interface{}{1700000000.5, 1700000000.5}, et.Values)
}

func TestPrepareRecordID(t *testing.T) {
	in := "time,amount\n0,1.5\n1,2.5\n"

	tbl, err := Parse(strings.NewReader(in), ParseOptions{})
	require.NoError(t, err)
	_, err = Prepare(tbl, PrepareOptions{EventTimeColumn: "event_time", RecordIDColumn: "record_id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_id")

	tbl, err = Parse(strings.NewReader(in), ParseOptions{})
	require.NoError(t, err)
	p, err := Prepare(tbl, PrepareOptions{EventTimeColumn: "event_time", RecordIDColumn: "record_id", GenerateRecordID: true})
	require.NoError(t, err)
	assert.True(t, p.RecordIDGenerated)
	assert.Equal(t, []string{"time", "amount", "record_id", "event_time"}, tbl.ColumnNames())
	id, _ := tbl.Column("record_id")
	assert.Equal(t, []interface{}{int64(0), int64(1)}, id.Values)
}

func TestPrepareKeepsDuplicateIdentifiers(t *testing.T) {
	tbl, err := Parse(strings.NewReader("record_id,v\n1,0.1\n1,0.2\n2,0.3\n"), ParseOptions{})
	require.NoError(t, err)
	_, err = Prepare(tbl, PrepareOptions{EventTimeColumn: "event_time", RecordIDColumn: "record_id", Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.NumRows())
	id, _ := tbl.Column("record_id")
	assert.Equal(t, []interface{}{int64(1), int64(1), int64(2)}, id.Values)
}
