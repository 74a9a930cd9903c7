package clickhouse

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/featureload/internal/featurestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	driver.Conn
	mock.Mock
}

func (m *mockConn) Exec(_ context.Context, query string, _ ...interface{}) error {
	return m.Called(query).Error(0)
}

func (m *mockConn) Query(_ context.Context, query string, args ...interface{}) (driver.Rows, error) {
	ret := m.Called(query, args)
	rows, _ := ret.Get(0).(driver.Rows)
	return rows, ret.Error(1)
}

func (m *mockConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	ret := m.Called(query)
	b, _ := ret.Get(0).(driver.Batch)
	return b, ret.Error(1)
}

func (m *mockConn) Close() error { return m.Called().Error(0) }

type mockBatch struct {
	driver.Batch
	mock.Mock
}

func (m *mockBatch) Append(v ...interface{}) error { return m.Called(v).Error(0) }
func (m *mockBatch) Send() error                   { return m.Called().Error(0) }
func (m *mockBatch) Abort() error                  { return m.Called().Error(0) }

// appended returns the rows passed to Append, in order.
func (m *mockBatch) appended() [][]interface{} {
	var out [][]interface{}
	for _, c := range m.Calls {
		if c.Method == "Append" {
			out = append(out, c.Arguments.Get(0).([]interface{}))
		}
	}
	return out
}

// fakeRows scans its values into the destinations in order.
type fakeRows struct {
	driver.Rows
	rows   [][]interface{}
	next   int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.next >= len(r.rows) {
		return false
	}
	r.next++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.rows[r.next-1][i]))
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

var testNow = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

func newTestStore() (*Store, *mockConn) {
	conn := &mockConn{}
	s := newStore([]driver.Conn{conn}, schema{db: "default"}, zerolog.Nop())
	s.now = func() time.Time { return testNow }
	return s, conn
}

func registryRows(status string) *fakeRows {
	return &fakeRows{rows: [][]interface{}{{
		"transactions-fg", "arn:featureload:clickhouse:feature-group/transactions-fg", status, "",
		"record_id", "event_time",
		[]string{"record_id", "merchant", "event_time"},
		[]string{"Integral", "String", "Fractional"},
		testNow,
	}}}
}

func TestCreateFeatureGroup(t *testing.T) {
	store, conn := newTestStore()
	s := schema{db: "default"}
	ddl, err := s.createTableSQL(testGroup())
	require.NoError(t, err)
	batch := &mockBatch{}
	conn.On("Query", s.describeSQL(), []interface{}{"transactions-fg"}).Return(&fakeRows{}, nil)
	conn.On("Exec", ddl).Return(nil)
	conn.On("PrepareBatch", s.insertRegistrySQL()).Return(batch, nil)
	batch.On("Append", mock.Anything).Return(nil)
	batch.On("Send").Return(nil)

	arn, err := store.CreateFeatureGroup(context.Background(), testGroup())
	require.NoError(t, err)
	assert.Equal(t, "arn:featureload:clickhouse:feature-group/transactions-fg", arn)

	rows := batch.appended()
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{
		"transactions-fg", arn, "record_id", "event_time",
		[]string{"record_id", "merchant", "event_time"},
		[]string{"Integral", "String", "Fractional"},
		featurestore.StatusCreated, "", "", "", testNow, testNow,
	}, rows[0])
	conn.AssertExpectations(t)
	batch.AssertExpectations(t)
}

func TestCreateFeatureGroupRecordsDDLFailure(t *testing.T) {
	store, conn := newTestStore()
	batch := &mockBatch{}
	conn.On("Query", mock.Anything, mock.Anything).Return(&fakeRows{}, nil)
	conn.On("Exec", mock.Anything).Return(errors.New("code: 243, NOT_ENOUGH_SPACE"))
	conn.On("PrepareBatch", mock.Anything).Return(batch, nil)
	batch.On("Append", mock.Anything).Return(nil)
	batch.On("Send").Return(nil)

	_, err := store.CreateFeatureGroup(context.Background(), testGroup())
	require.NoError(t, err, "the failure is reported through the group status")

	row := batch.appended()[0]
	assert.Equal(t, featurestore.StatusCreateFailed, row[6])
	assert.Equal(t, "code: 243, NOT_ENOUGH_SPACE", row[7])
}

func TestCreateFeatureGroupExists(t *testing.T) {
	store, conn := newTestStore()
	conn.On("Query", mock.Anything, mock.Anything).Return(registryRows(featurestore.StatusCreated), nil)

	_, err := store.CreateFeatureGroup(context.Background(), testGroup())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature group transactions-fg already exists")
	conn.AssertNotCalled(t, "Exec", mock.Anything)
	conn.AssertNotCalled(t, "PrepareBatch", mock.Anything)
}

func TestCreateFeatureGroupReservedName(t *testing.T) {
	store, conn := newTestStore()
	fg := testGroup()
	fg.Name = registryTable

	_, err := store.CreateFeatureGroup(context.Background(), fg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature_groups is reserved")
	assert.Empty(t, conn.Calls)
}

func TestDescribeFeatureGroup(t *testing.T) {
	store, conn := newTestStore()
	rows := registryRows(featurestore.StatusCreated)
	conn.On("Query", mock.Anything, mock.Anything).Return(rows, nil)

	d, err := store.DescribeFeatureGroup(context.Background(), "transactions-fg")
	require.NoError(t, err)
	assert.Equal(t, featurestore.StatusCreated, d.Status)
	assert.Equal(t, testGroup().FeatureDefinitions, d.FeatureDefinitions)
	assert.Equal(t, testNow, d.CreatedAt)
	assert.True(t, rows.closed)
}

func TestDescribeDeletedIsNotFound(t *testing.T) {
	store, conn := newTestStore()
	conn.On("Query", mock.Anything, mock.Anything).Return(registryRows(statusDeleted), nil)

	_, err := store.DescribeFeatureGroup(context.Background(), "transactions-fg")
	assert.Equal(t, featurestore.ErrFeatureGroupNotFound, errors.Cause(err))
}

func TestDeleteFeatureGroup(t *testing.T) {
	store, conn := newTestStore()
	s := schema{db: "default"}
	insert := &mockBatch{}
	registry := &mockBatch{}
	conn.On("Query", s.describeSQL(), mock.Anything).Return(registryRows(featurestore.StatusCreated), nil).Once()
	conn.On("Query", s.describeSQL(), mock.Anything).Return(registryRows(featurestore.StatusCreated), nil).Once()
	conn.On("Query", s.describeSQL(), mock.Anything).Return(registryRows(statusDeleted), nil).Once()
	conn.On("PrepareBatch", s.insertSQL(testGroup())).Return(insert, nil).Once()
	conn.On("Exec", s.dropTableSQL("transactions-fg")).Return(nil)
	conn.On("PrepareBatch", s.insertRegistrySQL()).Return(registry, nil).Once()
	insert.On("Append", mock.Anything).Return(nil)
	insert.On("Send").Return(nil)
	registry.On("Append", mock.Anything).Return(nil)
	registry.On("Send").Return(nil)

	rec := featurestore.Record{{Name: "record_id", Value: "1"}, {Name: "event_time", Value: "1700000000"}}
	require.NoError(t, store.PutRecord(context.Background(), "transactions-fg", rec))
	require.NoError(t, store.DeleteFeatureGroup(context.Background(), "transactions-fg"))

	tombstone := registry.appended()
	require.Len(t, tombstone, 1)
	assert.Equal(t, "transactions-fg", tombstone[0][0])
	assert.Equal(t, statusDeleted, tombstone[0][6])
	assert.Equal(t, testNow, tombstone[0][11])

	// the cached definition went with the group
	err := store.PutRecord(context.Background(), "transactions-fg", rec)
	assert.Equal(t, featurestore.ErrFeatureGroupNotFound, errors.Cause(err))
	conn.AssertExpectations(t)
}

func TestPutRecordsKeepsDuplicates(t *testing.T) {
	store, conn := newTestStore()
	batch := &mockBatch{}
	conn.On("Query", mock.Anything, mock.Anything).Return(registryRows(featurestore.StatusCreated), nil).Once()
	conn.On("PrepareBatch", mock.Anything).Return(batch, nil)
	batch.On("Append", mock.Anything).Return(nil)
	batch.On("Send").Return(nil)

	err := store.PutRecords(context.Background(), "transactions-fg", []featurestore.Record{
		{{Name: "record_id", Value: "1"}, {Name: "merchant", Value: "acme"}, {Name: "event_time", Value: "1700000000"}},
		{{Name: "record_id", Value: "1"}, {Name: "event_time", Value: "1700000001"}},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{
		{int64(1), "acme", 1700000000.0},
		{int64(1), nil, 1700000001.0},
	}, batch.appended())
}

func TestPutRecordsMissingIdentifierAborts(t *testing.T) {
	store, conn := newTestStore()
	batch := &mockBatch{}
	conn.On("Query", mock.Anything, mock.Anything).Return(registryRows(featurestore.StatusCreated), nil).Once()
	conn.On("PrepareBatch", mock.Anything).Return(batch, nil)
	batch.On("Abort").Return(nil)

	err := store.PutRecords(context.Background(), "transactions-fg", []featurestore.Record{{{Name: "merchant", Value: "acme"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing record_id")
	batch.AssertCalled(t, "Abort")
	batch.AssertNotCalled(t, "Send")
}

func TestGetRecord(t *testing.T) {
	store, conn := newTestStore()
	s := schema{db: "default"}
	merchant := "acme"
	conn.On("Query", s.describeSQL(), mock.Anything).Return(registryRows(featurestore.StatusCreated), nil).Once()
	conn.On("Query", s.selectSQL(testGroup()), []interface{}{int64(7)}).
		Return(&fakeRows{rows: [][]interface{}{{int64(7), &merchant, (*float64)(nil)}}}, nil)
	conn.On("Query", s.selectSQL(testGroup()), []interface{}{int64(8)}).Return(&fakeRows{}, nil)

	rec, err := store.GetRecord(context.Background(), "transactions-fg", "7")
	require.NoError(t, err)
	assert.Equal(t, featurestore.Record{
		{Name: "record_id", Value: "7"},
		{Name: "merchant", Value: "acme"},
	}, rec)

	_, err = store.GetRecord(context.Background(), "transactions-fg", "8")
	assert.Equal(t, featurestore.ErrRecordNotFound, errors.Cause(err))
	conn.AssertExpectations(t)
}

func TestClose(t *testing.T) {
	store, conn := newTestStore()
	conn.On("Close").Return(nil).Once()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	conn.AssertExpectations(t)
}
