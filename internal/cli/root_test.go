package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/featureload/internal/config"
	"github.com/featureload/internal/dataset"
	"github.com/featureload/internal/featurestore"
	"github.com/featureload/internal/featurestore/featurestoretest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeps(store featurestore.Store) Deps {
	return Deps{
		OpenStore: func(context.Context, *config.Config, zerolog.Logger) (featurestore.Store, error) {
			return store, nil
		},
		NewS3: func(*config.Config, zerolog.Logger) (s3iface.S3API, error) {
			return nil, errors.New("no s3 client in tests")
		},
	}
}

func execute(t *testing.T, deps Deps, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rc := newRootCommand(&out, &errOut, deps)
	rc.SetArgs(args)
	err := rc.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const transactions = "Record_ID,Amount,Merchant\n1,1.5,acme\n2,2.5,\n"

func TestRootHelp(t *testing.T) {
	out, err := execute(t, testDeps(featurestoretest.New()), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "Available Commands:")
	for _, c := range []string{"run", "generate", "describe", "get", "delete"} {
		assert.Contains(t, out, c)
	}
}

func TestRun(t *testing.T) {
	store := featurestoretest.New()
	src := writeFile(t, "transactions.csv", transactions)

	out, err := execute(t, testDeps(store), "run",
		"--source-uri", src,
		"--role-arn", "arn:aws:iam::123456789012:role/fs",
		"--feature-group-name", "fg-test",
		"--progress-interval", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "feature group: fg-test")
	assert.Contains(t, out, "rows: 2 submitted, 0 failed")
	assert.Contains(t, out, "lookup 1: found")
	assert.Equal(t, 2, store.Records("fg-test"))
	assert.True(t, store.Closed())
}

func TestRunRequiresRoleForSageMaker(t *testing.T) {
	src := writeFile(t, "transactions.csv", transactions)
	_, err := execute(t, testDeps(featurestoretest.New()), "run", "--source-uri", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role arn")
}

func TestRunSelfHostedNeedsNoRole(t *testing.T) {
	store := featurestoretest.New()
	src := writeFile(t, "transactions.csv", transactions)
	_, err := execute(t, testDeps(store), "run", "--store", "postgres", "--source-uri", src, "--feature-group-name", "pg-fg")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Records("pg-fg"))
}

func TestRunMissingSource(t *testing.T) {
	_, err := execute(t, testDeps(featurestoretest.New()), "run", "--store", "postgres", "--source-uri", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Equal(t, dataset.ErrNotFound, errors.Cause(err))
}

func TestConfigPrecedence(t *testing.T) {
	store := featurestoretest.New()
	src := writeFile(t, "transactions.csv", transactions)
	cfgFile := writeFile(t, "featureload.toml", `
store = "clickhouse"
source-uri = "`+filepath.ToSlash(src)+`"
feature-group-name = "from-file"
name-prefix = "from-file-"
max-workers = 2
`)
	t.Setenv("FEATURELOAD_FEATURE_GROUP_NAME", "from-env")

	out, err := execute(t, testDeps(store), "run", "--config", cfgFile, "--progress-interval", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "feature group: from-env")

	out, err = execute(t, testDeps(featurestoretest.New()), "run", "--config", cfgFile, "--feature-group-name", "from-flag")
	require.NoError(t, err)
	assert.Contains(t, out, "feature group: from-flag")
}

func TestConfigFileRejectsUnknownKeys(t *testing.T) {
	cfgFile := writeFile(t, "featureload.toml", "no-such-option = 1\n")
	_, err := execute(t, testDeps(featurestoretest.New()), "describe", "--config", cfgFile, "fg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid option in configuration file")
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	out, err := execute(t, testDeps(nil), "generate", "--output", path, "--rows", "5", "--record-id")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 5 rows")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "time,v1,"))
	assert.True(t, strings.HasSuffix(lines[0], ",amount,class,record_id"))
}

func TestGenerateS3UsesClient(t *testing.T) {
	_, err := execute(t, testDeps(nil), "generate", "--output", "s3://bucket/key.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no s3 client in tests")
}

func TestGenerateRequiresOutput(t *testing.T) {
	_, err := execute(t, testDeps(nil), "generate")
	require.Error(t, err)
}

func createGroup(t *testing.T, store *featurestoretest.Store) {
	t.Helper()
	_, err := store.CreateFeatureGroup(context.Background(), &featurestore.FeatureGroup{
		Name:                        "fg",
		RecordIdentifierFeatureName: "record_id",
		EventTimeFeatureName:        "event_time",
		FeatureDefinitions: []dataset.FeatureDefinition{
			{Name: "record_id", Type: dataset.FeatureTypeIntegral},
			{Name: "amount", Type: dataset.FeatureTypeFractional},
			{Name: "event_time", Type: dataset.FeatureTypeFractional},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.PutRecord(context.Background(), "fg", featurestore.Record{
		{Name: "record_id", Value: "1"},
		{Name: "amount", Value: "1.5"},
		{Name: "event_time", Value: "1700000000.5"},
	}))
}

func TestDescribe(t *testing.T) {
	store := featurestoretest.New()
	createGroup(t, store)

	out, err := execute(t, testDeps(store), "describe", "fg")
	require.NoError(t, err)
	assert.Contains(t, out, "status:")
	assert.Contains(t, out, "Created")
	assert.Contains(t, out, "record_id")
	assert.Contains(t, out, "Fractional")

	_, err = execute(t, testDeps(store), "describe", "missing")
	assert.Equal(t, featurestore.ErrFeatureGroupNotFound, errors.Cause(err))
}

func TestGet(t *testing.T) {
	store := featurestoretest.New()
	createGroup(t, store)

	out, err := execute(t, testDeps(store), "get", "fg", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "amount")
	assert.Contains(t, out, "1.5")

	_, err = execute(t, testDeps(store), "get", "fg", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2 not found in fg")
}

func TestDelete(t *testing.T) {
	store := featurestoretest.New()
	createGroup(t, store)

	out, err := execute(t, testDeps(store), "delete", "fg")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted fg")

	_, err = execute(t, testDeps(store), "delete", "fg")
	assert.Equal(t, featurestore.ErrFeatureGroupNotFound, errors.Cause(err))
}

func TestUnknownStore(t *testing.T) {
	_, err := execute(t, testDeps(featurestoretest.New()), "describe", "--store", "mysql", "fg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}
