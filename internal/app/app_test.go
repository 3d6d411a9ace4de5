package app

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relorm/internal/config"
	"relorm/internal/dbexec"
	"relorm/internal/logging"
	"relorm/internal/model"
	"relorm/internal/naming"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Host:                    "db",
			Port:                    3306,
			User:                    "app",
			Database:                "blog",
			MaxOpenConns:            8,
			MaxIdleConns:            2,
			ConnMaxLifetime:         time.Minute,
			ConnectionTimeout:       5 * time.Second,
			ConnectionRetryInterval: time.Second,
		},
		Logging: config.LoggingConfig{Level: "debug", Format: "json"},
		Observability: config.ObservabilityConfig{
			ServiceName:      "relorm-test",
			TraceSampleRatio: 1,
		},
		Naming: naming.DefaultConfig(),
	}
}

func testLogger(buf *bytes.Buffer) *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "debug", Format: "json", Output: buf})
}

func TestNewRequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger(&bytes.Buffer{}))
	assert.Error(t, err)
	_, err = New(testConfig(), nil)
	assert.Error(t, err)
}

func TestRegistryUsesNamingOverrides(t *testing.T) {
	cfg := testConfig()
	cfg.Naming.PluralOverrides = map[string]string{"person": "persons"}
	a, err := New(cfg, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)

	person := a.Registry().MustDeclare(model.Definition{Name: "Person", Fields: []*model.Field{
		model.String("name", 100),
	}})
	assert.Equal(t, "persons", person.Table)
}

func TestCleanupRunsInReverseOrder(t *testing.T) {
	var order []string
	var stack cleanupStack
	stack.push("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	stack.push("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("close failed")
	})

	var buf bytes.Buffer
	stack.run(context.Background(), testLogger(&buf))
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Contains(t, buf.String(), "close failed")
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, err := New(testConfig(), testLogger(&bytes.Buffer{}))
	require.NoError(t, err)

	calls := 0
	a.cleanup.push("counter", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestTelemetryDisabledByDefault(t *testing.T) {
	a, err := New(testConfig(), testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, a.InitTelemetry(context.Background()))

	assert.Nil(t, a.Metrics())
	assert.Nil(t, a.Client())
	var out bytes.Buffer
	require.NoError(t, a.WriteMetrics(&out))
	assert.Empty(t, out.String())
}

func TestMetricsEnabledExposesPrometheusText(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = true
	a, err := New(cfg, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, a.InitTelemetry(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	require.NotNil(t, a.Metrics())
	a.Metrics().RecordQuery(context.Background(), "all", "Post", 3*time.Millisecond, nil)

	var out bytes.Buffer
	require.NoError(t, a.WriteMetrics(&out))
	assert.Contains(t, out.String(), "orm_queries_total")
}

func TestConnectConfigFromSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.TracingEnabled = true
	cfg.Observability.SQLCommenterEnabled = true

	cc, err := connectConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "app@tcp(db:3306)/blog?parseTime=true", cc.DSN)
	assert.True(t, cc.Tracing)
	assert.True(t, cc.SQLCommenter)
	assert.False(t, cc.Metrics)
	assert.Equal(t, 8, cc.MaxOpen)
	assert.Equal(t, 2, cc.MaxIdle)
	assert.Equal(t, time.Minute, cc.MaxLifetime)
	assert.Equal(t, 5*time.Second, cc.ConnectTimeout)
	assert.Equal(t, time.Second, cc.RetryInterval)

	cfg.Database.ConnectionString = "broken"
	_, err = connectConfig(cfg)
	assert.Error(t, err)
}

func TestClientLogsStatementsWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Query.LogSQL = true
	var buf bytes.Buffer
	a, err := New(cfg, testLogger(&buf))
	require.NoError(t, err)
	blog := a.Registry().MustDeclare(model.Definition{Name: "Blog", Fields: []*model.Field{
		model.String("name", 100),
	}})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT `blogs`.`id`) FROM `blogs`")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(4))

	client := newClient(cfg, a.Logger(), nil, dbexec.NewStandardExecutor(db))
	n, err := client.Objects(blog).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Contains(t, buf.String(), "statement executed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
