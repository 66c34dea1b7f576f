package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns metrics backed by a manual reader so tests can
// inspect what was recorded.
func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	require.NoError(t, err)
	return m, reader
}

// counterValues returns the data points of the named Int64 counter keyed by
// the value of attribute key.
func counterValues(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_RecordCredentialAcquire(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t, false)

	m.RecordCredentialAcquire(ctx, "cached", time.Millisecond)
	m.RecordCredentialAcquire(ctx, "cached", time.Millisecond)
	m.RecordCredentialAcquire(ctx, "consented", 30*time.Second)

	got := counterValues(t, reader, "oauth_credential_acquire_total", attrOutcome)
	assert.Equal(t, int64(2), got["cached"])
	assert.Equal(t, int64(1), got["consented"])
}

func TestMetrics_RecordTokenRefreshAndConsent(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t, false)

	m.RecordTokenRefresh(ctx, ResultSuccess)
	m.RecordTokenRefresh(ctx, ResultTransient)
	m.RecordConsent(ctx, ResultDenied)

	refresh := counterValues(t, reader, "oauth_token_refresh_total", attrResult)
	assert.Equal(t, int64(1), refresh[ResultSuccess])
	assert.Equal(t, int64(1), refresh[ResultTransient])

	consent := counterValues(t, reader, "oauth_consent_total", attrResult)
	assert.Equal(t, int64(1), consent[ResultDenied])
}

func TestMetrics_ForAccount_DetailedLabels(t *testing.T) {
	ctx := context.Background()

	m, reader := newTestMetrics(t, true)
	m.ForAccount("work").RecordTokenRefresh(ctx, ResultSuccess)
	got := counterValues(t, reader, "oauth_token_refresh_total", attrAccount)
	assert.Equal(t, int64(1), got["work"])

	m, reader = newTestMetrics(t, false)
	m.ForAccount("work").RecordTokenRefresh(ctx, ResultSuccess)
	got = counterValues(t, reader, "oauth_token_refresh_total", attrAccount)
	assert.Equal(t, map[string]int64{"": 1}, got, "account label must be omitted without detailed labels")
}

func TestMetrics_RecordGoogleAPIOperation(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t, false)

	m.RecordGoogleAPIOperation(ctx, ServiceGmail, OperationList, StatusSuccess, 200*time.Millisecond)
	m.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationCreate, StatusError, 500*time.Millisecond)

	got := counterValues(t, reader, "google_api_operations_total", attrService)
	assert.Equal(t, int64(1), got[ServiceGmail])
	assert.Equal(t, int64(1), got[ServiceCalendar])
}

func TestMetrics_NoOp_WhenDisabled(t *testing.T) {
	ctx := context.Background()
	c := DefaultConfig()
	c.Enabled = false

	provider, err := NewProvider(ctx, c)
	require.NoError(t, err)
	metrics := provider.Metrics()
	require.NotNil(t, metrics)

	assert.NotPanics(t, func() {
		metrics.RecordCredentialAcquire(ctx, "cached", time.Millisecond)
		metrics.RecordTokenRefresh(ctx, ResultSuccess)
		metrics.RecordConsent(ctx, ResultSuccess)
		metrics.RecordGoogleAPIOperation(ctx, ServiceGmail, OperationList, StatusSuccess, 200*time.Millisecond)
		metrics.ForAccount("work").RecordTokenRefresh(ctx, ResultSuccess)
	})
}

func TestMetrics_NilReceiver(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordCredentialAcquire(ctx, "cached", time.Millisecond)
		m.RecordTokenRefresh(ctx, ResultSuccess)
		m.RecordConsent(ctx, ResultDenied)
		m.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationFreeBusy, StatusSuccess, time.Millisecond)
		assert.Nil(t, m.ForAccount("work"))
	})
}
