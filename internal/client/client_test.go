package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sonarboard/internal/errors"
)

// newTestServer stands in for the quality API. measuresStatus controls the
// /measures/component response.
func newTestServer(t *testing.T, version string, measuresStatus int, versionCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/server/version", func(w http.ResponseWriter, r *http.Request) {
		if versionCalls != nil {
			atomic.AddInt32(versionCalls, 1)
		}
		fmt.Fprint(w, version)
	})
	mux.HandleFunc("/organizations/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"organizations":[{"key":"my-org"}]}`)
	})
	mux.HandleFunc("/measures/component", func(w http.ResponseWriter, r *http.Request) {
		if measuresStatus != http.StatusOK {
			w.WriteHeader(measuresStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"component":{"name":"My Project","measures":[
			{"metric":"bugs","value":"3"},
			{"metric":"coverage","value":"81.5"},
			{"metric":"ncloc","value":"12000"}
		]}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) Client {
	return New(Options{
		BaseURL:    baseURL,
		Token:      "test-token",
		MinVersion: "8.0",
		RateLimit:  time.Millisecond,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
}

func TestFetchMetricsParsesMeasures(t *testing.T) {
	srv := newTestServer(t, "9.9", http.StatusOK, nil)
	c := newTestClient(srv.URL)

	name, measures, err := c.FetchMetrics(context.Background(), "my-project")
	require.NoError(t, err)
	assert.Equal(t, "My Project", name)
	require.Len(t, measures, 3)
	assert.Equal(t, "bugs", measures[0].Metric)
	assert.Equal(t, 3.0, measures[0].Float())
	assert.Equal(t, 81.5, measures[1].Float())
}

func TestFetchMetricsMapsNotFound(t *testing.T) {
	srv := newTestServer(t, "9.9", http.StatusNotFound, nil)
	c := newTestClient(srv.URL)

	_, _, err := c.FetchMetrics(context.Background(), "gone-project")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFetchMetricsMapsUnauthorized(t *testing.T) {
	srv := newTestServer(t, "9.9", http.StatusUnauthorized, nil)
	c := newTestClient(srv.URL)

	_, _, err := c.FetchMetrics(context.Background(), "my-project")
	require.Error(t, err)
	assert.True(t, apperrors.IsAuth(err))
}

func TestFetchMetricsMapsServerErrorToTransient(t *testing.T) {
	srv := newTestServer(t, "9.9", http.StatusInternalServerError, nil)
	c := newTestClient(srv.URL)

	_, _, err := c.FetchMetrics(context.Background(), "my-project")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestVersionCheckedOncePerProcess(t *testing.T) {
	var versionCalls int32
	srv := newTestServer(t, "9.9", http.StatusOK, &versionCalls)
	c := newTestClient(srv.URL)

	ctx := context.Background()
	_, _, err := c.FetchMetrics(ctx, "p1")
	require.NoError(t, err)
	_, _, err = c.FetchMetrics(ctx, "p2")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&versionCalls))
}

func TestVersionBelowMinimumRejected(t *testing.T) {
	srv := newTestServer(t, "7.2", http.StatusOK, nil)
	c := newTestClient(srv.URL)

	_, _, err := c.FetchMetrics(context.Background(), "my-project")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestValidateCredentialsResolvesOrganization(t *testing.T) {
	srv := newTestServer(t, "9.9", http.StatusOK, nil)
	c := newTestClient(srv.URL)

	ok, msg, err := c.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token validated successfully", msg)
}

func TestMeasureFloatMalformedReadsZero(t *testing.T) {
	m := Measure{Metric: "bugs", Value: "not-a-number"}
	assert.Equal(t, 0.0, m.Float())
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"8.0", "8.0", 0},
		{"8.1", "8.0", 1},
		{"7.9", "8.0", -1},
		{"8.0.1", "8.0", 1},
		{"8", "8.0", 0},
		{"10.0", "9.9", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, compareVersions(tt.a, tt.b))
		})
	}
}
