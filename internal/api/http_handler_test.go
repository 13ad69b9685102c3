package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/pipeline"
)

// MockRunner is a mock implementation of Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context) (*pipeline.Summary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Summary), args.Error(1)
}

// MockWarehouse is a mock implementation of QualityChecker and Pinger.
type MockWarehouse struct {
	mock.Mock
}

func (m *MockWarehouse) RunQualityChecks(ctx context.Context) (*domain.QualityReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QualityReport), args.Error(1)
}

func (m *MockWarehouse) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Helper for setting up tests with a chi router and handler
func setupTestChiServer(t *testing.T, runner Runner, wh *MockWarehouse, health *HealthReporter) *httptest.Server {
	t.Helper()
	handler := NewHTTPHandler(runner, wh, wh, health, logger.Nop())
	router := chi.NewRouter()
	router.Use(RequestLogger(logger.Nop()))
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func summary(id string, outcome pipeline.Outcome) *pipeline.Summary {
	return &pipeline.Summary{RunID: id, Outcome: outcome, State: pipeline.StateCompleted}
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestHTTPHandler_TriggerRun_Success(t *testing.T) {
	runner := new(MockRunner)
	wh := new(MockWarehouse)
	server := setupTestChiServer(t, runner, wh, nil)

	runner.On("Run", mock.Anything).Return(summary("run-1", pipeline.OutcomeCompleted), nil).Once()

	res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode)
	got := decode[pipeline.Summary](t, res)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, pipeline.OutcomeCompleted, got.Outcome)

	latest, err := http.Get(server.URL + "/api/v1/runs/latest")
	require.NoError(t, err)
	defer latest.Body.Close()
	require.Equal(t, http.StatusOK, latest.StatusCode)
	assert.Equal(t, "run-1", decode[pipeline.Summary](t, latest).RunID)

	runner.AssertExpectations(t)
}

func TestHTTPHandler_TriggerRun_FailedRun(t *testing.T) {
	runner := new(MockRunner)
	wh := new(MockWarehouse)
	wh.On("Ping", mock.Anything).Return(nil)
	health := NewHealthReporter(wh, logger.Nop())
	require.NoError(t, health.Check(context.Background()))
	server := setupTestChiServer(t, runner, wh, health)

	runner.On("Run", mock.Anything).
		Return(summary("run-2", pipeline.OutcomeFailed), errors.New("pipeline: run run-2 failed")).Once()

	res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, pipeline.OutcomeFailed, decode[pipeline.Summary](t, res).Outcome)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, servingStatus(t, health))
}

func TestHTTPHandler_TriggerRun_NoSummary(t *testing.T) {
	runner := new(MockRunner)
	server := setupTestChiServer(t, runner, new(MockWarehouse), nil)

	runner.On("Run", mock.Anything).Return(nil, errors.New("boom")).Once()

	res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "pipeline run failed", decode[ErrorResponse](t, res).Error)
}

func TestHTTPHandler_TriggerRun_RejectsOverlappingRuns(t *testing.T) {
	runner := new(MockRunner)
	server := setupTestChiServer(t, runner, new(MockWarehouse), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	runner.On("Run", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(summary("run-3", pipeline.OutcomeCompleted), nil).Once()

	firstDone := make(chan int, 1)
	go func() {
		res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
		if err != nil {
			firstDone <- 0
			return
		}
		res.Body.Close()
		firstDone <- res.StatusCode
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	close(release)
	assert.Equal(t, http.StatusCreated, <-firstDone)
	runner.AssertNumberOfCalls(t, "Run", 1)
}

func TestHTTPHandler_TriggerRun_IgnoresClientCancellation(t *testing.T) {
	runner := new(MockRunner)
	server := setupTestChiServer(t, runner, new(MockWarehouse), nil)

	runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Done() == nil && !hasDeadline
	})).Return(summary("run-4", pipeline.OutcomeCompleted), nil).Once()

	res, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	runner.AssertExpectations(t)
}

func TestHTTPHandler_LatestRun_NotFound(t *testing.T) {
	server := setupTestChiServer(t, new(MockRunner), new(MockWarehouse), nil)

	res, err := http.Get(server.URL + "/api/v1/runs/latest")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.NotEmpty(t, decode[ErrorResponse](t, res).Error)
}

func TestHTTPHandler_Quality(t *testing.T) {
	wh := new(MockWarehouse)
	server := setupTestChiServer(t, new(MockRunner), wh, nil)

	report := &domain.QualityReport{
		Orphans: domain.QualityCheck{Name: domain.CheckOrphans, Count: 1, Sample: []string{"TXN-9"}},
	}
	wh.On("RunQualityChecks", mock.Anything).Return(report, nil).Once()

	res, err := http.Get(server.URL + "/api/v1/quality")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	got := decode[domain.QualityReport](t, res)
	assert.Equal(t, int64(1), got.Orphans.Count)
	assert.Equal(t, []string{"TXN-9"}, got.Orphans.Sample)
	wh.AssertExpectations(t)
}

func TestHTTPHandler_Quality_StoreError(t *testing.T) {
	wh := new(MockWarehouse)
	server := setupTestChiServer(t, new(MockRunner), wh, nil)

	wh.On("RunQualityChecks", mock.Anything).Return(nil, fmt.Errorf("storage: connection refused")).Once()

	res, err := http.Get(server.URL + "/api/v1/quality")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "failed to run quality checks", decode[ErrorResponse](t, res).Error)
}

func TestHTTPHandler_Healthz(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "warehouse down", pingErr: errors.New("dial tcp: connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := new(MockWarehouse)
			wh.On("Ping", mock.Anything).Return(tt.pingErr).Once()
			server := setupTestChiServer(t, new(MockRunner), wh, nil)

			res, err := http.Get(server.URL + "/api/v1/healthz")
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tt.wantCode, res.StatusCode)
			got := decode[HealthResponse](t, res)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantStatus, got.Database)
			wh.AssertExpectations(t)
		})
	}
}
