package measure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/measure/mocks"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

const testAssertion = "inbound-assertion-jwt"

func testConfig() Config {
	return Config{
		Workers:    2,
		Iterations: 3,
		Entity:     "EmployeesV2",
		Timeout:    5 * time.Second,
		Assertion:  testAssertion,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantErr: "workers must be at least 1",
		},
		{
			name:    "no iterations",
			mutate:  func(c *Config) { c.Iterations = -1 },
			wantErr: "iterations must be at least 1",
		},
		{
			name:    "missing entity",
			mutate:  func(c *Config) { c.Entity = "" },
			wantErr: "entity is required",
		},
		{
			name:    "missing timeout",
			mutate:  func(c *Config) { c.Timeout = 0 },
			wantErr: "timeout must be positive",
		},
		{
			name:    "missing assertion",
			mutate:  func(c *Config) { c.Assertion = "" },
			wantErr: "assertion is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestRunAggregates(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockReader(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "$top=1").
		DoAndReturn(func(ctx context.Context, _, _ string) (json.RawMessage, error) {
			assertion, ok := auth.AssertionFromContext(ctx)
			if assert.True(t, ok) {
				assert.Equal(t, testAssertion, assertion.Raw)
			}
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "measurement requests must carry a deadline")
			return json.RawMessage(`{"value":[]}`), nil
		}).
		Times(6)

	runner, err := NewRunner(proxy)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Query = "$top=1"
	report, samples, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, report)

	_, err = uuid.Parse(report.RunID)
	assert.NoError(t, err, "run ID must be a UUID")
	assert.Equal(t, "EmployeesV2", report.Entity)
	assert.Equal(t, 2, report.Workers)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 6, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Positive(t, report.Elapsed)
	assert.Positive(t, report.RequestsPerSecond)

	assert.LessOrEqual(t, report.MinLatency, report.P50Latency)
	assert.LessOrEqual(t, report.P50Latency, report.P95Latency)
	assert.LessOrEqual(t, report.P95Latency, report.MaxLatency)
	assert.Positive(t, report.AvgLatency)

	require.Len(t, samples, 6)
	seen := map[[2]int]bool{}
	for _, s := range samples {
		assert.True(t, s.OK())
		assert.Equal(t, 200, s.Status)
		seen[[2]int{s.Worker, s.Seq}] = true
	}
	assert.Len(t, seen, 6, "every worker/seq pair must appear exactly once")
}

func TestRunRecordsFailureStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockReader(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "").
		DoAndReturn(func(context.Context, string, string) (json.RawMessage, error) {
			switch calls.Add(1) {
			case 1:
				return json.RawMessage(`{"value":[]}`), nil
			case 2:
				return nil, &odata.NetworkError{Status: 429, Body: "throttled"}
			default:
				return nil, assert.AnError
			}
		}).
		Times(3)

	runner, err := NewRunner(proxy)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Workers = 1
	report, samples, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)

	require.Len(t, samples, 3)
	assert.Equal(t, 200, samples[0].Status)
	assert.Empty(t, samples[0].Err)
	assert.Equal(t, 429, samples[1].Status)
	assert.Contains(t, samples[1].Err, "429")
	assert.Equal(t, 0, samples[2].Status)
	assert.Contains(t, samples[2].Err, assert.AnError.Error())
}

func TestRunWorkersRunConcurrently(t *testing.T) {
	t.Parallel()

	// Both workers must be in flight at once for this barrier to open.
	var barrier sync.WaitGroup
	barrier.Add(2)

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockReader(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "").
		DoAndReturn(func(context.Context, string, string) (json.RawMessage, error) {
			barrier.Done()
			barrier.Wait()
			return json.RawMessage(`{"value":[]}`), nil
		}).
		Times(2)

	runner, err := NewRunner(proxy)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Iterations = 1
	report, _, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
}

func TestRunAppliesPerRequestTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockReader(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "").
		DoAndReturn(func(ctx context.Context, _, _ string) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		Times(1)

	runner, err := NewRunner(proxy)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Workers = 1
	cfg.Iterations = 1
	cfg.Timeout = 30 * time.Millisecond
	report, samples, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err, "a timed-out request is a failed sample, not a run failure")

	assert.Equal(t, 1, report.Failed)
	require.Len(t, samples, 1)
	assert.Equal(t, 0, samples[0].Status)
	assert.Contains(t, samples[0].Err, "context deadline exceeded")
	assert.GreaterOrEqual(t, samples[0].Latency, 25*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	proxy := mocks.NewMockReader(ctrl)
	proxy.EXPECT().
		Read(gomock.Any(), "EmployeesV2", "").
		DoAndReturn(func(ctx context.Context, _, _ string) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		AnyTimes()

	runner, err := NewRunner(proxy)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	cfg := testConfig()
	cfg.Iterations = 50
	report, samples, err := runner.Run(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)

	// Each worker was blocked in its first request when the run was canceled.
	require.Len(t, samples, 2)
	for _, s := range samples {
		assert.False(t, s.OK())
	}
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(nil)
	assert.ErrorContains(t, err, "proxy is required")
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	ms := func(values ...int) []time.Duration {
		out := make([]time.Duration, len(values))
		for i, v := range values {
			out[i] = time.Duration(v) * time.Millisecond
		}
		return out
	}

	tests := []struct {
		name   string
		sorted []time.Duration
		q      float64
		want   time.Duration
	}{
		{name: "empty", sorted: nil, q: 0.5, want: 0},
		{name: "single", sorted: ms(7), q: 0.95, want: 7 * time.Millisecond},
		{name: "median of even count", sorted: ms(1, 2, 3, 4), q: 0.5, want: 2 * time.Millisecond},
		{name: "median of odd count", sorted: ms(1, 2, 3, 4, 5), q: 0.5, want: 3 * time.Millisecond},
		{name: "p95 of four", sorted: ms(1, 2, 3, 4), q: 0.95, want: 4 * time.Millisecond},
		{name: "p95 of twenty", sorted: ms(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20), q: 0.95, want: 19 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, percentile(tt.sorted, tt.q))
		})
	}
}
