package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gobolt/pkg/bolt"
)

func fastConfig() Config {
	return Config{InitialDelay: time.Millisecond, Multiplier: 2, JitterFactor: 0, MaxElapsed: 50 * time.Millisecond}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), fastConfig(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesRetriableErrors(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), fastConfig(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, bolt.NewServiceUnavailable("unreachable")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRunDoesNotRetryNonRetriableErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	_, err := Run(context.Background(), fastConfig(), func(ctx context.Context) (any, error) {
		calls++
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRunDoesNotRetryTerminatedTransaction(t *testing.T) {
	calls := 0
	terminated := &bolt.Neo4jError{Code: "Neo.TransientError.Transaction.Terminated"}
	_, err := Run(context.Background(), fastConfig(), func(ctx context.Context) (any, error) {
		calls++
		return nil, terminated
	})
	assert.Same(t, terminated, err)
	assert.Equal(t, 1, calls)
}

func TestRunRespectsMaxElapsed(t *testing.T) {
	cfg := Config{InitialDelay: 2 * time.Millisecond, Multiplier: 2, JitterFactor: 0, MaxElapsed: 10 * time.Millisecond}
	calls := 0
	_, err := Run(context.Background(), cfg, func(ctx context.Context) (any, error) {
		calls++
		return nil, bolt.NewServiceUnavailable("still down")
	})
	assert.Error(t, err)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Config{InitialDelay: time.Second, Multiplier: 2, MaxElapsed: time.Minute}, func(ctx context.Context) (any, error) {
		return nil, bolt.NewServiceUnavailable("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
