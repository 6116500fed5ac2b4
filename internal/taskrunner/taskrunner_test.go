package taskrunner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/batch"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// stubEngine records which tasks ran and fails the ones it is told to
type stubEngine struct {
	mu       sync.Mutex
	ran      []string
	failFor  map[string]error
	maxInUse int
	inUse    int
}

func (s *stubEngine) Run(ctx context.Context, task *config.Task) (*batch.Batch, error) {
	s.mu.Lock()
	s.inUse++
	if s.inUse > s.maxInUse {
		s.maxInUse = s.inUse
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inUse--
	s.ran = append(s.ran, task.ID)
	s.mu.Unlock()

	if err, ok := s.failFor[task.ID]; ok {
		return nil, err
	}
	b := batch.Open(task.ID, time.Now(), time.Now(), decimal.Zero)
	return b, nil
}

func tasks(ids ...string) []config.Task {
	out := make([]config.Task, len(ids))
	for i, id := range ids {
		out[i] = config.Task{ID: id}
	}
	return out
}

func TestRunner_RunAll(t *testing.T) {
	engine := &stubEngine{failFor: map[string]error{"bad-task": errors.New("boom")}}
	runner, err := New(engine, &config.WorkerPoolConfig{Size: 2}, newTestLogger())
	require.NoError(t, err)
	defer runner.Shutdown()

	results := runner.RunAll(context.Background(), tasks("t1", "bad-task", "t3"))

	require.Len(t, results, 3)

	// Result order follows task order regardless of completion order.
	assert.Equal(t, "t1", results[0].Task.ID)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "t1", results[0].Batch.TaskID)

	assert.Equal(t, "bad-task", results[1].Task.ID)
	require.Error(t, results[1].Err)
	assert.Nil(t, results[1].Batch)

	require.NoError(t, results[2].Err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.ElementsMatch(t, []string{"t1", "bad-task", "t3"}, engine.ran)
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	engine := &stubEngine{}
	runner, err := New(engine, &config.WorkerPoolConfig{Size: 2}, newTestLogger())
	require.NoError(t, err)
	defer runner.Shutdown()

	runner.RunAll(context.Background(), tasks("t1", "t2", "t3", "t4", "t5"))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.LessOrEqual(t, engine.maxInUse, 2)
	assert.Len(t, engine.ran, 5)
}
