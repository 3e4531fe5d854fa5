package health

import (
	"context"
	"time"

	"github.com/cuemby/hive/pkg/types"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Status converts the result to a resource status
func (r Result) Status() types.Status {
	if r.Healthy {
		return types.StatusUp
	}
	return types.StatusDown
}

// Checker probes what a resource manages
type Checker interface {
	Check(ctx context.Context) Result
}

// All runs the checkers in order and returns the first unhealthy result, or
// the last result when all are healthy
func All(ctx context.Context, checkers ...Checker) Result {
	result := Result{Healthy: true, CheckedAt: time.Now()}
	for _, c := range checkers {
		result = c.Check(ctx)
		if !result.Healthy {
			return result
		}
	}
	return result
}

func failed(start time.Time, message string) Result {
	return Result{
		Healthy:   false,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func passed(start time.Time, message string) Result {
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
