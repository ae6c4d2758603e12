package graphqlapp

import (
	"context"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/errors"
	"golang.org/x/sync/semaphore"
)

// Executor runs a GraphQL request against a schema. Implementations return
// only once every resolver of the request has settled.
type Executor interface {
	Execute(ctx context.Context, schema *graphql.Schema, req *Request) *graphql.Response
}

// SyncExecutor runs the request on the calling goroutine.
type SyncExecutor struct{}

// Execute implements Executor.
func (SyncExecutor) Execute(ctx context.Context, schema *graphql.Schema, req *Request) *graphql.Response {
	done := trackExecution("sync")
	resp := schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
	done(resp)
	return resp
}

// AsyncExecutor hands the request to a separate goroutine and suspends the
// caller until it completes. The number of requests executing at once can be
// bounded, in which case callers wait for a slot.
type AsyncExecutor struct {
	slots *semaphore.Weighted
}

// NewAsyncExecutor returns an AsyncExecutor running at most maxConcurrent
// requests at once. A value <= 0 means no limit.
func NewAsyncExecutor(maxConcurrent int64) *AsyncExecutor {
	e := &AsyncExecutor{}
	if maxConcurrent > 0 {
		e.slots = semaphore.NewWeighted(maxConcurrent)
	}
	return e
}

// Execute implements Executor.
func (e *AsyncExecutor) Execute(ctx context.Context, schema *graphql.Schema, req *Request) *graphql.Response {
	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			promExecutionCounter.WithLabelValues("async", "rejected").Inc()
			return &graphql.Response{
				Errors: []*errors.QueryError{errors.Errorf("execution not started: %s", err)},
			}
		}
	}

	result := make(chan *graphql.Response, 1)
	go func() {
		if e.slots != nil {
			defer e.slots.Release(1)
		}
		done := trackExecution("async")
		resp := schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
		done(resp)
		result <- resp
	}()

	return <-result
}

func trackExecution(executor string) func(*graphql.Response) {
	start := time.Now()
	promExecutionsInFlight.WithLabelValues(executor).Inc()
	return func(resp *graphql.Response) {
		promExecutionsInFlight.WithLabelValues(executor).Dec()
		promExecutionDurations.WithLabelValues(executor).Observe(time.Since(start).Seconds())
		outcome := "success"
		if len(resp.Errors) > 0 {
			outcome = "error"
		}
		promExecutionCounter.WithLabelValues(executor, outcome).Inc()
	}
}
