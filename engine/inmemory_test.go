package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEngine_RegisterWorkflowTwiceFails(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	def := WorkflowDefinition{Name: "run", Handler: func(ctx WorkflowContext, input any) (any, error) { return nil, nil }}
	require.NoError(t, e.RegisterWorkflow(context.Background(), def))
	err := e.RegisterWorkflow(context.Background(), def)
	assert.Error(t, err)
}

func TestInMemoryEngine_StartUnregisteredWorkflowFails(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	_, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "ghost"})
	assert.Error(t, err)
}

func TestInMemoryEngine_RunsWorkflowAndReturnsResult(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	require.NoError(t, e.RegisterWorkflow(context.Background(), WorkflowDefinition{
		Name: "echo",
		Handler: func(ctx WorkflowContext, input any) (any, error) {
			return fmt.Sprintf("echo:%v", input), nil
		},
	}))

	handle, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "echo", Input: "hi"})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", result)
}

func TestInMemoryEngine_ExecuteActivitySynchronous(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	require.NoError(t, e.RegisterActivity(context.Background(), ActivityDefinition{
		Name: "double",
		Handler: func(ctx context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(context.Background(), WorkflowDefinition{
		Name: "doubler",
		Handler: func(ctx WorkflowContext, input any) (any, error) {
			var result any
			if err := ctx.ExecuteActivity(ctx.Context(), ActivityRequest{Name: "double", Input: input}, &result); err != nil {
				return nil, err
			}
			return result, nil
		},
	}))

	handle, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "doubler", Input: 21})
	require.NoError(t, err)
	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestInMemoryEngine_ExecuteActivityAsyncFanOut(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	require.NoError(t, e.RegisterActivity(context.Background(), ActivityDefinition{
		Name: "square",
		Handler: func(ctx context.Context, input any) (any, error) {
			n := input.(int)
			return n * n, nil
		},
	}))
	require.NoError(t, e.RegisterWorkflow(context.Background(), WorkflowDefinition{
		Name: "fanout",
		Handler: func(ctx WorkflowContext, input any) (any, error) {
			inputs := input.([]int)
			futures := make([]Future, len(inputs))
			for i, n := range inputs {
				f, err := ctx.ExecuteActivityAsync(ctx.Context(), ActivityRequest{Name: "square", Input: n})
				if err != nil {
					return nil, err
				}
				futures[i] = f
			}
			out := make([]any, len(futures))
			for i, f := range futures {
				v, err := f.Get(ctx.Context())
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		},
	}))

	handle, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "fanout", Input: []int{2, 3, 4}})
	require.NoError(t, err)
	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{4, 9, 16}, result)
}

func TestInMemoryEngine_CancelPropagatesToWorkflowContext(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	started := make(chan struct{})
	require.NoError(t, e.RegisterWorkflow(context.Background(), WorkflowDefinition{
		Name: "waiter",
		Handler: func(ctx WorkflowContext, input any) (any, error) {
			close(started)
			<-ctx.Context().Done()
			return nil, ctx.Context().Err()
		},
	}))

	handle, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "waiter"})
	require.NoError(t, err)

	<-started
	require.NoError(t, handle.Cancel(context.Background()))

	_, err = handle.Wait(context.Background())
	assert.Error(t, err)
}

func TestSignalChannel_ReceiveAndDeliver(t *testing.T) {
	e := NewInMemoryEngine(nil, nil, nil)
	var wctx *workflowContext
	captured := make(chan WorkflowContext, 1)
	require.NoError(t, e.RegisterWorkflow(context.Background(), WorkflowDefinition{
		Name: "signaled",
		Handler: func(ctx WorkflowContext, input any) (any, error) {
			captured <- ctx
			sc := ctx.SignalChannel("test-signal")
			v, err := sc.Receive(ctx.Context())
			if err != nil {
				return nil, err
			}
			return v, nil
		},
	}))

	handle, err := e.StartWorkflow(context.Background(), WorkflowStartRequest{ID: "r1", Workflow: "signaled"})
	require.NoError(t, err)

	select {
	case ctx := <-captured:
		wctx = ctx.(*workflowContext)
	case <-time.After(time.Second):
		t.Fatal("workflow did not start in time")
	}

	wctx.Deliver("test-signal", "payload-1")

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "payload-1", result)
}
