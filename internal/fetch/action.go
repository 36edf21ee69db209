package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitekit_datastore/internal/metrics"
	"sitekit_datastore/src/logger"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
)

// ErrPrecondition marks programmer errors detected before any network call
var ErrPrecondition = errors.New("precondition failed")

// Preconditionf builds an error wrapping ErrPrecondition
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Spec describes one named async operation.
// A is what callers pass, P is what reaches the network.
type Spec[A, P, R any] struct {
	Name string
	// Params maps arguments to request params. An error here is a
	// precondition violation and is returned synchronously.
	Params func(args A) (P, error)
	Call   func(ctx context.Context, params P) (R, error)
	// Receive applies a successful response to the owning store's state
	Receive func(response R, args A)
}

// Result is what a fetch produced. Err holds network and server failures.
type Result[R any] struct {
	Response R
	Err      error
	// Cached is set when Call reported a cache hit through MarkCached
	Cached bool
}

type cachedFlag struct{}

// MarkCached records that the running Call was answered from a cache
// rather than the network. Outside a Call it does nothing.
func MarkCached(ctx context.Context) {
	if hit, ok := ctx.Value(cachedFlag{}).(*bool); ok {
		*hit = true
	}
}

type task[A, P, R any] struct {
	args    A
	params  P
	key     string
	started time.Time
	result  Result[R]
}

// Action runs the start, call and finish steps of a Spec as one task,
// recording status as it goes.
type Action[A, P, R any] struct {
	spec     Spec[A, P, R]
	status   *Status
	metrics  *metrics.Collectors
	runnable compose.Runnable[*task[A, P, R], *task[A, P, R]]
	log      zerolog.Logger
}

// NewAction compiles spec into an Action that records into status.
// collectors may be nil.
func NewAction[A, P, R any](ctx context.Context, spec Spec[A, P, R], status *Status, collectors *metrics.Collectors) (*Action[A, P, R], error) {
	if spec.Name == "" {
		return nil, errors.New("fetch spec requires a name")
	}
	if spec.Call == nil {
		return nil, fmt.Errorf("fetch spec %s requires a Call", spec.Name)
	}
	if spec.Params == nil {
		return nil, fmt.Errorf("fetch spec %s requires a Params mapping", spec.Name)
	}

	a := &Action[A, P, R]{
		spec:    spec,
		status:  status,
		metrics: collectors,
		log:     logger.With("fetch").With().Str("op", spec.Name).Logger(),
	}

	graph := compose.NewGraph[*task[A, P, R], *task[A, P, R]]()
	nodes := []struct {
		name string
		fn   func(context.Context, *task[A, P, R]) (*task[A, P, R], error)
	}{
		{"begin", a.start},
		{"call", a.call},
		{"finish", a.finish},
	}
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("failed to add %s node: %w", n.name, err)
		}
	}
	edges := [][2]string{
		{compose.START, "begin"},
		{"begin", "call"},
		{"call", "finish"},
		{"finish", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("failed to connect %s -> %s: %w", e[0], e[1], err)
		}
	}

	runnable, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile fetch %s: %w", spec.Name, err)
	}
	a.runnable = runnable
	return a, nil
}

// Name returns the operation name status is recorded under
func (a *Action[A, P, R]) Name() string {
	return a.spec.Name
}

// Run validates args, then performs the fetch. The returned error is
// non-nil only for precondition violations; network and server
// failures are in Result.Err and in Status.ErrorFor.
func (a *Action[A, P, R]) Run(ctx context.Context, args A) (Result[R], error) {
	params, err := a.spec.Params(args)
	if err != nil {
		if !errors.Is(err, ErrPrecondition) {
			err = fmt.Errorf("%w: %s: %v", ErrPrecondition, a.spec.Name, err)
		}
		return Result[R]{}, err
	}
	key, err := Key(args)
	if err != nil {
		return Result[R]{}, fmt.Errorf("%w: %s: %v", ErrPrecondition, a.spec.Name, err)
	}

	out, err := a.runnable.Invoke(ctx, &task[A, P, R]{args: args, params: params, key: key})
	if err != nil {
		// The task graph itself failed; keep the status consistent.
		a.status.finish(a.spec.Name, key, err)
		return Result[R]{Err: err}, nil
	}
	return out.result, nil
}

func (a *Action[A, P, R]) start(_ context.Context, t *task[A, P, R]) (*task[A, P, R], error) {
	a.status.start(a.spec.Name, t.key)
	if a.metrics != nil {
		a.metrics.FetchInFlight.WithLabelValues(a.spec.Name).Inc()
	}
	t.started = time.Now()
	a.log.Debug().Str("key", t.key).Msg("fetch started")
	return t, nil
}

func (a *Action[A, P, R]) call(ctx context.Context, t *task[A, P, R]) (*task[A, P, R], error) {
	// Failures are data from here on, never a graph error.
	ctx = context.WithValue(ctx, cachedFlag{}, &t.result.Cached)
	t.result.Response, t.result.Err = a.spec.Call(ctx, t.params)
	return t, nil
}

func (a *Action[A, P, R]) finish(_ context.Context, t *task[A, P, R]) (*task[A, P, R], error) {
	outcome := metrics.OutcomeSuccess
	if t.result.Err == nil {
		if t.result.Cached {
			outcome = metrics.OutcomeCached
		}
		if a.spec.Receive != nil {
			a.spec.Receive(t.result.Response, t.args)
		}
	} else {
		outcome = metrics.OutcomeError
		a.log.Warn().Err(t.result.Err).Str("key", t.key).Msg("fetch failed")
	}
	a.status.finish(a.spec.Name, t.key, t.result.Err)

	if a.metrics != nil {
		a.metrics.FetchInFlight.WithLabelValues(a.spec.Name).Dec()
		a.metrics.FetchTotal.WithLabelValues(a.spec.Name, outcome).Inc()
		a.metrics.FetchDuration.WithLabelValues(a.spec.Name).Observe(time.Since(t.started).Seconds())
	}
	return t, nil
}
